package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/engine"
)

const (
	DefaultMaxUtteranceMs = 15_000
	DefaultTemperature    = 0.85
	DefaultTopK           = 50
	DefaultSilenceMs      = 500
)

var tracer = otel.Tracer("csm2go/conversation")

// References holds the fixed reference segment of speaker 0 and speaker 1.
type References [2]engine.Segment

type Options struct {
	MaxUtteranceMs int
	Temperature    float32
	TopK           int
	SilenceMs      int
	SampleRate     int
	Observer       Observer
}

// Observer receives progress for each turn. Calls are made from the
// assembling goroutine.
type Observer interface {
	TurnStarted(turn, total int, u Utterance)
	TurnFinished(turn, total int, u Utterance, generated *audio.Audio, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TurnStarted(int, int, Utterance) {}

func (nopObserver) TurnFinished(int, int, Utterance, *audio.Audio, time.Duration) {}

// Assembler drives one conversation at a time through an engine, feeding
// every generated turn back as context for the next.
type Assembler struct {
	engine engine.Engine
	opts   Options
}

func NewAssembler(eng engine.Engine, opts Options) *Assembler {
	if opts.MaxUtteranceMs <= 0 {
		opts.MaxUtteranceMs = DefaultMaxUtteranceMs
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SilenceMs < 0 {
		opts.SilenceMs = 0
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = eng.Info().SampleRate
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Assembler{engine: eng, opts: opts}
}

// run is the call-scoped state of one Assemble.
type run struct {
	refs      References
	generated []engine.Segment
}

// context returns the references followed by every generated segment in
// generation order. The slice is fresh so the engine cannot alter the log.
func (r *run) context() []engine.Segment {
	ctx := make([]engine.Segment, 0, len(r.refs)+len(r.generated))
	ctx = append(ctx, r.refs[:]...)
	return append(ctx, r.generated...)
}

func (r *run) waveforms() []*audio.Audio {
	out := make([]*audio.Audio, len(r.generated))
	for i, seg := range r.generated {
		out[i] = seg.Audio
	}
	return out
}

// Assemble synthesizes every turn in order and joins the results with
// SilenceMs of silence between consecutive turns. The first failing turn
// aborts the run and no partial audio is returned. Cancellation of ctx is
// observed between turns; a turn already handed to the engine runs to
// completion.
func (a *Assembler) Assemble(ctx context.Context, turns []Utterance, refs References) (*audio.Audio, error) {
	if len(turns) == 0 {
		return nil, ErrEmptyInput
	}
	if err := a.checkReferences(refs); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "conversation.assemble", trace.WithAttributes(
		attribute.Int("turns", len(turns)),
		attribute.Int("sample_rate", a.opts.SampleRate),
	))
	defer span.End()

	logger := log.Ctx(ctx)
	r := &run{refs: refs}
	total := len(turns)

	for i, u := range turns {
		turn := i + 1
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("conversation canceled before turn %d: %w", turn, err)
			fail(span, err)
			return nil, err
		}

		a.opts.Observer.TurnStarted(turn, total, u)
		start := time.Now()

		generated, err := a.generate(ctx, r, turn, u)
		if err != nil {
			fail(span, err)
			return nil, err
		}

		elapsed := time.Since(start)
		r.generated = append(r.generated, engine.Segment{
			Text:    u.Text,
			Speaker: u.Speaker,
			Audio:   generated,
		})

		logger.Debug().
			Int("turn", turn).
			Int("speaker", u.Speaker).
			Dur("elapsed", elapsed).
			Float64("duration_sec", generated.Duration()).
			Msg("Turn generated")
		a.opts.Observer.TurnFinished(turn, total, u, generated, elapsed)
	}

	silence := audio.Silence(a.opts.SilenceMs, a.opts.SampleRate)
	out, err := audio.Concat(r.waveforms(), silence)
	if err != nil {
		err = fmt.Errorf("failed to concatenate turns: %w", err)
		fail(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Float64("duration_sec", out.Duration()))
	return out, nil
}

func (a *Assembler) generate(ctx context.Context, r *run, turn int, u Utterance) (*audio.Audio, error) {
	history := r.context()

	ctx, span := tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.Int("turn", turn),
		attribute.Int("speaker", u.Speaker),
		attribute.Int("context_segments", len(history)),
	))
	defer span.End()

	generated, err := a.engine.Generate(context.WithoutCancel(ctx), engine.GenerateRequest{
		Text:             u.Text,
		Speaker:          u.Speaker,
		Context:          history,
		MaxAudioLengthMs: a.opts.MaxUtteranceMs,
		Temperature:      a.opts.Temperature,
		TopK:             a.opts.TopK,
	})
	if err == nil && generated.Len() == 0 {
		err = ErrEmptyAudio
	}
	if err != nil {
		err = &SynthesisError{Turn: turn, Text: u.Text, Err: err}
		fail(span, err)
		return nil, err
	}

	if generated.SampleRate != a.opts.SampleRate {
		err := &SampleRateError{Turn: turn, Speaker: u.Speaker, Want: a.opts.SampleRate, Got: generated.SampleRate}
		fail(span, err)
		return nil, err
	}

	return generated, nil
}

func (a *Assembler) checkReferences(refs References) error {
	for speaker, ref := range refs {
		if ref.Audio.Len() == 0 {
			return &MissingReferenceError{Speaker: speaker, Missing: "audio"}
		}
		if strings.TrimSpace(ref.Text) == "" {
			return &MissingReferenceError{Speaker: speaker, Missing: "transcript"}
		}
		if ref.Audio.SampleRate != a.opts.SampleRate {
			return &SampleRateError{Speaker: speaker, Want: a.opts.SampleRate, Got: ref.Audio.SampleRate}
		}
	}
	return nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
