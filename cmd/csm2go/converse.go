package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/config"
	"csm2go/internal/pkg/csm2go/conversation"
	"csm2go/internal/pkg/csm2go/engine"
	"csm2go/internal/pkg/csm2go/voices"
)

// cliObserver logs one progress line per turn.
type cliObserver struct {
	ctx context.Context
}

func (o cliObserver) TurnStarted(turn, total int, u conversation.Utterance) {
	log.Ctx(o.ctx).Info().Msg(progressLine(turn, total, u))
}

// progressLine numbers speakers from 1 to match the transcript markers.
func progressLine(turn, total int, u conversation.Utterance) string {
	return fmt.Sprintf("[%d/%d] Speaker %d: %s", turn, total, u.Speaker+1, u.Text)
}

func (o cliObserver) TurnFinished(turn, total int, u conversation.Utterance, generated *audio.Audio, elapsed time.Duration) {
	log.Ctx(o.ctx).Debug().
		Int("turn", turn).
		Dur("elapsed", elapsed).
		Float64("duration_sec", generated.Duration()).
		Msg("Turn generated")
}

func converseCmd() *cobra.Command {
	var (
		sources [2]voices.Source
		file    string
	)

	cmd := &cobra.Command{
		Use:   "converse",
		Short: "Synthesize a two-speaker conversation from a transcript",
		Long: "Reads a transcript with one line per turn. Even lines are spoken by voice A and\n" +
			"odd lines by voice B; blank lines keep their place in the alternation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			transcript, err := config.ReadText(file, nil, cmd.InOrStdin())
			if err != nil {
				return err
			}

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			return runConversation(ctx, eng, cfg, sources, transcript)
		},
	}

	cmd.Flags().StringVar(&sources[0].Voice, "voice-a", "", "Library voice for speaker A")
	cmd.Flags().StringVar(&sources[1].Voice, "voice-b", "", "Library voice for speaker B")
	cmd.Flags().StringVar(&sources[0].AudioPath, "audio-a", "", "Reference audio for speaker A")
	cmd.Flags().StringVar(&sources[0].Transcript, "text-a", "", "Transcript of the speaker A reference")
	cmd.Flags().StringVar(&sources[1].AudioPath, "audio-b", "", "Reference audio for speaker B")
	cmd.Flags().StringVar(&sources[1].Transcript, "text-b", "", "Transcript of the speaker B reference")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Transcript file ('-' for stdin)")
	cmd.Flags().Int("silence-ms", conversation.DefaultSilenceMs, "Silence between turns in ms")
	config.RegisterGenerationFlags(cmd.Flags(), conversation.DefaultMaxUtteranceMs)
	return cmd
}

func runConversation(ctx context.Context, eng engine.Engine, cfg *config.Config, sources [2]voices.Source, transcript string) error {
	turns := conversation.Parse(transcript)
	if len(turns) == 0 {
		return conversation.ErrEmptyInput
	}

	lib, err := newLibrary(cfg, eng.Info().SampleRate)
	if err != nil {
		return err
	}
	refs, err := lib.LoadPair(ctx, sources)
	if err != nil {
		return err
	}

	assembler := conversation.NewAssembler(eng, conversation.Options{
		MaxUtteranceMs: cfg.MaxUtteranceMs,
		Temperature:    cfg.Temperature,
		TopK:           cfg.TopK,
		SilenceMs:      cfg.SilenceMs,
		Observer:       cliObserver{ctx: ctx},
	})

	log.Ctx(ctx).Info().Int("turns", len(turns)).Msg("Generating conversation...")
	startTime := time.Now()

	result, err := assembler.Assemble(ctx, turns, refs)
	if err != nil {
		return fmt.Errorf("failed to generate conversation: %w", err)
	}

	log.Ctx(ctx).Info().
		Dur("elapsed", time.Since(startTime)).
		Float64("duration_sec", result.Duration()).
		Msg("Conversation generated")

	if err := result.SaveWAV(cfg.Output); err != nil {
		return fmt.Errorf("failed to save audio: %w", err)
	}
	log.Ctx(ctx).Info().Str("output", cfg.Output).Msg("Audio saved successfully")
	return nil
}
