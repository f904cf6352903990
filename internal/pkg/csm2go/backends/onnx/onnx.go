package onnx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/engine"
)

const backendName = "onnx"

func init() {
	engine.Register(backendName, NewEngine)
}

// Engine runs a local ONNX export of the conversational model. Generation
// is serialised because the sessions and the sampler are shared.
type Engine struct {
	mu        sync.Mutex
	pipeline  *Pipeline
	tokenizer *Tokenizer
	modelDir  string
}

func NewEngine(cfg engine.EngineConfig) (engine.Engine, error) {
	modelDir, err := resolveModelDir(cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	tokenizer, err := NewTokenizer(filepath.Join(modelDir, "vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}

	pipeline, err := NewPipeline(modelDir, cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	if cfg.SampleRate != 0 && cfg.SampleRate != pipeline.cfg.SampleRate {
		pipeline.Close()
		return nil, fmt.Errorf("configured sample rate %d does not match model rate %d", cfg.SampleRate, pipeline.cfg.SampleRate)
	}

	log.Info().
		Str("model_dir", modelDir).
		Str("device", pipeline.Device()).
		Int("vocab", tokenizer.VocabSize()).
		Msg("Loaded ONNX model")

	return &Engine{
		pipeline:  pipeline,
		tokenizer: tokenizer,
		modelDir:  modelDir,
	}, nil
}

func resolveModelDir(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("model path is required for the %s backend", backendName)
	}
	if strings.HasSuffix(path, ".onnx") {
		path = filepath.Dir(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat model dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("model path %s is not a directory", path)
	}
	return path, nil
}

func (e *Engine) Generate(ctx context.Context, req engine.GenerateRequest) (*audio.Audio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix, err := e.buildPrefix(req)
	if err != nil {
		return nil, err
	}

	maxFrames := e.pipeline.cfg.maxFrames(req.MaxAudioLengthMs)
	log.Ctx(ctx).Debug().
		Int("context", len(req.Context)).
		Int("prefix_len", len(prefix)/e.pipeline.cfg.HiddenDim).
		Int("max_frames", maxFrames).
		Msg("Generating utterance")

	// Latents are continuous, so top-k has no effect on this backend.
	samples, err := e.pipeline.Generate(prefix, maxFrames, req.Temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio: %w", err)
	}

	return audio.NewAudioWithSampleRate(samples, e.pipeline.cfg.SampleRate), nil
}

// buildPrefix lays out each context segment as its text embeddings followed
// by its audio embeddings, then the target turn's text.
func (e *Engine) buildPrefix(req engine.GenerateRequest) ([]float32, error) {
	var prefix []float32

	for i, seg := range req.Context {
		text, err := e.pipeline.EmbedTokens(e.tokenizer.EncodeTurn(seg.Speaker, seg.Text))
		if err != nil {
			return nil, fmt.Errorf("failed to embed context %d text: %w", i, err)
		}
		prefix = append(prefix, text...)

		if seg.Audio.Len() == 0 {
			continue
		}
		if seg.Audio.SampleRate != e.pipeline.cfg.SampleRate {
			return nil, fmt.Errorf("context %d has sample rate %d, model expects %d", i, seg.Audio.SampleRate, e.pipeline.cfg.SampleRate)
		}
		embeds, err := e.pipeline.EncodeAudio(seg.Audio.Samples)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context %d audio: %w", i, err)
		}
		prefix = append(prefix, embeds...)
	}

	text, err := e.pipeline.EmbedTokens(e.tokenizer.EncodeTurn(req.Speaker, req.Text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return append(prefix, text...), nil
}

func (e *Engine) Info() engine.EngineInfo {
	return engine.EngineInfo{
		Name:       backendName,
		Device:     e.pipeline.Device(),
		SampleRate: e.pipeline.cfg.SampleRate,
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipeline.Close()
}
