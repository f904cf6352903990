package engine

import (
	"context"

	"csm2go/internal/pkg/csm2go/audio"
)

// Segment is one (text, speaker, audio) unit of conversational context.
type Segment struct {
	Text    string
	Speaker int
	Audio   *audio.Audio
}

type GenerateRequest struct {
	Text             string
	Speaker          int
	Context          []Segment
	MaxAudioLengthMs int
	Temperature      float32
	TopK             int
}

// Engine generates one utterance conditioned on prior context. Generate may
// block for seconds; callers own retries.
type Engine interface {
	Generate(ctx context.Context, req GenerateRequest) (*audio.Audio, error)
	Info() EngineInfo
	Close() error
}

type EngineInfo struct {
	Name       string
	Device     string
	SampleRate int
}

type EngineConfig struct {
	ModelPath  string
	ServerURL  string
	Device     string
	SampleRate int
	Backend    string
}
