package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csm2go/internal/pkg/csm2go/audio"
)

type stubEngine struct{ cfg EngineConfig }

func (s *stubEngine) Generate(ctx context.Context, req GenerateRequest) (*audio.Audio, error) {
	return audio.NewAudio([]float32{0}), nil
}

func (s *stubEngine) Info() EngineInfo { return EngineInfo{Name: s.cfg.Backend, SampleRate: audio.SampleRate} }

func (s *stubEngine) Close() error { return nil }

func TestRegistry(t *testing.T) {
	Register("registry-test", func(cfg EngineConfig) (Engine, error) {
		return &stubEngine{cfg: cfg}, nil
	})

	assert.True(t, IsRegistered("registry-test"))
	assert.Contains(t, Backends(), "registry-test")

	eng, err := New("registry-test", EngineConfig{ModelPath: "m"})
	require.NoError(t, err)
	assert.Equal(t, "registry-test", eng.Info().Name)

	_, err = New("does-not-exist", EngineConfig{})
	require.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), `"does-not-exist"`)
	assert.Contains(t, err.Error(), "registry-test")

	assert.PanicsWithValue(t, "engine: backend registry-test already registered", func() {
		Register("registry-test", func(cfg EngineConfig) (Engine, error) { return nil, nil })
	})
	assert.PanicsWithValue(t, "engine: nil factory for backend nil-factory", func() { Register("nil-factory", nil) })
}
