package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"
)

const modelConfigFile = "config.json"

// ModelConfig describes the exported graphs. Missing fields take the
// defaults of the 1B export.
type ModelConfig struct {
	HiddenDim    int     `json:"hidden_dim"`
	LatentDim    int     `json:"latent_dim"`
	FrameMs      int     `json:"frame_ms"`
	SampleRate   int     `json:"sample_rate"`
	FlowSteps    int     `json:"flow_steps"`
	EOSThreshold float32 `json:"eos_threshold"`
}

func defaultModelConfig() ModelConfig {
	return ModelConfig{
		HiddenDim:    2048,
		LatentDim:    32,
		FrameMs:      80,
		SampleRate:   24000,
		FlowSteps:    16,
		EOSThreshold: 0.5,
	}
}

func loadModelConfig(modelDir string) (ModelConfig, error) {
	cfg := defaultModelConfig()

	data, err := os.ReadFile(filepath.Join(modelDir, modelConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read model config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse model config: %w", err)
	}
	if cfg.HiddenDim <= 0 || cfg.LatentDim <= 0 || cfg.FrameMs <= 0 || cfg.SampleRate <= 0 || cfg.FlowSteps <= 0 {
		return cfg, fmt.Errorf("invalid model config in %s", modelDir)
	}
	return cfg, nil
}

// maxFrames is the number of decoder frames that fit in maxMs, at least one.
func (c ModelConfig) maxFrames(maxMs int) int {
	n := maxMs / c.FrameMs
	if n < 1 {
		n = 1
	}
	return n
}

type Pipeline struct {
	cfg          ModelConfig
	device       string
	textEncoder  *ort.DynamicAdvancedSession
	audioEncoder *ort.DynamicAdvancedSession
	backbone     *ort.DynamicAdvancedSession
	flow         *ort.DynamicAdvancedSession
	decoder      *ort.DynamicAdvancedSession
	rng          *rand.Rand
	initialized  bool
}

func NewPipeline(modelDir, device string) (*Pipeline, error) {
	cfg, err := loadModelConfig(modelDir)
	if err != nil {
		return nil, err
	}

	ort.SetSharedLibraryPath(getOnnxRuntimeLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	p := &Pipeline{
		cfg:         cfg,
		rng:         rand.New(rand.NewPCG(42, 0)),
		initialized: true,
	}

	prefs, err := devicePreference(device)
	if err != nil {
		p.Close()
		return nil, err
	}
	chosen, err := openOnDevice(prefs, func(candidate string) error {
		return p.loadSessions(modelDir, candidate)
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.device = chosen

	return p, nil
}

// loadSessions creates every graph's session on device. On failure no
// session is left open.
func (p *Pipeline) loadSessions(modelDir, device string) error {
	opts, err := newSessionOptions(device)
	if err != nil {
		return err
	}
	defer opts.Destroy()

	sessions := []struct {
		target  **ort.DynamicAdvancedSession
		file    string
		inputs  []string
		outputs []string
	}{
		{&p.textEncoder, "text_encoder.onnx", []string{"token_ids"}, []string{"embeddings"}},
		{&p.audioEncoder, "audio_encoder.onnx", []string{"audio"}, []string{"embeddings"}},
		{&p.backbone, "backbone.onnx", []string{"prefix", "frames"}, []string{"hidden", "eos_logit"}},
		{&p.flow, "flow.onnx", []string{"c", "x", "t"}, []string{"flow_dir"}},
		{&p.decoder, "decoder.onnx", []string{"latents"}, []string{"audio"}},
	}
	for _, s := range sessions {
		session, err := ort.NewDynamicAdvancedSession(filepath.Join(modelDir, s.file), s.inputs, s.outputs, opts)
		if err != nil {
			p.closeSessions()
			return fmt.Errorf("failed to load %s: %w", s.file, err)
		}
		*s.target = session
	}
	return nil
}

func (p *Pipeline) Device() string {
	return p.device
}

// EmbedTokens returns [T*H] text embeddings.
func (p *Pipeline) EmbedTokens(tokens []int64) ([]float32, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_ids tensor: %w", err)
	}

	out, err := runFloat(p.textEncoder, []ort.Value{input}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to run text_encoder: %w", err)
	}
	return out[0], nil
}

// EncodeAudio returns [F*H] embeddings for a reference or generated
// waveform at the model rate.
func (p *Pipeline) EncodeAudio(samples []float32) ([]float32, error) {
	input, err := ort.NewTensor(ort.NewShape(1, 1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio tensor: %w", err)
	}

	out, err := runFloat(p.audioEncoder, []ort.Value{input}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to run audio_encoder: %w", err)
	}
	return out[0], nil
}

// Generate runs the frame loop over prefix ([S*H]) and returns the decoded
// waveform. The loop stops at end-of-speech or after maxFrames.
func (p *Pipeline) Generate(prefix []float32, maxFrames int, temperature float32) ([]float32, error) {
	d := p.cfg.LatentDim
	frames := make([]float32, d, d*(maxFrames+1))

	for step := 0; step < maxFrames; step++ {
		hidden, eos, err := p.step(prefix, frames)
		if err != nil {
			return nil, fmt.Errorf("failed to run backbone at step %d: %w", step, err)
		}
		if step > 0 && eos > p.cfg.EOSThreshold {
			break
		}

		latent, err := p.sampleLatent(hidden, temperature)
		if err != nil {
			return nil, fmt.Errorf("failed to run flow head at step %d: %w", step, err)
		}
		frames = append(frames, latent...)
	}

	latents := frames[d:]
	if len(latents) == 0 {
		return nil, fmt.Errorf("no frames generated")
	}

	samples, err := p.decode(latents)
	if err != nil {
		return nil, fmt.Errorf("failed to run decoder: %w", err)
	}
	return samples, nil
}

func (p *Pipeline) step(prefix, frames []float32) ([]float32, float32, error) {
	h, d := int64(p.cfg.HiddenDim), int64(p.cfg.LatentDim)

	prefixTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(prefix))/h, h), prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create prefix tensor: %w", err)
	}
	framesTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(frames))/d, d), frames)
	if err != nil {
		prefixTensor.Destroy()
		return nil, 0, fmt.Errorf("failed to create frames tensor: %w", err)
	}

	out, err := runFloat(p.backbone, []ort.Value{prefixTensor, framesTensor}, 2)
	if err != nil {
		return nil, 0, err
	}

	var eos float32
	if len(out[1]) > 0 {
		eos = sigmoid(out[1][0])
	}
	return out[0], eos, nil
}

// sampleLatent integrates the flow head from Gaussian noise scaled by the
// temperature.
func (p *Pipeline) sampleLatent(hidden []float32, temperature float32) ([]float32, error) {
	steps := p.cfg.FlowSteps
	dt := 1.0 / float32(steps)
	scale := float32(math.Sqrt(float64(temperature)))

	x := make([]float32, p.cfg.LatentDim)
	for i := range x {
		x[i] = float32(p.rng.NormFloat64()) * scale
	}

	for s := 0; s < steps; s++ {
		cTensor, err := ort.NewTensor(ort.NewShape(1, int64(p.cfg.HiddenDim)), hidden)
		if err != nil {
			return nil, fmt.Errorf("failed to create c tensor: %w", err)
		}
		xTensor, err := ort.NewTensor(ort.NewShape(1, int64(p.cfg.LatentDim)), x)
		if err != nil {
			cTensor.Destroy()
			return nil, fmt.Errorf("failed to create x tensor: %w", err)
		}
		tTensor, err := ort.NewTensor(ort.NewShape(1, 1), []float32{float32(s) * dt})
		if err != nil {
			cTensor.Destroy()
			xTensor.Destroy()
			return nil, fmt.Errorf("failed to create t tensor: %w", err)
		}

		out, err := runFloat(p.flow, []ort.Value{cTensor, xTensor, tTensor}, 1)
		if err != nil {
			return nil, err
		}
		dir := out[0]
		for i := range x {
			if i < len(dir) {
				x[i] += dir[i] * dt
			}
		}
	}
	return x, nil
}

func (p *Pipeline) decode(latents []float32) ([]float32, error) {
	d := int64(p.cfg.LatentDim)
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(latents))/d, d), latents)
	if err != nil {
		return nil, fmt.Errorf("failed to create latents tensor: %w", err)
	}

	out, err := runFloat(p.decoder, []ort.Value{input}, 1)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *Pipeline) closeSessions() error {
	var lastErr error
	for _, s := range []**ort.DynamicAdvancedSession{&p.textEncoder, &p.audioEncoder, &p.backbone, &p.flow, &p.decoder} {
		if *s == nil {
			continue
		}
		if err := (*s).Destroy(); err != nil {
			lastErr = err
		}
		*s = nil
	}
	return lastErr
}

func (p *Pipeline) Close() error {
	lastErr := p.closeSessions()
	if p.initialized {
		if err := ort.DestroyEnvironment(); err != nil {
			lastErr = err
		}
		p.initialized = false
	}
	return lastErr
}

// runFloat runs session, destroys the inputs and returns copies of the first
// n float32 outputs.
func runFloat(session *ort.DynamicAdvancedSession, inputs []ort.Value, n int) ([][]float32, error) {
	defer destroyAll(inputs)

	outputs := make([]ort.Value, n)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	result := make([][]float32, n)
	for i, v := range outputs {
		if v == nil {
			return nil, fmt.Errorf("missing output %d", i)
		}
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unexpected type for output %d", i)
		}
		result[i] = append([]float32(nil), t.GetData()...)
	}
	return result, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
