package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/engine"
)

const (
	DefaultServerURL = "http://localhost:8990"

	sampleRateHeader = "X-Sample-Rate"
	infoTimeout      = 10 * time.Second
)

func init() {
	engine.Register("remote", NewEngine)
}

// Engine calls a model server that hosts the pretrained weights. The server
// is expected to be loaded once and shared across calls.
type Engine struct {
	baseURL    string
	httpClient *http.Client
	info       engine.EngineInfo
}

type segmentPayload struct {
	Text       string `json:"text"`
	Speaker    int    `json:"speaker"`
	SampleRate int    `json:"sample_rate"`
	Audio      string `json:"audio"`
}

type generateRequest struct {
	Text             string           `json:"text"`
	Speaker          int              `json:"speaker"`
	Context          []segmentPayload `json:"context"`
	MaxAudioLengthMs int              `json:"max_audio_length_ms"`
	Temperature      float32          `json:"temperature"`
	TopK             int              `json:"topk"`
}

type infoResponse struct {
	Name       string `json:"name"`
	SampleRate int    `json:"sample_rate"`
	Device     string `json:"device"`
}

func NewEngine(cfg engine.EngineConfig) (engine.Engine, error) {
	baseURL := strings.TrimRight(cfg.ServerURL, "/")
	if baseURL == "" {
		baseURL = DefaultServerURL
	}

	e := &Engine{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	info, err := e.fetchInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reach model server at %s: %w", baseURL, err)
	}
	if cfg.SampleRate > 0 && info.SampleRate != cfg.SampleRate {
		return nil, fmt.Errorf("model server sample rate %d does not match configured %d", info.SampleRate, cfg.SampleRate)
	}

	name := info.Name
	if name == "" {
		name = "remote"
	}
	e.info = engine.EngineInfo{
		Name:       name,
		Device:     info.Device,
		SampleRate: info.SampleRate,
	}
	return e, nil
}

func (e *Engine) fetchInfo(ctx context.Context) (*infoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/info", nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("info %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("info decode: %w", err)
	}
	if out.SampleRate <= 0 {
		return nil, fmt.Errorf("model server reported invalid sample rate %d", out.SampleRate)
	}
	return &out, nil
}

func (e *Engine) Generate(ctx context.Context, req engine.GenerateRequest) (*audio.Audio, error) {
	payload := generateRequest{
		Text:             req.Text,
		Speaker:          req.Speaker,
		Context:          make([]segmentPayload, 0, len(req.Context)),
		MaxAudioLengthMs: req.MaxAudioLengthMs,
		Temperature:      req.Temperature,
		TopK:             req.TopK,
	}
	for _, seg := range req.Context {
		if seg.Audio == nil {
			return nil, fmt.Errorf("context segment for speaker %d has no audio", seg.Speaker)
		}
		payload.Context = append(payload.Context, segmentPayload{
			Text:       seg.Text,
			Speaker:    seg.Speaker,
			SampleRate: seg.Audio.SampleRate,
			Audio:      EncodePCM(seg.Audio.Samples),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/octet-stream")

	log.Ctx(ctx).Debug().
		Int("speaker", req.Speaker).
		Int("context_segments", len(req.Context)).
		Int("request_bytes", len(body)).
		Msg("Sending generate request")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	rate := e.info.SampleRate
	if h := resp.Header.Get(sampleRateHeader); h != "" {
		rate, err = strconv.Atoi(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header %q", sampleRateHeader, h)
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated audio: %w", err)
	}
	samples, err := DecodePCM(raw)
	if err != nil {
		return nil, err
	}

	return audio.NewAudioWithSampleRate(samples, rate), nil
}

func (e *Engine) Info() engine.EngineInfo {
	return e.info
}

func (e *Engine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// EncodePCM packs samples as base64 little-endian float32.
func EncodePCM(samples []float32) string {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePCM unpacks raw little-endian float32 samples.
func DecodePCM(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("audio payload length %d is not a multiple of 4", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return samples, nil
}
