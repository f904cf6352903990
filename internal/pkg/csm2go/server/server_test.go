package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/engine"
	"csm2go/internal/pkg/csm2go/voices"
)

type fakeEngine struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *fakeEngine) Generate(ctx context.Context, req engine.GenerateRequest) (*audio.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return nil, errors.New("model exploded")
	}
	return audio.NewAudio(make([]float32, 240)), nil
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEngine) Info() engine.EngineInfo {
	return engine.EngineInfo{Name: "fake", Device: "cpu", SampleRate: audio.SampleRate}
}

func (f *fakeEngine) Close() error { return nil }

func writeVoice(t *testing.T, dir, name, transcript string) {
	t.Helper()
	require.NoError(t, audio.NewAudio(make([]float32, 480)).SaveWAV(filepath.Join(dir, name+".wav")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".txt"), []byte(transcript), 0o644))
}

func newTestServer(t *testing.T, eng engine.Engine, rpm int) *httptest.Server {
	t.Helper()
	sounds := t.TempDir()
	writeVoice(t, sounds, "alice", "hi I am alice")
	writeVoice(t, sounds, "bob", "hey bob here")

	loader, err := voices.NewLoader(audio.SampleRate, 4)
	require.NoError(t, err)
	lib := voices.NewLibrary(sounds, t.TempDir(), loader)

	s, err := New(eng, lib, Options{MaxUtteranceMs: 1000, Temperature: 0.85, TopK: 50, SilenceMs: 10, RateLimitRPM: rpm}, zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func postConversation(t *testing.T, url string, req ConversationRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url+"/v1/conversation", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, 0)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "fake", health.Backend)
	assert.Equal(t, audio.SampleRate, health.SampleRate)
}

func TestVoices(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, 0)

	resp, err := http.Get(srv.URL + "/v1/voices")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []voiceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Name)
	assert.Equal(t, "hey bob here", list[1].Transcript)
}

func TestConversationReturnsWAV(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, 0)

	resp := postConversation(t, srv.URL, ConversationRequest{
		Transcript: "hello there\ngeneral kenobi\n",
		VoiceA:     "alice",
		VoiceB:     "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(runIDHeader))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Greater(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, 2, eng.Calls())
}

func TestConversationErrors(t *testing.T) {
	tests := []struct {
		name   string
		eng    *fakeEngine
		req    ConversationRequest
		status int
		turn   int
	}{
		{"empty transcript", &fakeEngine{}, ConversationRequest{Transcript: "\n  \n", VoiceA: "alice", VoiceB: "bob"}, http.StatusBadRequest, 0},
		{"missing voice", &fakeEngine{}, ConversationRequest{Transcript: "hi", VoiceA: "alice"}, http.StatusBadRequest, 0},
		{"unknown voice", &fakeEngine{}, ConversationRequest{Transcript: "hi", VoiceA: "alice", VoiceB: "carol"}, http.StatusBadRequest, 0},
		{"synthesis failure", &fakeEngine{failOn: 2}, ConversationRequest{Transcript: "one\ntwo\nthree", VoiceA: "alice", VoiceB: "bob"}, http.StatusBadGateway, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.eng, 0)

			resp := postConversation(t, srv.URL, tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.turn, body.Turn)
		})
	}
}

func TestConversationRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, 0)

	resp, err := http.Post(srv.URL+"/v1/conversation", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, 1)
	req := ConversationRequest{Transcript: "hi", VoiceA: "alice", VoiceB: "bob"}

	first := postConversation(t, srv.URL, req)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := postConversation(t, srv.URL, req)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, err := NewRateLimiter(0, 1)
	require.NoError(t, err)
	assert.False(t, rl.Enabled())
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("client"))
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl, err := NewRateLimiter(1, 1)
	require.NoError(t, err)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/conversation/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConversationWebsocketStreamsProgress(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, 0)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(ConversationRequest{Transcript: "first\n\nthird", VoiceA: "alice", VoiceB: "bob"}))

	var frames []Frame
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind == websocket.BinaryMessage {
			assert.Equal(t, "RIFF", string(data[:4]))
			break
		}
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		frames = append(frames, f)
	}

	require.Len(t, frames, 4)
	assert.Equal(t, FrameTurnStarted, frames[0].Type)
	assert.Equal(t, 1, frames[0].Turn)
	assert.Equal(t, 2, frames[0].Total)
	assert.Equal(t, 0, frames[0].Speaker)
	assert.Equal(t, FrameTurnFinished, frames[3].Type)
	assert.Equal(t, "third", frames[3].Text)
	assert.Equal(t, 0, frames[3].Speaker)
	assert.NotEmpty(t, frames[0].RunID)
}

func TestConversationWebsocketError(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{failOn: 1}, 0)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(ConversationRequest{Transcript: "only", VoiceA: "alice", VoiceB: "bob"}))

	var last Frame
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, kind)
		require.NoError(t, json.Unmarshal(data, &last))
		if last.Type == FrameError {
			break
		}
	}
	assert.Equal(t, 1, last.Turn)
	assert.Contains(t, last.Error, "model exploded")
}
