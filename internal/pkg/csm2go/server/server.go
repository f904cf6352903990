package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"csm2go/internal/pkg/csm2go/conversation"
	"csm2go/internal/pkg/csm2go/engine"
	"csm2go/internal/pkg/csm2go/voices"
)

const runIDHeader = "X-Run-ID"

type Options struct {
	MaxUtteranceMs int
	Temperature    float32
	TopK           int
	SilenceMs      int
	RateLimitRPM   int
}

// Server exposes the conversation pipeline over HTTP and websocket. Runs
// are serialised against the shared engine.
type Server struct {
	engine  engine.Engine
	library *voices.Library
	opts    Options
	limiter *RateLimiter
	logger  zerolog.Logger
	slot    chan struct{}
	mux     *http.ServeMux
}

func New(eng engine.Engine, library *voices.Library, opts Options, logger zerolog.Logger) (*Server, error) {
	limiter, err := NewRateLimiter(opts.RateLimitRPM, 1)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:  eng,
		library: library,
		opts:    opts,
		limiter: limiter,
		logger:  logger,
		slot:    make(chan struct{}, 1),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /v1/voices", s.handleVoices)
	s.mux.HandleFunc("POST /v1/conversation", s.limited(s.handleConversation))
	s.mux.HandleFunc("GET /v1/conversation/ws", s.limited(s.handleConversationWS))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			s.logger.Warn().Str("client", clientKey(r)).Msg("Rate limited")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

// withRun tags the request context with a fresh run ID.
func (s *Server) withRun(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	logger := s.logger.With().Str("run_id", id).Logger()
	return logger.WithContext(ctx), id
}

// acquire waits for the engine to become free.
func (s *Server) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	Backend    string `json:"backend"`
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.engine.Info()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Backend:    info.Name,
		Device:     info.Device,
		SampleRate: info.SampleRate,
	})
}

type voiceResponse struct {
	Name       string `json:"name"`
	Transcript string `json:"transcript"`
	Builtin    bool   `json:"builtin"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	list, err := s.library.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := make([]voiceResponse, 0, len(list))
	for _, v := range list {
		resp = append(resp, voiceResponse{Name: v.Name, Transcript: v.Transcript, Builtin: v.Builtin})
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
	Turn  int    `json:"turn,omitempty"`
}

func errorBody(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var synth *conversation.SynthesisError
	if errors.As(err, &synth) {
		resp.Turn = synth.Turn
	}
	return resp
}

func statusFor(err error) int {
	var (
		missing *conversation.MissingReferenceError
		synth   *conversation.SynthesisError
		rateErr *conversation.SampleRateError
	)
	switch {
	case errors.Is(err, conversation.ErrEmptyInput),
		errors.Is(err, voices.ErrVoiceNotFound),
		errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.As(err, &synth):
		return http.StatusBadGateway
	case errors.As(err, &rateErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody(err))
}
