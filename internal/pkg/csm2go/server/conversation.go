package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/conversation"
	"csm2go/internal/pkg/csm2go/voices"
)

const maxRequestBytes = 1 << 20

// ConversationRequest names the two library voices and carries the
// transcript, one line per turn. Zero overrides keep the server defaults.
type ConversationRequest struct {
	Transcript     string  `json:"transcript"`
	VoiceA         string  `json:"voice_a"`
	VoiceB         string  `json:"voice_b"`
	MaxUtteranceMs int     `json:"max_utterance_ms,omitempty"`
	Temperature    float32 `json:"temperature,omitempty"`
	SilenceMs      *int    `json:"silence_ms,omitempty"`
}

func (s *Server) options(req ConversationRequest, obs conversation.Observer) conversation.Options {
	opts := conversation.Options{
		MaxUtteranceMs: s.opts.MaxUtteranceMs,
		Temperature:    s.opts.Temperature,
		TopK:           s.opts.TopK,
		SilenceMs:      s.opts.SilenceMs,
		Observer:       obs,
	}
	if req.MaxUtteranceMs > 0 {
		opts.MaxUtteranceMs = req.MaxUtteranceMs
	}
	if req.Temperature > 0 {
		opts.Temperature = req.Temperature
	}
	if req.SilenceMs != nil {
		opts.SilenceMs = *req.SilenceMs
	}
	return opts
}

// run parses the transcript, loads both references and assembles the
// conversation once the engine is free.
func (s *Server) run(ctx context.Context, req ConversationRequest, obs conversation.Observer) (*audio.Audio, error) {
	turns := conversation.Parse(req.Transcript)
	if len(turns) == 0 {
		return nil, conversation.ErrEmptyInput
	}

	refs, err := s.library.LoadPair(ctx, [2]voices.Source{{Voice: req.VoiceA}, {Voice: req.VoiceB}})
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	log.Ctx(ctx).Info().
		Int("turns", len(turns)).
		Str("voice_a", req.VoiceA).
		Str("voice_b", req.VoiceB).
		Msg("Starting conversation")

	return conversation.NewAssembler(s.engine, s.options(req, obs)).Assemble(ctx, turns, refs)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	ctx, runID := s.withRun(r.Context())
	w.Header().Set(runIDHeader, runID)

	var req ConversationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	result, err := s.run(ctx, req, nil)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Conversation failed")
		writeError(w, statusFor(err), err)
		return
	}

	data, err := result.EncodeWAV()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	log.Ctx(ctx).Info().Float64("duration_s", result.Duration()).Msg("Conversation finished")
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
