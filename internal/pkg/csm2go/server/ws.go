package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"csm2go/internal/pkg/csm2go/audio"
	"csm2go/internal/pkg/csm2go/conversation"
)

const (
	maxWSMessageSize = 512 * 1024
	wsWriteTimeout   = 10 * time.Second
	wsRequestTimeout = 60 * time.Second
)

const (
	FrameTurnStarted  = "turn_started"
	FrameTurnFinished = "turn_finished"
	FrameError        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is a JSON progress or error message. The finished conversation is
// sent as a single binary WAV message.
type Frame struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Turn      int    `json:"turn,omitempty"`
	Total     int    `json:"total,omitempty"`
	Speaker   int    `json:"speaker"`
	Text      string `json:"text,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type wsObserver struct {
	conn  *websocket.Conn
	runID string
	ctx   context.Context
}

func (o *wsObserver) TurnStarted(turn, total int, u conversation.Utterance) {
	o.send(Frame{Type: FrameTurnStarted, RunID: o.runID, Turn: turn, Total: total, Speaker: u.Speaker, Text: u.Text})
}

func (o *wsObserver) TurnFinished(turn, total int, u conversation.Utterance, _ *audio.Audio, elapsed time.Duration) {
	o.send(Frame{
		Type:      FrameTurnFinished,
		RunID:     o.runID,
		Turn:      turn,
		Total:     total,
		Speaker:   u.Speaker,
		Text:      u.Text,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

func (o *wsObserver) send(f Frame) {
	o.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := o.conn.WriteJSON(f); err != nil {
		log.Ctx(o.ctx).Debug().Err(err).Msg("Failed to send progress frame")
	}
}

func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, runID := s.withRun(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadLimit(maxWSMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))

	var req ConversationRequest
	if err := conn.ReadJSON(&req); err != nil {
		sendError(conn, runID, err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	// The client sends nothing after the request; a read error means it
	// went away and the run should stop at the next turn.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	obs := &wsObserver{conn: conn, runID: runID, ctx: ctx}
	result, err := s.run(ctx, req, obs)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Conversation failed")
		sendError(conn, runID, err)
		return
	}

	data, err := result.EncodeWAV()
	if err != nil {
		sendError(conn, runID, err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to send audio")
		return
	}
	log.Ctx(ctx).Info().Float64("duration_s", result.Duration()).Msg("Conversation finished")

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func sendError(conn *websocket.Conn, runID string, err error) {
	body := errorBody(err)
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(Frame{Type: FrameError, RunID: runID, Turn: body.Turn, Error: body.Error})
}
