package chat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tripwise/planner/backend/internal/handler/httperr"
	"github.com/tripwise/planner/backend/internal/middleware"
	"github.com/tripwise/planner/backend/internal/model/journey"
	chatService "github.com/tripwise/planner/backend/internal/service/chat"
)

const (
	wsReadTimeout  = 90 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin:     func(*http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

type inboundFrame struct {
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

type outboundFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Content   string          `json:"content,omitempty"`
	Journey   *journey.Intent `json:"journey,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// handleWebSocket runs one turn per inbound text frame on a long-lived
// connection. Turns on a connection are processed in order.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	logger := zerolog.Ctx(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go pingLoop(ctx, conn)

	logger.Debug().Msg("websocket connected")
	writeFrame(conn, logger, outboundFrame{Type: "connected"})

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch strings.ToLower(frame.Type) {
		case "", "message":
			reply, err := h.chatSvc.HandleTurn(ctx, chatService.Turn{
				UserID:      userID,
				Message:     frame.Message,
				Temperature: frame.Temperature,
				MaxTokens:   frame.MaxTokens,
			})
			if err != nil {
				httperr.Log(ctx, err)
				writeFrame(conn, logger, outboundFrame{Type: "error", Error: httperr.Message(err)})
				continue
			}
			writeFrame(conn, logger, outboundFrame{
				Type:      "reply",
				SessionID: reply.SessionID,
				Content:   reply.Text,
				Journey:   reply.Journey,
			})
		case "clear":
			if err := h.chatSvc.ClearHistory(ctx, userID); err != nil {
				httperr.Log(ctx, err)
				writeFrame(conn, logger, outboundFrame{Type: "error", Error: httperr.Message(err)})
				continue
			}
			writeFrame(conn, logger, outboundFrame{Type: "cleared"})
		default:
			writeFrame(conn, logger, outboundFrame{Type: "error", Error: "unsupported frame type " + frame.Type})
		}
	}
}

func writeFrame(conn *websocket.Conn, logger *zerolog.Logger, frame outboundFrame) {
	frame.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		logger.Warn().Err(err).Str("frame", frame.Type).Msg("websocket write failed")
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
