// Package stream serves chat turns as Server-Sent Events.
package stream

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tripwise/planner/backend/internal/handler/httperr"
	"github.com/tripwise/planner/backend/internal/middleware"
	"github.com/tripwise/planner/backend/internal/service/inference"
	chatService "github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/pkg/utils"
)

// Handler streams one turn per request.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a stream handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/stream", h.handleStream)
}

// StreamEvent is the payload of every event on the stream.
type StreamEvent struct {
	SessionID string           `json:"sessionId,omitempty"`
	Content   string           `json:"content,omitempty"`
	Usage     *inference.Usage `json:"usage,omitempty"`
	Finished  bool             `json:"finished,omitempty"`
	Error     string           `json:"error,omitempty"`
	Status    int              `json:"status,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	message := query.Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	temperature, maxTokens, err := parseOverrides(query.Get("temperature"), query.Get("max_tokens"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = utils.SendSSEEvent(w, flusher, "start", StreamEvent{Content: h.chatSvc.Persona().Name})

	reply, err := h.chatSvc.HandleTurn(ctx, chatService.Turn{
		UserID:      middleware.UserIDFromContext(ctx),
		Message:     message,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		httperr.Log(ctx, err)
		_ = utils.SendSSEEvent(w, flusher, "error", StreamEvent{
			Error:  httperr.Message(err),
			Status: httperr.Status(err),
		})
		return
	}

	if err := utils.SendSSEEvent(w, flusher, "reply", StreamEvent{
		SessionID: reply.SessionID,
		Content:   reply.Text,
		Usage:     &reply.Usage,
	}); err != nil {
		logger.Debug().Err(err).Msg("client went away before the reply was sent")
		return
	}
	if reply.Journey != nil {
		_ = utils.SendSSEEvent(w, flusher, "journey", reply.Journey)
	}
	_ = utils.SendSSEEvent(w, flusher, "end", StreamEvent{SessionID: reply.SessionID, Finished: true})
}

func parseOverrides(rawTemp, rawMax string) (*float64, *int, error) {
	var (
		temperature *float64
		maxTokens   *int
	)
	if rawTemp != "" {
		v, err := strconv.ParseFloat(rawTemp, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid temperature value %q", rawTemp)
		}
		temperature = &v
	}
	if rawMax != "" {
		v, err := strconv.Atoi(rawMax)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid max_tokens value %q", rawMax)
		}
		maxTokens = &v
	}
	return temperature, maxTokens, nil
}
