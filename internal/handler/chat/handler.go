package chat

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tripwise/planner/backend/internal/handler/httperr"
	"github.com/tripwise/planner/backend/internal/middleware"
	modelchat "github.com/tripwise/planner/backend/internal/model/chat"
	"github.com/tripwise/planner/backend/internal/model/journey"
	chatService "github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/internal/service/inference"
	"github.com/tripwise/planner/backend/pkg/utils"
)

// Handler serves the OpenAI-style chat endpoints.
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New creates a chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		upgrader: newUpgrader(),
	}
}

// RegisterRoutes mounts the chat routes. Callers are expected to have
// authenticated the request.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/completions", h.handleChatCompletions)
	r.Post("/completions", h.handleCompletions)
	r.Get("/chat/ws", h.handleWebSocket)
	r.Delete("/conversations/clear", h.handleClear)
	r.Get("/conversations/stats", h.handleStats)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	Created        int64           `json:"created"`
	Model          string          `json:"model"`
	SessionID      string          `json:"session_id"`
	Choices        []chatChoice    `json:"choices"`
	Usage          inference.Usage `json:"usage"`
	JourneyDetails *journey.Intent `json:"journey_details"`
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

type completionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   inference.Usage    `json:"usage"`
}

// lastUserMessage returns the newest user entry; earlier entries are ignored
// because the server keeps its own transcript.
func lastUserMessage(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Role, modelchat.RoleUser) {
			return msgs[i].Content
		}
	}
	return ""
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var payload chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.HandleTurn(r.Context(), chatService.Turn{
		UserID:      middleware.UserIDFromContext(r.Context()),
		Message:     lastUserMessage(payload.Messages),
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatCompletionResponse{
		ID:        "chatcmpl-" + uuid.NewString(),
		Object:    "chat.completion",
		Created:   time.Now().Unix(),
		Model:     reply.Backend,
		SessionID: reply.SessionID,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: modelchat.RoleAssistant, Content: reply.Text},
			FinishReason: "stop",
		}},
		Usage:          reply.Usage,
		JourneyDetails: reply.Journey,
	})
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var payload completionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	completion, err := h.chatSvc.Complete(r.Context(), payload.Prompt, payload.Temperature, payload.MaxTokens)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, completionResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   completion.Backend,
		Choices: []completionChoice{{Text: completion.Text, FinishReason: "stop"}},
		Usage:   completion.Usage,
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ClearHistory(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Conversation history cleared",
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.chatSvc.Conversation(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httperr.Log(r.Context(), err)
	utils.RespondError(w, httperr.Status(err), httperr.Message(err))
}
