package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/planner/backend/internal/analysis/journey"
	"github.com/tripwise/planner/backend/internal/model/chat"
	journeymodel "github.com/tripwise/planner/backend/internal/model/journey"
	"github.com/tripwise/planner/backend/internal/model/persona"
	"github.com/tripwise/planner/backend/internal/service/inference"
	"github.com/tripwise/planner/backend/internal/service/prompt"
	"github.com/tripwise/planner/backend/internal/service/session"
)

var (
	ErrEmptyMessage    = errors.New("message must not be empty")
	ErrUserRequired    = errors.New("user id is required")
	ErrPersonaNotFound = errors.New("persona not found")
)

// Generator is the slice of the inference gateway the service needs.
type Generator interface {
	ResolveParams(temperature *float64, maxTokens *int) (inference.Params, error)
	ContextWindow() int
	Generate(ctx context.Context, req inference.Request) (inference.Completion, error)
}

// Turn is one user message with optional sampling overrides.
type Turn struct {
	UserID      string
	Message     string
	Temperature *float64
	MaxTokens   *int
}

// Reply is the outcome of a turn.
type Reply struct {
	SessionID string
	Text      string
	Journey   *journeymodel.Intent
	Usage     inference.Usage
	Backend   string
	// Dropped counts older messages that did not fit the prompt.
	Dropped int
}

// Stats summarises a user's live conversation.
type Stats struct {
	SessionID     string     `json:"session_id,omitempty"`
	MessageCount  int        `json:"message_count"`
	OldestMessage *time.Time `json:"oldest_message"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

// Service runs chat turns: memory, prompt, model, journey detection.
type Service struct {
	store   session.Store
	model   Generator
	persona persona.Persona
	extract func(userText, assistantText string) *journeymodel.Intent
}

// NewService wires the orchestrator around the persona identified by
// personaID.
func NewService(store session.Store, model Generator, personas persona.Store, personaID string) (*Service, error) {
	p, ok := personas.FindByID(personaID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPersonaNotFound, personaID)
	}
	return &Service{
		store:   store,
		model:   model,
		persona: p,
		extract: journey.New().Extract,
	}, nil
}

// Persona returns the persona framing every conversation.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// HandleTurn answers one message in the user's conversation. The user message
// and the reply are stored together once generation succeeds. When generation
// fails only the user message is kept, so a retry still sees it.
func (s *Service) HandleTurn(ctx context.Context, turn Turn) (Reply, error) {
	if turn.UserID == "" {
		return Reply{}, ErrUserRequired
	}
	message := strings.TrimSpace(turn.Message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	sess, err := s.store.GetOrCreate(ctx, turn.UserID)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load conversation: %w", err)
	}

	params, err := s.model.ResolveParams(turn.Temperature, turn.MaxTokens)
	if err != nil {
		return Reply{}, err
	}

	built := prompt.New(s.model.ContextWindow(), params.MaxTokens).
		Assemble(s.persona.SystemPrompt, sess.Messages, message)
	if built.Overflow {
		log.Warn().Str("component", "chat").Str("user_id", turn.UserID).Int("tokens", built.Tokens).
			Msg("system prompt and message exceed the context budget")
	}

	userMsg := chat.Message{Role: chat.RoleUser, Content: message}
	completion, err := s.model.Generate(ctx, inference.Request{
		Prompt: built.Text,
		Turns:  built.Turns,
		Params: params,
	})
	if err != nil {
		if _, appendErr := s.store.Append(context.WithoutCancel(ctx), turn.UserID, userMsg); appendErr != nil {
			log.Error().Err(appendErr).Str("component", "chat").Str("user_id", turn.UserID).
				Msg("failed to keep user message after generation error")
		}
		return Reply{}, err
	}

	assistantMsg := chat.Message{Role: chat.RoleAssistant, Content: completion.Text}
	updated, err := s.store.Append(ctx, turn.UserID, userMsg, assistantMsg)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to save conversation: %w", err)
	}

	intent := s.extract(message, completion.Text)

	evt := log.Info().Str("component", "chat").Str("session_id", updated.ID).
		Int("history", len(sess.Messages)).Int("dropped", built.Dropped).
		Dur("took", completion.Duration)
	if intent != nil {
		evt = evt.Str("origin", intent.Origin).Str("destination", intent.Destination)
	}
	evt.Msg("turn completed")

	return Reply{
		SessionID: updated.ID,
		Text:      completion.Text,
		Journey:   intent,
		Usage:     completion.Usage,
		Backend:   completion.Backend,
		Dropped:   built.Dropped,
	}, nil
}

// Complete runs a raw prompt with no conversation attached.
func (s *Service) Complete(ctx context.Context, text string, temperature *float64, maxTokens *int) (inference.Completion, error) {
	if strings.TrimSpace(text) == "" {
		return inference.Completion{}, ErrEmptyMessage
	}
	params, err := s.model.ResolveParams(temperature, maxTokens)
	if err != nil {
		return inference.Completion{}, err
	}
	return s.model.Generate(ctx, inference.Request{
		Prompt: text,
		Turns:  []*schema.Message{schema.UserMessage(text)},
		Params: params,
	})
}

// ClearHistory forgets the user's conversation.
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	if err := s.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	log.Info().Str("component", "chat").Str("user_id", userID).Msg("conversation cleared")
	return nil
}

// Conversation reports on the user's live conversation without starting one.
func (s *Service) Conversation(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, ErrUserRequired
	}
	sess, ok, err := s.store.Peek(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !ok {
		return Stats{}, nil
	}

	stats := Stats{
		SessionID:    sess.ID,
		MessageCount: len(sess.Messages),
		LastActivity: &sess.LastActivity,
	}
	if len(sess.Messages) > 0 {
		oldest := sess.Messages[0].CreatedAt
		stats.OldestMessage = &oldest
	}
	return stats, nil
}
