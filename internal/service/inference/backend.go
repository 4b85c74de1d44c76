// Package inference owns the loaded model and serializes access to it.
//
// A Gateway wraps exactly one Backend chosen at startup by trying an ordered
// list of Loaders. Calls wait in FIFO order for a free slot, run under a
// timeout and fail fast once the backend has died.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/tripwise/planner/backend/internal/config"
)

var (
	ErrInvalidParameter  = errors.New("invalid generation parameter")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrNoBackend         = errors.New("no model backend could be loaded")

	// ErrBackendCrashed is returned by a backend whose process or endpoint is
	// gone for good.
	ErrBackendCrashed = errors.New("model backend crashed")
)

// Params are the per-call sampling settings.
type Params struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
}

// Request is one generation. Completion-style backends read Prompt, chat-style
// backends read Turns; both carry the same conversation.
type Request struct {
	Prompt string
	Turns  []*schema.Message
	Params Params
}

// Usage is an approximate token account.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the cleaned output of a generation.
type Completion struct {
	Text     string
	Backend  string
	Usage    Usage
	Duration time.Duration
}

// Backend runs generations against a loaded model.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// Loader brings up a Backend for the configured model.
type Loader interface {
	Name() string
	Load(ctx context.Context, cfg config.ModelConfig) (Backend, error)
}

// Loader names accepted in MODEL_BACKENDS.
const (
	LlamaServerName  = "llama-server"
	ChatEndpointName = "chat-endpoint"
)

// LoadersFor maps configured backend names to loaders, keeping their order.
func LoadersFor(names []string) ([]Loader, error) {
	loaders := make([]Loader, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case LlamaServerName:
			loaders = append(loaders, &LlamaServerLoader{})
		case ChatEndpointName:
			loaders = append(loaders, &ChatEndpointLoader{})
		default:
			return nil, fmt.Errorf("%w: unknown model backend %q", config.ErrInvalidConfig, name)
		}
	}
	return loaders, nil
}

var fatalMarkers = []string{
	"out of memory",
	"failed to allocate",
	"cuda error",
	"signal: killed",
	"broken pipe",
}

// isFatal reports whether err means the backend will not recover.
func isFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBackendCrashed) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
