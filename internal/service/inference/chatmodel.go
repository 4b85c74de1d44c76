package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tripwise/planner/backend/internal/config"
)

// ChatEndpointLoader brings the same model file up under a second runtime
// (llama-cpp-python's OpenAI-compatible server by default) and drives it
// through its chat endpoint with structured turns.
type ChatEndpointLoader struct {
	// Command builds the child process. Nil resolves the binary on PATH.
	Command func(name string, args ...string) *exec.Cmd
	// NewModel builds the chat model for the running server. Nil uses ark.
	NewModel func(ctx context.Context, baseURL string, cfg config.ModelConfig) (model.BaseChatModel, error)
}

func (l *ChatEndpointLoader) Name() string { return ChatEndpointName }

func (l *ChatEndpointLoader) Load(ctx context.Context, cfg config.ModelConfig) (Backend, error) {
	host, port, err := net.SplitHostPort(cfg.FallbackAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_SERVER_ADDR %q: %w", cfg.FallbackAddr, err)
	}
	if len(cfg.FallbackCommand) == 0 {
		return nil, errors.New("FALLBACK_SERVER_CMD is empty")
	}

	proc, _, err := launchServer(ctx, cfg.Path, launchSpec{
		name:    ChatEndpointName,
		argv:    append(append([]string(nil), cfg.FallbackCommand...), chatServerArgs(cfg, host, port)...),
		addr:    cfg.FallbackAddr,
		apiKey:  cfg.FallbackAPIKey,
		maxWait: cfg.LlamaServerStartup,
		command: l.Command,
	})
	if err != nil {
		return nil, err
	}

	build := l.NewModel
	if build == nil {
		build = newArkChatModel
	}
	chatModel, err := build(ctx, serverURL(cfg.FallbackAddr), cfg)
	if err != nil {
		proc.Stop()
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	backend := NewChatModelBackend(ChatEndpointName, chatModel)
	backend.proc = proc
	return backend, nil
}

// chatServerArgs are llama-cpp-python server flags. The alias makes the
// served model answer to the same name the primary backend uses.
func chatServerArgs(cfg config.ModelConfig, host, port string) []string {
	return []string{
		"--model", cfg.Path,
		"--model_alias", cfg.Name(),
		"--n_ctx", strconv.Itoa(cfg.ContextWindow),
		"--n_threads", strconv.Itoa(cfg.Threads),
		"--n_gpu_layers", strconv.Itoa(cfg.GPULayers),
		"--host", host,
		"--port", port,
	}
}

func newArkChatModel(ctx context.Context, baseURL string, cfg config.ModelConfig) (model.BaseChatModel, error) {
	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: baseURL,
		APIKey:  cfg.FallbackAPIKey,
		Model:   cfg.Name(),
	})
}

// ChatModelBackend drives an eino chat model with structured turns.
type ChatModelBackend struct {
	name  string
	model model.BaseChatModel
	proc  *childProcess
}

// NewChatModelBackend wraps m.
func NewChatModelBackend(name string, m model.BaseChatModel) *ChatModelBackend {
	return &ChatModelBackend{name: name, model: m}
}

func (b *ChatModelBackend) Name() string { return b.name }

func (b *ChatModelBackend) Generate(ctx context.Context, req Request) (string, error) {
	if b.proc.Crashed() {
		return "", ErrBackendCrashed
	}

	turns := req.Turns
	if len(turns) == 0 {
		turns = []*schema.Message{schema.UserMessage(req.Prompt)}
	}

	p := req.Params
	opts := []model.Option{
		model.WithTemperature(float32(p.Temperature)),
		model.WithMaxTokens(p.MaxTokens),
	}
	if p.TopP > 0 {
		opts = append(opts, model.WithTopP(float32(p.TopP)))
	}
	if len(p.Stop) > 0 {
		opts = append(opts, model.WithStop(p.Stop))
	}

	msg, err := b.model.Generate(ctx, turns, opts...)
	if err != nil {
		if b.proc.Crashed() {
			return "", fmt.Errorf("%w: %w", ErrBackendCrashed, err)
		}
		return "", err
	}
	if msg == nil {
		return "", errors.New("chat model returned no message")
	}
	return msg.Content, nil
}

// Close stops the child process, if any.
func (b *ChatModelBackend) Close() error {
	b.proc.Stop()
	return nil
}
