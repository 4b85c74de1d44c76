package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tripwise/planner/backend/internal/config"
)

// minTemperature stands in for zero, which the client drops from the wire.
const minTemperature = 1e-4

// LlamaServerLoader runs the model in a llama.cpp server child process and
// talks to its OpenAI-compatible completion endpoint.
type LlamaServerLoader struct {
	// Command builds the child process. Nil resolves the binary on PATH.
	Command func(name string, args ...string) *exec.Cmd
}

func (l *LlamaServerLoader) Name() string { return LlamaServerName }

func (l *LlamaServerLoader) Load(ctx context.Context, cfg config.ModelConfig) (Backend, error) {
	host, port, err := net.SplitHostPort(cfg.LlamaServerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid LLAMA_SERVER_ADDR %q: %w", cfg.LlamaServerAddr, err)
	}

	proc, client, err := launchServer(ctx, cfg.Path, launchSpec{
		name:    LlamaServerName,
		argv:    append([]string{cfg.LlamaServerBin}, llamaServerArgs(cfg, host, port)...),
		addr:    cfg.LlamaServerAddr,
		maxWait: cfg.LlamaServerStartup,
		command: l.Command,
	})
	if err != nil {
		return nil, err
	}

	backend := NewCompletionBackend(LlamaServerName, client, cfg.Name())
	backend.proc = proc
	return backend, nil
}

func llamaServerArgs(cfg config.ModelConfig, host, port string) []string {
	return []string{
		"-m", cfg.Path,
		"-c", strconv.Itoa(cfg.ContextWindow),
		"-t", strconv.Itoa(cfg.Threads),
		"-ngl", strconv.Itoa(cfg.GPULayers),
		"--host", host,
		"--port", port,
	}
}

// CompletionBackend sends the flat prompt to an OpenAI-compatible
// /v1/completions endpoint.
type CompletionBackend struct {
	name   string
	model  string
	client *openai.Client
	proc   *childProcess
}

// NewCompletionBackend talks to an already running server.
func NewCompletionBackend(name string, client *openai.Client, model string) *CompletionBackend {
	return &CompletionBackend{name: name, model: model, client: client}
}

func (b *CompletionBackend) Name() string { return b.name }

func (b *CompletionBackend) Generate(ctx context.Context, req Request) (string, error) {
	if b.proc.Crashed() {
		return "", ErrBackendCrashed
	}

	temperature := float32(req.Params.Temperature)
	if temperature == 0 {
		temperature = minTemperature
	}

	resp, err := b.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       b.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: temperature,
		TopP:        float32(req.Params.TopP),
		Stop:        req.Params.Stop,
	})
	if err != nil {
		if b.proc.Crashed() {
			return "", fmt.Errorf("%w: %w", ErrBackendCrashed, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Text, nil
}

// Close stops the child process, if any.
func (b *CompletionBackend) Close() error {
	b.proc.Stop()
	return nil
}
