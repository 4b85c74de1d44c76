package inference

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const shutdownGrace = 5 * time.Second

// childProcess is a model server owned by this process. It counts as crashed
// once it exits without being asked to.
type childProcess struct {
	name      string
	cmd       *exec.Cmd
	exited    chan struct{}
	crashed   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

// startChild starts cmd with its output routed to the debug log.
func startChild(name string, cmd *exec.Cmd) (*childProcess, error) {
	cmd.Stdout = processLog{name: name, stream: "stdout"}
	cmd.Stderr = processLog{name: name, stream: "stderr"}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	log.Info().Str("component", "inference").Str("process", name).Int("pid", cmd.Process.Pid).
		Msg("model server started")

	p := &childProcess{name: name, cmd: cmd, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if !p.closing.Load() {
			p.crashed.Store(true)
			log.Error().Err(err).Str("component", "inference").Str("process", name).
				Msg("model server exited unexpectedly")
		}
		close(p.exited)
	}()
	return p, nil
}

// Crashed is false for a nil process.
func (p *childProcess) Crashed() bool {
	return p != nil && p.crashed.Load()
}

// Exited is nil, and so never ready, for a nil process.
func (p *childProcess) Exited() <-chan struct{} {
	if p == nil {
		return nil
	}
	return p.exited
}

// Stop interrupts the process and kills it after a grace period.
func (p *childProcess) Stop() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.exited:
		case <-time.After(shutdownGrace):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
		log.Info().Str("component", "inference").Str("process", p.name).Msg("model server stopped")
	})
}

// launchSpec describes how a loader brings up a model server for a file.
type launchSpec struct {
	name    string
	argv    []string
	addr    string
	apiKey  string
	maxWait time.Duration
	command func(name string, args ...string) *exec.Cmd
}

// launchServer checks the model file, starts argv and waits until the
// server's OpenAI-compatible API answers on addr.
func launchServer(ctx context.Context, modelPath string, spec launchSpec) (*childProcess, *openai.Client, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, nil, fmt.Errorf("model file: %w", err)
	}
	if len(spec.argv) == 0 {
		return nil, nil, fmt.Errorf("%s: no command configured", spec.name)
	}
	if _, _, err := net.SplitHostPort(spec.addr); err != nil {
		return nil, nil, fmt.Errorf("%s: invalid address %q: %w", spec.name, spec.addr, err)
	}

	bin, args := spec.argv[0], spec.argv[1:]
	command := spec.command
	if command == nil {
		resolved, err := exec.LookPath(bin)
		if err != nil {
			return nil, nil, fmt.Errorf("%s binary: %w", spec.name, err)
		}
		bin = resolved
		command = exec.Command
	}

	proc, err := startChild(spec.name, command(bin, args...))
	if err != nil {
		return nil, nil, err
	}

	client := openAIClient(serverURL(spec.addr), spec.apiKey)
	if err := waitReady(ctx, client, spec.maxWait, proc.Exited()); err != nil {
		proc.Stop()
		return nil, nil, err
	}
	return proc, client, nil
}

func serverURL(addr string) string {
	return "http://" + addr + "/v1"
}

func openAIClient(baseURL, apiKey string) *openai.Client {
	if apiKey == "" {
		apiKey = "local"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return openai.NewClientWithConfig(cfg)
}

// waitReady polls the server's model list until it answers, the child exits
// or maxWait elapses.
func waitReady(ctx context.Context, client *openai.Client, maxWait time.Duration, exited <-chan struct{}) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	ping := func() (struct{}, error) {
		select {
		case <-exited:
			return struct{}{}, backoff.Permanent(ErrBackendCrashed)
		default:
		}
		if _, err := client.ListModels(ctx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(policy)}
	if maxWait > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(maxWait))
	}
	if _, err := backoff.Retry(ctx, ping, opts...); err != nil {
		return fmt.Errorf("model server not ready: %w", err)
	}
	return nil
}

// processLog forwards child output to the structured log line by line.
type processLog struct {
	name   string
	stream string
}

func (p processLog) Write(data []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		log.Debug().Str("component", p.name).Str("stream", p.stream).Msg(line)
	}
	return len(data), nil
}
