package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tripwise/planner/backend/internal/config"
	"github.com/tripwise/planner/backend/internal/metrics"
	"github.com/tripwise/planner/backend/internal/service/prompt"
)

// Generation outcomes reported to metrics.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomeFatal   = "fatal"
)

// Status is a point-in-time view of the gateway for health checks.
type Status struct {
	Loaded    bool   `json:"model_loaded"`
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	PoolSize  int    `json:"pool_size"`
	InFlight  int    `json:"in_flight"`
	Queued    int    `json:"queued"`
}

// Gateway is the single shared handle to the loaded model. Generate may be
// called from any goroutine; at most PoolSize generations run at once and
// waiters are served in arrival order.
type Gateway struct {
	backend       Backend
	defaults      config.GenerationConfig
	contextWindow int
	timeout       time.Duration
	poolSize      int64

	slots     *semaphore.Weighted
	available atomic.Bool
	inFlight  atomic.Int64
	queued    atomic.Int64
	closeOnce sync.Once
}

// NewGateway wraps an already loaded backend.
func NewGateway(backend Backend, modelCfg config.ModelConfig, gen config.GenerationConfig) *Gateway {
	pool := int64(gen.PoolSize)
	if pool <= 0 {
		pool = 1
	}
	timeout := gen.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	g := &Gateway{
		backend:       backend,
		defaults:      gen,
		contextWindow: modelCfg.ContextWindow,
		timeout:       timeout,
		poolSize:      pool,
		slots:         semaphore.NewWeighted(pool),
	}
	g.available.Store(true)
	metrics.SetModelAvailable(backend.Name(), true)
	return g
}

// Load tries each loader in order and wraps the first backend that comes up.
// When every loader fails the returned error wraps ErrNoBackend and joins the
// individual failures.
func Load(ctx context.Context, cfg *config.Config, loaders ...Loader) (*Gateway, error) {
	if len(loaders) == 0 {
		return nil, fmt.Errorf("%w: no loaders configured", ErrNoBackend)
	}

	var errs []error
	for _, loader := range loaders {
		started := time.Now()
		backend, err := loader.Load(ctx, cfg.Model)
		if err != nil {
			log.Warn().Err(err).Str("component", "inference").Str("loader", loader.Name()).
				Msg("model backend failed to load, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", loader.Name(), err))
			continue
		}

		log.Info().Str("component", "inference").Str("backend", backend.Name()).
			Str("model", cfg.Model.Path).Int("n_ctx", cfg.Model.ContextWindow).
			Dur("took", time.Since(started)).Msg("model loaded")
		return NewGateway(backend, cfg.Model, cfg.Generation), nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}

// ResolveParams applies the configured defaults to optional overrides.
func (g *Gateway) ResolveParams(temperature *float64, maxTokens *int) (Params, error) {
	return ResolveParams(g.defaults, g.contextWindow, temperature, maxTokens)
}

// ContextWindow is the loaded model's context size in tokens.
func (g *Gateway) ContextWindow() int {
	return g.contextWindow
}

// BackendName names the loaded backend.
func (g *Gateway) BackendName() string {
	return g.backend.Name()
}

type generation struct {
	text string
	err  error
}

// Generate runs req on the model. The timeout starts once a slot is
// acquired; waiting for a slot is bounded only by ctx. When the timeout
// fires the caller gets ErrGenerationTimeout immediately, but the slot stays
// taken until the backend call actually returns.
func (g *Gateway) Generate(ctx context.Context, req Request) (Completion, error) {
	if err := req.Params.Validate(g.contextWindow); err != nil {
		return Completion{}, err
	}
	if !g.available.Load() {
		return Completion{}, ErrModelUnavailable
	}

	g.queued.Add(1)
	metrics.AddQueued(1)
	err := g.slots.Acquire(ctx, 1)
	g.queued.Add(-1)
	metrics.AddQueued(-1)
	if err != nil {
		return Completion{}, err
	}
	if !g.available.Load() {
		g.slots.Release(1)
		return Completion{}, ErrModelUnavailable
	}

	g.inFlight.Add(1)
	metrics.AddInFlight(1)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	done := make(chan generation, 1)
	started := time.Now()

	go func() {
		defer func() {
			g.inFlight.Add(-1)
			metrics.AddInFlight(-1)
			g.slots.Release(1)
		}()

		text, err := g.backend.Generate(callCtx, req)
		g.observe(callCtx, err, time.Since(started))
		done <- generation{text: text, err: err}
	}()

	var res generation
	select {
	case res = <-done:
	case <-callCtx.Done():
		select {
		case res = <-done:
		default:
			return Completion{}, g.contextError(ctx, callCtx)
		}
	}

	if res.err != nil {
		switch {
		case isFatal(res.err):
			return Completion{}, fmt.Errorf("%w: %v", ErrModelUnavailable, res.err)
		case ctx.Err() != nil || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return Completion{}, g.contextError(ctx, callCtx)
		default:
			return Completion{}, fmt.Errorf("%w: %w", ErrGenerationFailed, res.err)
		}
	}

	text := CleanCompletion(res.text, req.Prompt)
	usage := Usage{
		PromptTokens:     prompt.EstimateTokens(req.Prompt),
		CompletionTokens: prompt.EstimateTokens(text),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return Completion{
		Text:     text,
		Backend:  g.backend.Name(),
		Usage:    usage,
		Duration: time.Since(started),
	}, nil
}

func (g *Gateway) contextError(parent, call context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrGenerationTimeout, g.timeout)
	}
	return call.Err()
}

// observe records the outcome and retires the backend after a fatal error.
func (g *Gateway) observe(callCtx context.Context, err error, took time.Duration) {
	name := g.backend.Name()
	outcome := outcomeOK
	switch {
	case err == nil:
	case isFatal(err):
		outcome = outcomeFatal
		g.markUnavailable(err)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome = outcomeTimeout
	default:
		outcome = outcomeError
	}
	metrics.RecordGeneration(name, outcome, took)

	evt := log.Debug()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.Str("component", "inference").Str("backend", name).Str("outcome", outcome).
		Dur("took", took).Msg("generation finished")
}

func (g *Gateway) markUnavailable(cause error) {
	if g.available.CompareAndSwap(true, false) {
		metrics.SetModelAvailable(g.backend.Name(), false)
		log.Error().Err(cause).Str("component", "inference").Str("backend", g.backend.Name()).
			Msg("model backend failed fatally; refusing further generations")
	}
}

// Status reports the gateway state.
func (g *Gateway) Status() Status {
	return Status{
		Loaded:    true,
		Backend:   g.backend.Name(),
		Available: g.available.Load(),
		PoolSize:  int(g.poolSize),
		InFlight:  int(g.inFlight.Load()),
		Queued:    int(g.queued.Load()),
	}
}

// Close marks the model unavailable and releases the backend.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.available.Store(false)
		metrics.SetModelAvailable(g.backend.Name(), false)
		err = g.backend.Close()
	})
	return err
}
