package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/planner/backend/internal/config"
	"github.com/tripwise/planner/backend/internal/handler"
	"github.com/tripwise/planner/backend/internal/logger"
	"github.com/tripwise/planner/backend/internal/model/persona"
	"github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/internal/service/inference"
	"github.com/tripwise/planner/backend/internal/service/session"
)

var (
	version = "dev"
	cli     struct {
		EnvFile string           `help:"Path to a .env file loaded before reading the environment." default:".env" type:"path"`
		Debug   bool             `help:"Log at debug level regardless of LOG_LEVEL."`
		Version kong.VersionFlag `help:"Print the version and exit."`
	}
)

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("planner-api"),
		kong.Description("Conversational travel planning backend."),
		kong.Vars{"version": version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.FatalIfErrorf(run(ctx))
}

func run(ctx context.Context) error {
	envErr := godotenv.Load(cli.EnvFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cli.Debug {
		cfg.Log.Level = zerolog.LevelDebugValue
	}

	appLog := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		log.Warn().Err(envErr).Str("file", cli.EnvFile).Msg("continuing with system environment variables only")
	}

	store, closeStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	loaders, err := inference.LoadersFor(cfg.Model.Backends)
	if err != nil {
		return err
	}
	gateway, err := inference.Load(ctx, cfg, loaders...)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release model backend")
		}
	}()

	personas := persona.NewRegistry(persona.Seed())
	chatSvc, err := chat.NewService(store, gateway, personas, cfg.PersonaID)
	if err != nil {
		return err
	}

	router := handler.NewRouter(appLog, chatSvc, personas, gateway)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("version", version).Str("addr", cfg.Server.Addr).
		Str("backend", gateway.BackendName()).Msg("travel planner listening")
	return runServer(ctx, srv)
}

// newSessionStore picks Redis when configured, otherwise memory with a
// background sweeper. The returned func releases whatever was started.
func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	opts := session.Options{TTL: cfg.Session.TTL, MaxMessages: cfg.Session.MaxMessages}

	if cfg.Redis.Enabled() {
		client, err := session.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return session.NewRedisStore(client, opts), func() { _ = client.Close() }, nil
	}

	store := session.NewMemoryStore(opts)
	sweeper := session.NewSweeper(store, cfg.Session.SweepInterval)
	if err := sweeper.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start session sweeper: %w", err)
	}
	log.Info().Dur("ttl", cfg.Session.TTL).Int("limit", cfg.Session.MaxMessages).
		Msg("conversation memory held in process")
	return store, sweeper.Stop, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
