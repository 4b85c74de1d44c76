package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/planner/backend/internal/config"
	"github.com/tripwise/planner/backend/internal/logger"
	"github.com/tripwise/planner/backend/internal/model/persona"
	"github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/internal/service/inference"
	"github.com/tripwise/planner/backend/internal/service/session"
)

var cli struct {
	EnvFile     string        `help:"Path to a .env file." default:".env" type:"path"`
	User        string        `help:"User id the turns belong to." default:"chattester"`
	Temperature *float64      `help:"Override the sampling temperature."`
	MaxTokens   *int          `help:"Override the completion length."`
	Timeout     time.Duration `help:"Overall time limit." default:"5m"`
	Messages    []string      `arg:"" optional:"" help:"Messages to send in order. Read from stdin, one per line, when empty."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("chattester"),
		kong.Description("Run conversation turns against the local model without the HTTP server."),
	)

	if err := godotenv.Load(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using system environment\n", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	kctx.FatalIfErrorf(run(ctx, os.Stdin, os.Stdout))
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	loaders, err := inference.LoadersFor(cfg.Model.Backends)
	if err != nil {
		return err
	}
	gateway, err := inference.Load(ctx, cfg, loaders...)
	if err != nil {
		return err
	}
	defer gateway.Close()

	store := session.NewMemoryStore(session.Options{TTL: cfg.Session.TTL, MaxMessages: cfg.Session.MaxMessages})
	svc, err := chat.NewService(store, gateway, persona.NewRegistry(persona.Seed()), cfg.PersonaID)
	if err != nil {
		return err
	}

	send := func(message string) error {
		started := time.Now()
		reply, err := svc.HandleTurn(ctx, chat.Turn{
			UserID:      cli.User,
			Message:     message,
			Temperature: cli.Temperature,
			MaxTokens:   cli.MaxTokens,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "> %s\n%s\n", message, reply.Text)
		if reply.Journey != nil {
			fmt.Fprintf(out, "[journey] %s -> %s\n", reply.Journey.Origin, reply.Journey.Destination)
		}
		log.Debug().Int("prompt_tokens", reply.Usage.PromptTokens).Int("completion_tokens", reply.Usage.CompletionTokens).
			Int("dropped", reply.Dropped).Dur("took", time.Since(started)).Msg("turn")
		return nil
	}

	if len(cli.Messages) > 0 {
		for _, m := range cli.Messages {
			if err := send(m); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := send(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
