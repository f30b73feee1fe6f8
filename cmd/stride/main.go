package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/stride/internal/engine"
	"github.com/rendis/stride/internal/logging"
	"github.com/rendis/stride/internal/plan"
	"github.com/rendis/stride/internal/statestore"
	"github.com/rendis/stride/internal/tools"
	"github.com/rendis/stride/pkg/mcp"
)

const usage = `stride executes decomposed task plans.

Usage:
  stride serve              Start the MCP server on stdio
  stride run <plan.json>    Execute a plan document and print the result

Environment:
  STRIDE_CONFIG             Path to settings.yaml (default ~/.stride/settings.yaml)
  STRIDE_LOG_LEVEL, STRIDE_STORE, STRIDE_CONTEXT_TTL, STRIDE_SWEEP_SCHEDULE,
  STRIDE_REDIS_ADDR, STRIDE_REDIS_PASSWORD, STRIDE_REDIS_DB, STRIDE_REDIS_PREFIX
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig(os.Getenv("STRIDE_CONFIG"))
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "run requires a plan document path")
			os.Exit(2)
		}
		err = runPlan(ctx, cfg, logger, os.Args[2])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("stride exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// newStore builds the configured context store and starts its sweeper.
func newStore(ctx context.Context, cfg Config, logger *slog.Logger) (statestore.ContextStore, error) {
	var store statestore.ContextStore
	switch cfg.Store {
	case "redis":
		store = statestore.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			statestore.WithRedisTTL(time.Duration(cfg.ContextTTL)),
			statestore.WithRedisPrefix(cfg.Redis.Prefix))
	case "memory", "":
		store = statestore.NewMemoryStore(statestore.WithMemoryTTL(time.Duration(cfg.ContextTTL)))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}

	if pruner, ok := store.(statestore.Pruner); ok && cfg.SweepSchedule != "" {
		sweeper := statestore.NewSweeper(pruner, cfg.SweepSchedule, logger)
		if err := sweeper.Start(ctx); err != nil {
			return nil, fmt.Errorf("start sweeper: %w", err)
		}
		go func() {
			<-ctx.Done()
			sweeper.Stop()
		}()
	}

	return store, nil
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := tools.NewRegistry()
	runner := engine.NewRunner(store, registry, logger)

	server, err := mcp.NewStrideServer(mcp.StrideServerDeps{
		Runner:   runner,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("stride mcp server listening on stdio",
		slog.String("store", cfg.Store))
	return server.Serve(ctx)
}

func runPlan(ctx context.Context, cfg Config, logger *slog.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plan document: %w", err)
	}

	decoder, err := plan.NewDecoder()
	if err != nil {
		return err
	}
	p, err := decoder.Decode(data)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := engine.NewRunner(store, tools.NewRegistry(), logger)
	result, err := runner.Run(ctx, p)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !result.Success {
		return fmt.Errorf("plan %s did not complete", result.WorkflowID)
	}
	return nil
}
