// Command ledoxide serves the bill digitization HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/zhufucdev/ledoxide/pkg/api"
	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/ledger"
	"github.com/zhufucdev/ledoxide/pkg/models"
	"github.com/zhufucdev/ledoxide/pkg/runner"
	"github.com/zhufucdev/ledoxide/pkg/scheduler"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	// Flag env sources read the environment at parse time, so the .env
	// file has to be loaded before the command runs.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "ledoxide",
		Usage:   "digitize photographed bills with vision and language models",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bind",
				Usage: "address to listen on",
				Value: "127.0.0.1:3100",
			},
			&cli.StringFlag{
				Name:    "auth-key",
				Usage:   "bearer token clients must present (empty disables auth)",
				Sources: cli.EnvVars("AUTH_KEY"),
			},
			&cli.StringSliceFlag{
				Name:  "category",
				Usage: "bill category the model may assign (repeatable)",
				Value: bill.DefaultCategories().Names(),
			},
			&cli.IntFlag{
				Name:  "max-concurrency",
				Usage: "tasks processed in parallel",
				Value: scheduler.DefaultMaxConcurrency,
			},
			&cli.IntFlag{
				Name:  "max-memory-size",
				Usage: "finished tasks kept in memory before swapping to disk",
				Value: scheduler.DefaultMaxMemorySize,
			},
			&cli.DurationFlag{
				Name:  "model-idle-timeout",
				Usage: "idle time before a cached model is released",
				Value: models.DefaultIdleTimeout,
			},
			&cli.StringFlag{
				Name:  "swap-path",
				Usage: "overflow log path (a temporary file when empty)",
			},
			&cli.StringFlag{
				Name:  "sweep-schedule",
				Usage: "cron expression for the periodic overflow sweep",
				Value: scheduler.DefaultSweepSchedule,
			},
			&cli.StringFlag{
				Name:  "models-config",
				Usage: "YAML file declaring model endpoints (local defaults when empty)",
			},
			&cli.StringFlag{
				Name:  "ledger",
				Usage: "SQLite path for the bill archive (disabled when empty)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
				Value: "text",
			},
		},
		Action: serve,
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd.String("log-level"), cmd.String("log-format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	authKey := cmd.String("auth-key")
	if !cmd.IsSet("auth-key") {
		authKey = api.GenerateKey()
		logger.Error("missing authorization key, using a random one", "key", authKey)
	} else if authKey == "" {
		logger.Warn("authorization is disabled")
	}

	cfg := runner.DefaultConfig()
	if path := cmd.String("models-config"); path != "" {
		cfg, err = runner.LoadConfig(path)
		if err != nil {
			return err
		}
	}

	sweepSpec := cmd.String("sweep-schedule")
	if _, err := scheduler.ParseSweepSpec(sweepSpec); err != nil {
		return err
	}

	categories := bill.NewCategories(cmd.StringSlice("category")...)
	pipeline := runner.NewPipeline(categories, logger)

	sched, err := scheduler.New(pipeline,
		scheduler.WithMaxConcurrency(cmd.Int("max-concurrency")),
		scheduler.WithMaxMemorySize(cmd.Int("max-memory-size")),
		scheduler.WithModelBuilders(runner.Builders(cfg)),
		scheduler.WithModelTimeout(cmd.Duration("model-idle-timeout")),
		scheduler.WithSwapPath(cmd.String("swap-path")),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer sched.Close()

	serverOpts := []api.Option{
		api.WithAuthKey(authKey),
		api.WithVersion(version),
		api.WithLogger(logger),
	}
	if path := cmd.String("ledger"); path != "" {
		book, err := ledger.Open(path)
		if err != nil {
			return err
		}
		defer book.Close()
		sched.OnFinish(book.FinishHook(logger))
		serverOpts = append(serverOpts, api.WithLedger(book))
		logger.Info("bill ledger enabled", "path", path)
	}

	go func() {
		if err := sched.RunSweeper(ctx, sweepSpec); err != nil {
			logger.Error("sweeper stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:         cmd.String("bind"),
		Handler:      api.NewServer(sched, serverOpts...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: l}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
