package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"combatd/internal/combat"
	"combatd/internal/server"
	"combatd/internal/storage/sqlite"
	"combatd/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var addr, dbPath string
	flagSet := pflag.NewFlagSet("combatd", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	flagSet.StringVar(&dbPath, "db", "", "SQLite database path (default $DB_PATH)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.ListenAddr()
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger := server.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn(".env file not loaded", slog.String("error", envErr.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "combatd",
		Endpoint:    cfg.OTELEndpoint,
		Enabled:     cfg.OTELEnabled,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("shutdown tracing", slog.String("error", err.Error()))
		}
	}()

	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	svc := combat.NewService(combat.ServiceConfig{
		Store:        store,
		Logger:       logger,
		LogRetention: cfg.LogRetention,
	})

	srv, err := server.New(cfg, svc, store, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	return srv.Run(ctx, addr)
}
