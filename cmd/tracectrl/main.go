package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/database"
	"github.com/akave-ai/tracectrl/internal/logger"
	"github.com/akave-ai/tracectrl/internal/repository"
	"github.com/akave-ai/tracectrl/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile string
	var skipMigrations, migrateOnly bool

	flagSet := pflag.NewFlagSet("tracectrl", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading TRACECTRL_* variables")
	flagSet.BoolVar(&skipMigrations, "skip-migrations", false, "start without applying database migrations")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if skipMigrations && migrateOnly {
		return errors.New("--skip-migrations and --migrate-only are mutually exclusive")
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log := logger.NewLogger(cfg.Observability)
	loggerService, err := logger.NewLoggerService(cfg.Observability)
	if err != nil {
		return err
	}
	defer loggerService.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !skipMigrations {
		if err := database.RunMigrations(ctx, cfg.Database.URL, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}
	if migrateOnly {
		return nil
	}

	pool, err := database.NewPool(ctx, cfg, log, loggerService.Application())
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	defer pool.Close()

	srv, err := server.New(ctx, cfg, server.Deps{
		Clients:  repository.NewClientRepository(pool),
		Logs:     repository.NewLogRepository(pool),
		Database: pool,
		NewRelic: loggerService.Application(),
		Log:      log,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("env", cfg.Primary.Env).
		Str("port", cfg.Server.Port).
		Str("live_port", cfg.Live.Port).
		Msg("starting tracectrl")
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info().Msg("tracectrl stopped")
	return nil
}
