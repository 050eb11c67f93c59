package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/multitracer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newrelic/go-agent/v3/integrations/nrpgx5"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/logger"
)

const pingTimeout = 10 * time.Second

// NewPool opens a pgx pool against cfg.Database and verifies it with a ping.
// Queries are traced through zerolog and, when nrApp is set, New Relic.
func NewPool(ctx context.Context, cfg *config.Config, log zerolog.Logger, nrApp *newrelic.Application) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConnLifetime = time.Duration(cfg.Database.ConnMaxLifetime) * time.Second
	poolCfg.MaxConnIdleTime = time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second

	tracers := []pgx.QueryTracer{logger.NewPgxTracer(log, cfg.Observability)}
	if nrApp != nil {
		tracers = append(tracers, nrpgx5.NewTracer())
	}
	poolCfg.ConnConfig.Tracer = multitracer.New(tracers...)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("component", "database").
		Int32("max_conns", poolCfg.MaxConns).
		Msg("connected to database")
	return pool, nil
}
