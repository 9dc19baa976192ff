// Package db owns the PostgreSQL side of the market: the connection pool,
// retrying transactions and the schema.
package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/config"
)

const applicationName = "collectible-market"

// Pool is the market's connection pool.
type Pool struct {
	*pgxpool.Pool
	pingTimeout time.Duration
}

// PoolHealth is a point-in-time view of the pool.
type PoolHealth struct {
	Ping         time.Duration
	MaxConns     int32
	Acquired     int32
	Idle         int32
	EmptyAcquire int64
}

// Saturated reports whether every connection is checked out, which means
// settlements are queueing for a connection.
func (h PoolHealth) Saturated() bool {
	return h.MaxConns > 0 && h.Acquired >= h.MaxConns
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// buildPoolConfig maps DatabaseConfig onto pgx settings. Purchases and pack
// openings hold row locks on balances, listings and scarcity counters, so
// lock_timeout bounds how long one settlement can stall behind another and
// the failure surfaces as a retryable lock_not_available.
func buildPoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pc.MaxConns = int32(max(cfg.PoolSize, 1))
	pc.MinConns = max(pc.MaxConns/4, 1)
	pc.ConnConfig.ConnectTimeout = orDefault(cfg.ConnectTimeout, 10*time.Second)
	pc.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, time.Hour)
	pc.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, 30*time.Minute)
	pc.HealthCheckPeriod = 30 * time.Second

	if pc.ConnConfig.RuntimeParams == nil {
		pc.ConnConfig.RuntimeParams = make(map[string]string)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	if cfg.LockTimeout > 0 {
		pc.ConnConfig.RuntimeParams["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

// NewPool connects to PostgreSQL and verifies the connection.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pc, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", pc.MaxConns).
		Dur("lock_timeout", cfg.LockTimeout).
		Msg("Connecting to PostgreSQL")

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	p := &Pool{Pool: pool, pingTimeout: pc.ConnConfig.ConnectTimeout}
	if _, err := p.Health(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("Successfully connected to PostgreSQL")
	return p, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}

// Health pings the database within the connect timeout and reports pool usage.
func (p *Pool) Health(ctx context.Context) (PoolHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()

	start := time.Now()
	if err := p.Pool.Ping(ctx); err != nil {
		return PoolHealth{}, fmt.Errorf("failed to ping database: %w", err)
	}

	st := p.Pool.Stat()
	return PoolHealth{
		Ping:         time.Since(start),
		MaxConns:     st.MaxConns(),
		Acquired:     st.AcquiredConns(),
		Idle:         st.IdleConns(),
		EmptyAcquire: st.EmptyAcquireCount(),
	}, nil
}

// HealthCheck reports whether the database answers.
func (p *Pool) HealthCheck(ctx context.Context) error {
	_, err := p.Health(ctx)
	return err
}

// LogHealth writes the pool state, warning when settlements wait for connections.
func (p *Pool) LogHealth(ctx context.Context) {
	h, err := p.Health(ctx)
	if err != nil {
		log.Error().Err(err).Msg("PostgreSQL health check failed")
		return
	}

	ev := log.Info()
	if h.Saturated() {
		ev = log.Warn()
	}
	ev.Dur("ping", h.Ping).
		Int32("max_conns", h.MaxConns).
		Int32("acquired_conns", h.Acquired).
		Int32("idle_conns", h.Idle).
		Int64("empty_acquire_count", h.EmptyAcquire).
		Msg("PostgreSQL pool health")
}
