package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"thirdcoast.systems/certify/internal/config"
)

var (
	dbOpenBackoffBase = 1 * time.Second
	dbOpenBackoffCap  = 15 * time.Second
)

// connectBackoff is a capped Fibonacci backoff limited to attempts tries.
func connectBackoff(attempts int) retry.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewFibonacci(dbOpenBackoffBase)
	b = retry.WithCappedDuration(dbOpenBackoffCap, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// OpenDBPoolWithRetry initializes a new PostgreSQL connection pool with retry logic.
func OpenDBPoolWithRetry(ctx context.Context, conf config.Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	slog.Info("Connecting to database", "host", cfg.ConnConfig.Host)
	var pool *pgxpool.Pool
	err = retry.Do(ctx, connectBackoff(conf.DatabaseRetries), func(ctx context.Context) error {
		if pool == nil {
			p, err := pgxpool.NewWithConfig(ctx, cfg)
			if err != nil {
				slog.Warn("database pool creation failed, retrying", "error", err)
				return retry.RetryableError(err)
			}
			pool = p
		}

		pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			slog.Warn("database ping failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", conf.DatabaseRetries, err)
	}

	slog.Info("Connected to database", "host", cfg.ConnConfig.Host)
	return pool, nil
}
