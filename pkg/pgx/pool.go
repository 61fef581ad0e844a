package pgx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolOptions tune the pool created by Connect.
type PoolOptions struct {
	// StatementTimeout is set as the session statement_timeout so the server
	// abandons queries the caller has already given up on.
	StatementTimeout time.Duration
	MaxConns         int32
	// PingAttempts bounds the startup connectivity check. Zero means one try.
	PingAttempts uint64
	Logger       *zap.Logger
}

// Connect creates a pool whose sessions are read-only. An unreachable server
// is logged, not returned: the pool connects lazily and discovery decides
// whether the service starts degraded.
func Connect(ctx context.Context, connString string, opts PoolOptions) (*pgxpool.Pool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	params := cfg.ConnConfig.RuntimeParams
	params["default_transaction_read_only"] = "on"
	if opts.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.PingAttempts), ctx)
	err = backoff.Retry(func() error {
		return pool.Ping(ctx)
	}, b)
	if err != nil {
		logger.Warn("postgres unreachable", zap.String("host", cfg.ConnConfig.Host), zap.Error(err))
	} else {
		logger.Info("connected to postgres", zap.String("host", cfg.ConnConfig.Host), zap.String("database", cfg.ConnConfig.Database))
	}

	return pool, nil
}
