package tablerest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/edgeflare/tablerest/pkg/cache"
	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/edgeflare/tablerest/pkg/config"
	"github.com/edgeflare/tablerest/pkg/pgx"
	"github.com/edgeflare/tablerest/pkg/pgx/schema"
	"github.com/edgeflare/tablerest/pkg/ratelimit"
	"github.com/edgeflare/tablerest/pkg/rest"
	"github.com/edgeflare/tablerest/pkg/sqldb"
)

const pingAttempts = 5

// backend bundles the schema discovery and query execution collaborators of
// one database.
type backend struct {
	discoverer    catalog.Discoverer
	executor      rest.Executor
	defaultSchema string
	ping          func(ctx context.Context) error
	close         func()
}

func openBackend(ctx context.Context, c config.RESTConfig, logger *zap.Logger) (*backend, error) {
	if c.DB.ConnString == "" && c.DB.Driver != string(sqldb.DuckDB) {
		return nil, errors.New("database connection string required (--conn-string or TABLEREST_REST_DB_CONNSTRING)")
	}

	if c.DB.Driver == "postgres" {
		pool, err := pgx.Connect(ctx, c.DB.ConnString, pgx.PoolOptions{
			StatementTimeout: c.StatementTimeout,
			PingAttempts:     pingAttempts,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		var defaultSchema string
		if len(c.DB.Schemas) > 0 {
			defaultSchema = c.DB.Schemas[0]
		}
		return &backend{
			discoverer:    schema.NewDiscoverer(pool, c.DB.Schemas...),
			executor:      pgx.NewStore(pool, logger),
			defaultSchema: defaultSchema,
			ping:          pool.Ping,
			close:         pool.Close,
		}, nil
	}

	store, err := sqldb.Open(ctx, sqldb.Driver(c.DB.Driver), c.DB.ConnString, sqldb.Options{
		MaxOpenConns: c.MaxConnections,
		PingAttempts: pingAttempts,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return &backend{
		discoverer: store,
		executor:   store,
		ping:       store.Ping,
		close:      func() { store.Close() },
	}, nil
}

// newCache returns nil when caching is disabled.
func newCache(ctx context.Context, c config.CacheConfig, logger *zap.Logger) (*cache.Loader, error) {
	if !c.Enabled {
		return nil, nil
	}
	var backing cache.Cache = cache.NewMemory(c.MaxEntries, c.TTL)
	if c.RedisURL != "" {
		r, err := cache.NewRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		backing = r
	}
	return cache.NewLoader(backing, c.TTL, logger), nil
}

// newPolicy returns nil when rate limiting is disabled.
func newPolicy(ctx context.Context, c config.RateLimitConfig) (*ratelimit.Policy, error) {
	if !c.Enabled {
		return nil, nil
	}
	var limiter ratelimit.Limiter = ratelimit.NewMemory()
	if c.RedisURL != "" {
		r, err := ratelimit.NewRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		limiter = r
	}
	return ratelimit.NewPolicy(limiter, c.PolicyConfig), nil
}
