package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader wraps a Cache with get-or-compute. Concurrent misses on the same key
// share one computation, so a burst of identical requests runs one query and
// populates the cache once.
type Loader struct {
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewLoader returns a Loader storing entries for ttl.
func NewLoader(c Cache, ttl time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Loader{cache: c, ttl: ttl, logger: logger}
}

// Load returns the cached payload for key, or calls compute and caches its
// result. Errors from compute are returned and never cached. Cache backend
// failures are logged and treated as misses.
//
// A shared computation outlives any single caller: compute receives a context
// that carries ctx's values but not its cancellation or deadline, and must
// bound its own run time. Each caller waits only until its own ctx is done.
func (l *Loader) Load(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) (payload []byte, hit bool, err error) {
	if payload, ok := l.get(ctx, key); ok {
		return payload, true, nil
	}

	fill := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		if payload, ok := l.get(fill, key); ok {
			return payload, nil
		}
		payload, err := compute(fill)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(fill, key, payload, l.ttl); err != nil {
			l.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (l *Loader) get(ctx context.Context, key string) ([]byte, bool) {
	payload, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return payload, ok
}

func (l *Loader) Close() error {
	return l.cache.Close()
}
