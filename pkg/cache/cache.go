// Package cache stores serialized responses under a deterministic key with a
// fixed expiry. Entries may disappear early; nothing invalidates them when the
// underlying data changes, so staleness is bounded by the ttl.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const DefaultTTL = 300 * time.Second

// Cache is safe for concurrent use.
type Cache interface {
	// Get returns the payload stored under key, if present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores payload under key for ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Close releases the cache. In-process state is flushed.
	Close() error
}

// Key builds the cache key of a request. filters must already be canonical
// (sorted by column, values normalized by type).
func Key(table string, limit, offset int, filters string) string {
	var b strings.Builder
	b.Grow(len(table) + len(filters) + 16)
	b.WriteString(table)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(limit))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(offset))
	b.WriteByte('|')
	b.WriteString(filters)
	return b.String()
}
