// Package ratelimit bounds request rates per client with fixed-window
// counters. Each Allow call increments and checks atomically, so concurrent
// requests cannot slip past a budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	// Allow records one hit for key and reports whether it fits in limit
	// hits per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Close() error
}

// Result describes the state of one window after a hit.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Budget is a number of requests per window.
type Budget struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

func (b Budget) String() string {
	return fmt.Sprintf("%d per %s", b.Requests, b.Window)
}

func (b Budget) enabled() bool {
	return b.Requests > 0 && b.Window > 0
}

// Tier is a class of routes sharing a budget.
type Tier string

const (
	TierListing Tier = "listing"
	TierData    Tier = "data"
)

// ExceededError is returned by Policy.Check when a budget is spent.
type ExceededError struct {
	Tier   Tier
	Budget Budget
	Result Result
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (%s)", e.Budget, e.Tier)
}
