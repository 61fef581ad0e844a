package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// PolicyConfig sets the budgets of each tier and the global ceilings that
// apply to every route.
type PolicyConfig struct {
	Listing Budget `mapstructure:"listing"`
	Data    Budget `mapstructure:"data"`
	Hourly  int    `mapstructure:"hourly"`
	Daily   int    `mapstructure:"daily"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Listing: Budget{Requests: 60, Window: time.Minute},
		Data:    Budget{Requests: 30, Window: time.Minute},
		Hourly:  200,
		Daily:   1000,
	}
}

// Policy applies tiered budgets per client.
type Policy struct {
	limiter Limiter
	tiers   map[Tier]Budget
	global  []Budget
}

func NewPolicy(l Limiter, cfg PolicyConfig) *Policy {
	p := &Policy{
		limiter: l,
		tiers: map[Tier]Budget{
			TierListing: cfg.Listing,
			TierData:    cfg.Data,
		},
	}
	if cfg.Hourly > 0 {
		p.global = append(p.global, Budget{Requests: cfg.Hourly, Window: time.Hour})
	}
	if cfg.Daily > 0 {
		p.global = append(p.global, Budget{Requests: cfg.Daily, Window: 24 * time.Hour})
	}
	return p
}

// Check records a request from client on a route of tier. It returns an
// *ExceededError naming the first breached budget, and the tightest
// remaining allowance otherwise.
func (p *Policy) Check(ctx context.Context, client string, tier Tier) (Result, error) {
	type scoped struct {
		scope  string
		tier   Tier
		budget Budget
	}
	checks := make([]scoped, 0, 1+len(p.global))
	if b := p.tiers[tier]; b.enabled() {
		checks = append(checks, scoped{string(tier), tier, b})
	}
	for _, b := range p.global {
		checks = append(checks, scoped{"global", "global", b})
	}

	var tightest Result
	for i, c := range checks {
		key := c.scope + ":" + client + ":" + strconv.FormatInt(int64(c.budget.Window/time.Second), 10)
		res, err := p.limiter.Allow(ctx, key, c.budget.Requests, c.budget.Window)
		if err != nil {
			return Result{}, fmt.Errorf("rate limit %s: %w", c.scope, err)
		}
		if !res.Allowed {
			return res, &ExceededError{Tier: c.tier, Budget: c.budget, Result: res}
		}
		if i == 0 || res.Remaining < tightest.Remaining {
			tightest = res
		}
	}
	if len(checks) == 0 {
		tightest.Allowed = true
	}
	return tightest, nil
}

func (p *Policy) Close() error {
	return p.limiter.Close()
}
