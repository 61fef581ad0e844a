package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type window struct {
	end   time.Time
	count int
}

// Memory keeps counters in process.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	hits    int
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, period time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.hits++
	if m.hits%sweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.end) {
		w = &window{end: now.Add(period)}
		m.windows[key] = w
	}
	w.count++

	return Result{
		Allowed:    w.count <= limit,
		Limit:      limit,
		Remaining:  max(0, limit-w.count),
		ResetAfter: w.end.Sub(now),
	}, nil
}

// sweep drops finished windows. Callers hold mu.
func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.end) {
			delete(m.windows, k)
		}
	}
}

// Close drops all counters.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = make(map[string]*window)
	return nil
}
