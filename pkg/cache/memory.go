package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultMaxEntries = 10000

// Memory is an in-process cache bounded to a number of entries. When full,
// the least recently used entry is evicted before its expiry.
type Memory struct {
	lru *expirable.LRU[string, memoryItem]
	now func() time.Time
}

// memoryItem holds cached data along with its expiration
type memoryItem struct {
	payload    []byte
	expiration time.Time
}

// NewMemory creates a Memory cache. maxTTL bounds the lifetime of any entry
// regardless of the ttl passed to Set.
func NewMemory(maxEntries int, maxTTL time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxTTL <= 0 {
		maxTTL = DefaultTTL
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryItem](maxEntries, nil, maxTTL),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if m.now().After(item.expiration) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return item.payload, true, nil
}

func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.lru.Add(key, memoryItem{
		payload:    payload,
		expiration: m.now().Add(ttl),
	})
	return nil
}

// Len returns the number of entries, including expired ones not yet reaped.
func (m *Memory) Len() int {
	return m.lru.Len()
}

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
