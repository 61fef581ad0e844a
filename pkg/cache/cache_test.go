package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "stations|10|20|active=true&id=4", Key("stations", 10, 20, "active=true&id=4"))
	assert.NotEqual(t, Key("a", 1, 10, ""), Key("a", 11, 0, ""))
}

func TestMemory_SetAndGet(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(10, time.Minute)

	require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), time.Minute))
	value, found, err := cache.Get(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value1"), value)

	_, found, err = cache.Get(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_Expiration(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(10, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "short", []byte("v"), 10*time.Second))
	require.NoError(t, cache.Set(ctx, "long", []byte("v"), 10*time.Minute))

	now = now.Add(20 * time.Second)

	_, found, _ := cache.Get(ctx, "short")
	assert.False(t, found, "expected short to be expired")
	_, found, _ = cache.Get(ctx, "long")
	assert.True(t, found)
}

func TestMemory_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(2, time.Minute)

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), time.Minute))
	_, _, _ = cache.Get(ctx, "a")
	require.NoError(t, cache.Set(ctx, "c", []byte("3"), time.Minute))

	assert.Equal(t, 2, cache.Len())
	_, found, _ := cache.Get(ctx, "b")
	assert.False(t, found, "least recently used entry should be evicted")
	_, found, _ = cache.Get(ctx, "a")
	assert.True(t, found)
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(10, time.Minute)
	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Close())
	assert.Equal(t, 0, cache.Len())
}

func TestMemory_Concurrency(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(1000, time.Minute)
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = cache.Set(ctx, fmt.Sprintf("key%d", i), []byte{byte(i)}, time.Minute)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _, _ = cache.Get(ctx, fmt.Sprintf("key%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		_, found, _ := cache.Get(ctx, fmt.Sprintf("key%d", i))
		assert.True(t, found, "key%d", i)
	}
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader(NewMemory(10, time.Minute), time.Minute, nil)

	var calls int
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"n":1}`), nil
	}

	payload, hit, err := loader.Load(ctx, "k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, `{"n":1}`, string(payload))

	payload2, hit, err := loader.Load(ctx, "k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload, payload2)
	assert.Equal(t, 1, calls)
}

func TestLoaderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader(NewMemory(10, time.Minute), time.Minute, nil)

	var calls int
	boom := errors.New("boom")
	_, _, err := loader.Load(ctx, "k", func(context.Context) ([]byte, error) {
		calls++
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, hit, err := loader.Load(ctx, "k", func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestLoaderCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader(NewMemory(10, time.Minute), time.Minute, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, _, err := loader.Load(ctx, "k", compute)
			assert.NoError(t, err)
			assert.Equal(t, "v", string(payload))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestLoaderSurvivesCancelledCaller(t *testing.T) {
	loader := NewLoader(NewMemory(10, time.Minute), time.Minute, nil)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return []byte("v"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := loader.Load(firstCtx, "k", compute)
		firstErr <- err
	}()
	<-started

	type result struct {
		payload []byte
		err     error
	}
	second := make(chan result, 1)
	go func() {
		payload, _, err := loader.Load(context.Background(), "k", compute)
		second <- result{payload, err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "v", string(res.payload))
	assert.Equal(t, int32(1), calls.Load())

	payload, hit, err := loader.Load(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.True(t, hit, "the shared result is cached after the first caller left")
	assert.Equal(t, "v", string(payload))
}

func TestLoaderCallerDeadline(t *testing.T) {
	loader := NewLoader(NewMemory(10, time.Minute), time.Minute, nil)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := loader.Load(ctx, "k", func(context.Context) ([]byte, error) {
		<-release
		return []byte("v"), nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS")
	if url == "" {
		t.Skip("TEST_REDIS not set")
	}
	ctx := context.Background()

	cache, err := NewRedis(ctx, url)
	require.NoError(t, err)
	defer cache.Close()

	key := fmt.Sprintf("test|%d", time.Now().UnixNano())
	_, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, key, []byte("payload"), time.Minute))
	payload, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", string(payload))
}

func BenchmarkMemory_Set(b *testing.B) {
	ctx := context.Background()
	cache := NewMemory(DefaultMaxEntries, time.Minute)
	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
	}
}

func BenchmarkMemory_GetParallel(b *testing.B) {
	ctx := context.Background()
	cache := NewMemory(DefaultMaxEntries, time.Minute)
	for i := 0; i < 1000; i++ {
		_ = cache.Set(ctx, fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _, _ = cache.Get(ctx, fmt.Sprintf("key%d", i%1000))
			i++
		}
	})
}
