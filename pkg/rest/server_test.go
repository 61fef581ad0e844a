package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/tablerest/internal/testutil"
	"github.com/edgeflare/tablerest/pkg/cache"
	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/edgeflare/tablerest/pkg/httputil"
	"github.com/edgeflare/tablerest/pkg/query"
	"github.com/edgeflare/tablerest/pkg/ratelimit"
	"github.com/edgeflare/tablerest/pkg/sqldb"
)

// countingExecutor counts calls and can replace the result with an error.
type countingExecutor struct {
	next  Executor
	calls atomic.Int64
	err   error
	block bool
	// gate, when set, holds every execution until it is closed.
	gate chan struct{}
}

func (e *countingExecutor) Execute(ctx context.Context, spec query.Spec) ([]map[string]any, error) {
	e.calls.Add(1)
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.next.Execute(ctx, spec)
}

type fixture struct {
	srv   *Server
	exec  *countingExecutor
	cache *cache.Memory
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store, err := sqldb.New(testutil.DuckDB(t), sqldb.DuckDB, nil)
	require.NoError(t, err)

	cat := catalog.Load(context.Background(), store, "", nil)
	require.Equal(t, 2, cat.Len())

	f := &fixture{exec: &countingExecutor{next: store}}
	if opts.Cache == nil {
		f.cache = cache.NewMemory(0, cache.DefaultTTL)
		opts.Cache = cache.NewLoader(f.cache, cache.DefaultTTL, nil)
	}
	f.srv = NewServer(cat, f.exec, opts)
	t.Cleanup(func() { f.srv.Close() })
	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

type page struct {
	Table      string           `json:"table"`
	Count      int              `json:"count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	Filters    map[string]any   `json:"filters"`
	Results    []map[string]any `json:"results"`
	NextOffset *int             `json:"next_offset"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestIndex(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.get("/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	idx := decode[indexResponse](t, rr)
	assert.Equal(t, 2, idx.Count)
	require.Len(t, idx.Tables, 2)
	stations := idx.Tables[1]
	assert.Equal(t, "stations", stations.Name)
	assert.Equal(t, []string{"id", "name", "country", "elevation", "active"}, stations.Columns)
	assert.Equal(t, "/stations?limit=10", stations.Example)
	assert.Equal(t, "/help/stations", stations.Help)
}

func TestIndexDegraded(t *testing.T) {
	srv := NewServer(catalog.Empty(), &countingExecutor{}, Options{})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	idx := decode[indexResponse](t, rr)
	assert.Equal(t, "no tables found", idx.Message)
	assert.Empty(t, idx.Tables)
}

func TestHelp(t *testing.T) {
	f := newFixture(t, Options{})

	for _, name := range f.srv.Catalog().Names() {
		t.Run(name, func(t *testing.T) {
			rr := f.get("/help/" + name)
			require.Equal(t, http.StatusOK, rr.Code)

			help := decode[helpResponse](t, rr)
			table, _ := f.srv.Catalog().Lookup(name)
			assert.Equal(t, name, help.Table)
			assert.Equal(t, table.ColumnTypes(), help.Columns)
			assert.Equal(t, "/"+name, help.Usage.Endpoint)
			assert.Len(t, help.Usage.Filters, len(table.Columns))
		})
	}

	rr := f.get("/help/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, decode[httputil.ErrorResponse](t, rr).Error, "nope")
}

func TestDataFilters(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		query   string
		wantIDs []float64
		match   func(row map[string]any) bool
	}{
		{"country=NO&active=true", []float64{1, 2, 12}, func(r map[string]any) bool {
			return r["country"] == "NO" && r["active"] == true
		}},
		{"country=SE", []float64{4, 5}, func(r map[string]any) bool { return r["country"] == "SE" }},
		{"elevation=4.0", []float64{6}, func(r map[string]any) bool { return r["elevation"] == 4.0 }},
		{"active=false", []float64{3, 5, 8, 11}, func(r map[string]any) bool { return r["active"] == false }},
		{"name=Nuuk&id=10", []float64{10}, func(r map[string]any) bool { return r["name"] == "Nuuk" }},
		{"installed_at=2001-01-01T00:00:00Z", []float64{1}, func(r map[string]any) bool { return r["name"] == "Oslo Blindern" }},
		{"installed_at=2001-01-01", []float64{1}, func(r map[string]any) bool { return r["name"] == "Oslo Blindern" }},
		{"installed_at=2001-01-01%2000:00:00", []float64{1}, func(r map[string]any) bool { return r["name"] == "Oslo Blindern" }},
		{"installed_at=1999-07-01T00:00:00Z&active=false", []float64{3}, func(r map[string]any) bool { return r["active"] == false }},
		{"country=XX", []float64{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := f.get("/stations?" + tt.query)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			p := decode[page](t, rr)
			ids := make([]float64, 0, len(p.Results))
			for _, row := range p.Results {
				ids = append(ids, row["id"].(float64))
				assert.True(t, tt.match(row), "row %v does not match %s", row, tt.query)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, len(tt.wantIDs), p.Count)
			assert.NotNil(t, p.Results)
		})
	}
}

func TestLimitClamped(t *testing.T) {
	f := newFixture(t, Options{})

	p := decode[page](t, f.get("/stations?limit=99999"))
	assert.Equal(t, 250, p.Limit)
	assert.LessOrEqual(t, p.Count, 250)
	assert.Equal(t, 12, p.Count)
	assert.Nil(t, p.NextOffset)

	p = decode[page](t, f.get("/stations?limit=0"))
	assert.Equal(t, 1, p.Limit)
	assert.Equal(t, 1, p.Count)

	p = decode[page](t, f.get("/stations?limit=99999999999999999999"))
	assert.Equal(t, 250, p.Limit)
	assert.Equal(t, 12, p.Count)
}

func TestOffsetBeyondMaxRejected(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.get("/stations?offset=10001")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[httputil.ErrorResponse](t, rr).Error, "10000")
	assert.Zero(t, f.exec.calls.Load())

	rr = f.get("/stations?offset=99999999999999999999")
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Zero(t, f.exec.calls.Load())

	assert.Equal(t, http.StatusOK, f.get("/stations?offset=10000").Code)
}

func TestOffsetBeyondMaxClampedWhenLenient(t *testing.T) {
	opts := query.DefaultOptions()
	opts.StrictOffset = false
	f := newFixture(t, Options{Query: opts})

	rr := f.get("/stations?offset=50000")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10000, decode[page](t, rr).Offset)
}

func TestUnknownColumn(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.get("/stations?bogus_col=1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[httputil.ErrorResponse](t, rr)
	assert.Contains(t, body.Error, "bogus_col")
	assert.Equal(t, http.StatusBadRequest, body.Code)
	assert.Zero(t, f.exec.calls.Load())
}

func TestConversionError(t *testing.T) {
	f := newFixture(t, Options{})

	for _, q := range []string{"id=abc", "elevation=high", "installed_at=yesterday"} {
		rr := f.get("/stations?" + q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
	assert.Zero(t, f.exec.calls.Load())
}

func TestBooleanAsymmetry(t *testing.T) {
	f := newFixture(t, Options{})

	for raw, want := range map[string]bool{"TRUE": true, "true": true, "True": true, "nope": false} {
		rr := f.get("/stations?active=" + raw)
		require.Equal(t, http.StatusOK, rr.Code, raw)
		p := decode[page](t, rr)
		assert.Equal(t, want, p.Filters["active"], raw)
		for _, row := range p.Results {
			assert.Equal(t, want, row["active"], raw)
		}
	}
}

func TestCacheServesIdenticalPayload(t *testing.T) {
	f := newFixture(t, Options{})

	first := f.get("/stations?country=NO&active=true&limit=2")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(HeaderCache))

	second := f.get("/stations?limit=2&active=TRUE&country=NO")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(HeaderCache))

	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.EqualValues(t, 1, f.exec.calls.Load())
}

func TestCacheDisabled(t *testing.T) {
	store, err := sqldb.New(testutil.DuckDB(t), sqldb.DuckDB, nil)
	require.NoError(t, err)
	exec := &countingExecutor{next: store}
	srv := NewServer(catalog.Load(context.Background(), store, "", nil), exec, Options{})

	for range 2 {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stations", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "MISS", rr.Header().Get(HeaderCache))
	}
	assert.EqualValues(t, 2, exec.calls.Load())
}

func TestRateLimitDataRoute(t *testing.T) {
	f := newFixture(t, Options{
		RateLimit: ratelimit.NewPolicy(ratelimit.NewMemory(), ratelimit.DefaultPolicyConfig()),
	})

	for i := range 30 {
		rr := f.get(fmt.Sprintf("/stations?offset=%d", i))
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
	}
	assert.EqualValues(t, 30, f.exec.calls.Load())
	assert.Equal(t, 30, f.cache.Len())

	rr := f.get("/stations?offset=30")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, decode[httputil.ErrorResponse](t, rr).Error, "30 per 1m0s")

	assert.EqualValues(t, 30, f.exec.calls.Load(), "limited request must not execute")
	assert.Equal(t, 30, f.cache.Len(), "limited request must not touch the cache")

	assert.Equal(t, http.StatusOK, f.get("/").Code, "listing tier has its own budget")
}

func TestNextOffset(t *testing.T) {
	f := newFixture(t, Options{})

	p := decode[page](t, f.get("/stations?limit=5"))
	require.NotNil(t, p.NextOffset)
	assert.Equal(t, 5, *p.NextOffset)

	p = decode[page](t, f.get("/stations?limit=5&offset=10"))
	assert.Equal(t, 2, p.Count)
	assert.Nil(t, p.NextOffset)

	rr := f.get("/stations?limit=5&offset=10")
	assert.Contains(t, rr.Body.String(), `"next_offset":null`)
}

func TestQueryTimeout(t *testing.T) {
	t.Run("executor reports timeout", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.exec.err = fmt.Errorf("%w: canceling statement", query.ErrQueryTimeout)

		rr := f.get("/stations")
		assert.Equal(t, http.StatusRequestTimeout, rr.Code)
		assert.Zero(t, f.cache.Len())
	})

	t.Run("deadline elapses", func(t *testing.T) {
		f := newFixture(t, Options{StatementTimeout: 20 * time.Millisecond})
		f.exec.block = true

		rr := f.get("/stations")
		assert.Equal(t, http.StatusRequestTimeout, rr.Code)
		assert.Contains(t, decode[httputil.ErrorResponse](t, rr).Error, "20ms")

		assert.Eventually(t, func() bool {
			f.get("/stations")
			return f.exec.calls.Load() >= 2
		}, time.Second, 10*time.Millisecond, "timeouts are not cached")
	})
}

func TestSharedFillSurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t, Options{})
	f.exec.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := httptest.NewRecorder()
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		f.srv.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/stations?country=NO", nil).WithContext(ctx))
	}()
	require.Eventually(t, func() bool { return f.exec.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *httptest.ResponseRecorder, 1)
	go func() { second <- f.get("/stations?country=NO") }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-firstDone
	assert.Equal(t, StatusClientClosedRequest, first.Code)

	close(f.exec.gate)
	rr := <-second
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 4, decode[page](t, rr).Count)
	assert.EqualValues(t, 1, f.exec.calls.Load())
	assert.Equal(t, 1, f.cache.Len())
}

func TestExecutionError(t *testing.T) {
	f := newFixture(t, Options{})
	f.exec.err = errors.New("relation does not exist")

	rr := f.get("/stations")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "relation")

	f.get("/stations")
	assert.EqualValues(t, 2, f.exec.calls.Load(), "errors are not cached")
	assert.Zero(t, f.cache.Len())
}

func TestValueRejectedByStore(t *testing.T) {
	f := newFixture(t, Options{})
	f.exec.err = fmt.Errorf("postgres: %w", &query.ConversionError{
		Column:   "elevation",
		Value:    "99999",
		Type:     catalog.Float,
		DataType: "numeric(4,1)",
		Err:      errors.New("numeric field overflow"),
	})

	rr := f.get("/stations?elevation=99999")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[httputil.ErrorResponse](t, rr).Error, "numeric(4,1)")
	assert.Zero(t, f.cache.Len())
}

func TestUnknownTable(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.get("/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Zero(t, f.exec.calls.Load())
}

func TestBaseURL(t *testing.T) {
	f := newFixture(t, Options{BaseURL: "/api/"})

	assert.Equal(t, http.StatusOK, f.get("/api/stations").Code)
	assert.Equal(t, http.StatusOK, f.get("/api/help/stations").Code)

	idx := decode[indexResponse](t, f.get("/api/"))
	assert.Equal(t, "/api/help/readings", idx.Tables[0].Help)

	assert.Equal(t, http.StatusNotFound, f.get("/stations").Code)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, Options{})

	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/stations", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCloseFlushesCache(t *testing.T) {
	f := newFixture(t, Options{})

	f.get("/stations")
	require.Equal(t, 1, f.cache.Len())

	require.NoError(t, f.srv.Close())
	assert.Zero(t, f.cache.Len())
}
