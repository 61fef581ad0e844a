package rest

import (
	"cmp"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflare/tablerest/pkg/cache"
	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/edgeflare/tablerest/pkg/httputil"
	"github.com/edgeflare/tablerest/pkg/httputil/middleware"
	"github.com/edgeflare/tablerest/pkg/metrics"
	"github.com/edgeflare/tablerest/pkg/query"
	"github.com/edgeflare/tablerest/pkg/ratelimit"
)

const DefaultStatementTimeout = 10 * time.Second

// Executor runs a bounded retrieval. Timeouts must wrap
// query.ErrQueryTimeout or context.DeadlineExceeded.
type Executor interface {
	Execute(ctx context.Context, spec query.Spec) ([]map[string]any, error)
}

// Options configure a Server. Nil Cache or RateLimit disables that stage.
type Options struct {
	Query            query.Options
	StatementTimeout time.Duration
	BaseURL          string
	MaxConnections   int
	Cache            *cache.Loader
	RateLimit        *ratelimit.Policy
	CORS             *middleware.CORSOptions
	Logger           *zap.Logger
}

// Server owns the catalog, the response cache and the rate limiter for the
// lifetime of the process. Close flushes both.
type Server struct {
	catalog *catalog.Catalog
	exec    Executor
	opts    Options
	cache   *cache.Loader
	limiter *ratelimit.Policy
	router  *httputil.Router
	logger  *zap.Logger
}

func NewServer(cat *catalog.Catalog, exec Executor, opts Options) *Server {
	if cat == nil {
		cat = catalog.Empty()
	}
	if opts.Query == (query.Options{}) {
		opts.Query = query.DefaultOptions()
	}
	opts.StatementTimeout = cmp.Or(opts.StatementTimeout, DefaultStatementTimeout)
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		catalog: cat,
		exec:    exec,
		opts:    opts,
		cache:   opts.Cache,
		limiter: opts.RateLimit,
		logger:  logger,
		router: httputil.NewRouter(
			httputil.WithMaxConnections(opts.MaxConnections),
			httputil.WithLogger(logger),
			httputil.WithServerOptions(func(srv *http.Server) {
				srv.ReadHeaderTimeout = 5 * time.Second
			}),
		),
	}
	metrics.CatalogTables.Set(float64(cat.Len()))
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.router.Use(
		middleware.RequestID,
		middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: s.logger}),
		middleware.CORSWithOptions(s.opts.CORS),
	)
	api := s.router.Group(s.opts.BaseURL)
	api.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	listing := api.Group("")
	listing.Use(s.instrument("listing"))
	s.rateLimit(listing, ratelimit.TierListing)
	listing.HandleFunc("GET /{$}", s.handleIndex)
	listing.HandleFunc("GET /help/{table}", s.handleHelp)

	data := api.Group("")
	data.Use(s.instrument("data"))
	s.rateLimit(data, ratelimit.TierData)
	data.HandleFunc("GET /{table}", s.handleData)
}

func (s *Server) rateLimit(r *httputil.Router, tier ratelimit.Tier) {
	if s.limiter == nil {
		return
	}
	r.Use(middleware.RateLimit(middleware.RateLimitOptions{
		Checker: s.limiter,
		Tier:    tier,
		OnLimited: func(_ *http.Request, err *ratelimit.ExceededError) {
			metrics.RateLimited.WithLabelValues(string(err.Tier)).Inc()
		},
	}))
}

func (s *Server) instrument(route string) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := middleware.NewResponseRecorder(w)
			next.ServeHTTP(rec, r)
			metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.StatusCode)).Inc()
		})
	}
}

// requestLogger returns the logger tagged by the logger middleware, or the
// server's own.
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value(httputil.LogEntryCtxKey).(*zap.Logger); ok {
		return logger
	}
	return s.logger
}

// ServeHTTP makes Server usable as a plain http.Handler, e.g. under httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Catalog returns the catalog the server was built with.
func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Server) ListenAndServe(addr string) error {
	return s.router.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.router.Serve(ln)
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// flushes the cache and limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.router.Shutdown(ctx), s.Close())
}

// Close flushes the cache and rate limiter state.
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.limiter != nil {
		errs = append(errs, s.limiter.Close())
	}
	return errors.Join(errs...)
}
