package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflare/tablerest/pkg/cache"
	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/edgeflare/tablerest/pkg/httputil"
	"github.com/edgeflare/tablerest/pkg/metrics"
	"github.com/edgeflare/tablerest/pkg/query"
)

const (
	sampleColumns = 5

	HeaderCache = "X-Cache"
	cacheHit    = "HIT"
	cacheMiss   = "MISS"
)

type tableSummary struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Columns []string `json:"columns"`
	Example string   `json:"example"`
	Help    string   `json:"help"`
}

type indexResponse struct {
	Message string         `json:"message"`
	Count   int            `json:"count"`
	Tables  []tableSummary `json:"tables"`
}

type usage struct {
	Endpoint   string            `json:"endpoint"`
	Pagination map[string]string `json:"pagination"`
	Filters    map[string]string `json:"filters"`
	Example    string            `json:"example"`
}

type helpResponse struct {
	Table       string                          `json:"table"`
	Columns     map[string]catalog.SemanticType `json:"columns"`
	PrimaryKeys []string                        `json:"primary_keys,omitempty"`
	Usage       usage                           `json:"usage"`
}

type dataResponse struct {
	Table      string           `json:"table"`
	Count      int              `json:"count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	Filters    query.FilterSet  `json:"filters"`
	Results    []map[string]any `json:"results"`
	NextOffset *int             `json:"next_offset"`
}

func (s *Server) tablePath(name string) string {
	return s.opts.BaseURL + "/" + url.PathEscape(name)
}

// handleIndex lists every table. With an empty catalog it still answers 200
// so a server whose discovery failed stays reachable.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.Names()
	resp := indexResponse{
		Message: fmt.Sprintf("%d tables available", len(names)),
		Count:   len(names),
		Tables:  make([]tableSummary, 0, len(names)),
	}
	if len(names) == 0 {
		resp.Message = "no tables found"
	}

	for _, name := range names {
		t, _ := s.catalog.Lookup(name)
		cols := t.ColumnNames()
		if len(cols) > sampleColumns {
			cols = cols[:sampleColumns]
		}
		resp.Tables = append(resp.Tables, tableSummary{
			Name:    name,
			Type:    string(t.Type),
			Columns: cols,
			Example: fmt.Sprintf("%s?limit=%d", s.tablePath(name), s.opts.Query.DefaultLimit),
			Help:    s.opts.BaseURL + "/help/" + url.PathEscape(name),
		})
	}
	httputil.JSON(w, http.StatusOK, resp)
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("table")
	t, ok := s.catalog.Lookup(name)
	if !ok {
		s.writeError(w, &UnknownTableError{Table: name})
		return
	}

	filters := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		filters[col.Name] = fmt.Sprintf("equality filter, %s", col.Type)
	}

	httputil.JSON(w, http.StatusOK, helpResponse{
		Table:       name,
		Columns:     t.ColumnTypes(),
		PrimaryKeys: t.PrimaryKeys,
		Usage: usage{
			Endpoint: s.tablePath(name),
			Pagination: map[string]string{
				query.ParamLimit:  fmt.Sprintf("rows per page, 1 to %d (default %d)", s.opts.Query.MaxLimit, s.opts.Query.DefaultLimit),
				query.ParamOffset: fmt.Sprintf("rows to skip, 0 to %d (default 0)", s.opts.Query.MaxOffset),
			},
			Filters: filters,
			Example: fmt.Sprintf("%s?%s=%d&%s=0", s.tablePath(name), query.ParamLimit, s.opts.Query.DefaultLimit, query.ParamOffset),
		},
	})
}

// handleData serves every table: the table is resolved from the path, the
// query string is validated against its columns, and the page is served from
// cache or computed by the executor.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("table")
	t, ok := s.catalog.Lookup(name)
	if !ok {
		s.writeError(w, &UnknownTableError{Table: name})
		return
	}

	params := r.URL.Query()
	filters, err := query.Validate(t, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	spec, err := query.Build(t, filters, params.Get(query.ParamLimit), params.Get(query.ParamOffset), s.opts.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StatementTimeout)
	defer cancel()

	// Cache fills run detached from the caller; the executor is bounded here.
	compute := func(ctx context.Context) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.StatementTimeout)
		defer cancel()
		return s.execute(ctx, name, spec)
	}

	var (
		payload []byte
		hit     bool
	)
	if s.cache != nil {
		key := cache.Key(name, spec.Limit, spec.Offset, spec.Filters.Canonical())
		payload, hit, err = s.cache.Load(ctx, key, compute)
	} else {
		payload, err = compute(ctx)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			s.requestLogger(r).Debug("client went away", zap.String("table", name))
		} else {
			s.requestLogger(r).Error("query failed", zap.String("table", name), zap.Error(err))
		}
		s.writeError(w, err)
		return
	}

	if hit {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		w.Header().Set(HeaderCache, cacheHit)
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		w.Header().Set(HeaderCache, cacheMiss)
	}
	httputil.Blob(w, http.StatusOK, payload, "application/json")
}

func (s *Server) execute(ctx context.Context, name string, spec query.Spec) ([]byte, error) {
	start := time.Now()
	rows, err := s.exec.Execute(ctx, spec)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		switch code, _ := status(err, s.opts.StatementTimeout); code {
		case http.StatusRequestTimeout:
			outcome = "timeout"
		case StatusClientClosedRequest:
			outcome = "canceled"
		}
	}
	metrics.QueryDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	payload, err := json.Marshal(dataResponse{
		Table:      name,
		Count:      len(rows),
		Limit:      spec.Limit,
		Offset:     spec.Offset,
		Filters:    spec.Filters,
		Results:    rows,
		NextOffset: spec.NextOffset(len(rows)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return append(payload, '\n'), nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, msg := status(err, s.opts.StatementTimeout)
	httputil.Error(w, code, msg)
}
