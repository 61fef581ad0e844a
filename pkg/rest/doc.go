// Package rest serves a read-only REST API over a discovered relational
// schema.
//
// Every table in the catalog is reachable through one generic handler that
// resolves the table from the path segment:
//
//	Route             | Description
//	------------------|------------------------------------------------
//	GET /             | List tables with sample columns and example links
//	GET /help/{table} | Column names and semantic types, usage notes
//	GET /{table}      | Filtered, paginated rows
//
// Tables outside the default schema are addressed as schema.table.
//
// Query parameters on the data route:
//
//	Parameter  | Description
//	-----------|------------------------------------------------
//	?limit=10  | Page size, clamped to [1, maxLimit] (default: 10)
//	?offset=0  | Rows to skip; above maxOffset is rejected with 400
//	?col=val   | Equality filter, coerced to the column's type
//
// Boolean filters never fail: only a case-insensitive "true" is true.
//
// A data response looks like:
//
//	{
//	  "table": "stations",
//	  "count": 2,
//	  "limit": 2,
//	  "offset": 0,
//	  "filters": {"active": true},
//	  "results": [{"id": 1, ...}, {"id": 2, ...}],
//	  "next_offset": 2
//	}
//
// next_offset is null when fewer than limit rows came back. Successful data
// responses are cached for the configured ttl; the X-Cache header reports
// HIT or MISS. Errors are never cached and are returned as
// {"error": "...", "code": N}.
//
// Example usage:
//
//	cat := catalog.Load(ctx, store, "public", logger)
//	srv := rest.NewServer(cat, store, rest.Options{
//		Query:            query.DefaultOptions(),
//		StatementTimeout: 10 * time.Second,
//		Cache:            cache.NewLoader(cache.NewMemory(0, cache.DefaultTTL), cache.DefaultTTL, logger),
//		RateLimit:        ratelimit.NewPolicy(ratelimit.NewMemory(), ratelimit.DefaultPolicyConfig()),
//		Logger:           logger,
//	})
//	defer srv.Close()
//	log.Fatal(srv.ListenAndServe(":8080"))
package rest
