// Package pgx executes bounded, read-only queries against PostgreSQL.
package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Conn is the read side of a PostgreSQL connection. It is satisfied by
// *pgx.Conn, *pgxpool.Conn and *pgxpool.Pool.
type Conn interface {
	// Query executes a SQL query in the context of the given context 'ctx'.
	// It returns a Rows object that can be used to iterate over the results
	// of the query, or an error if there was an issue during execution.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
