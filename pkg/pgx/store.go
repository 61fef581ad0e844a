package pgx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/tablerest/pkg/query"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"go.uber.org/zap"
)

const (
	// sqlstate query_canceled, raised when statement_timeout fires.
	queryCanceled = "57014"
	// sqlstate class data_exception: a bound value the column type rejects.
	dataExceptionClass = "22"
)

// encodeArgRe matches pgx failing to encode a bind argument client-side.
var encodeArgRe = regexp.MustCompile(`failed to encode args\[(\d+)\]`)

// ErrNotReadOnly is returned for any statement that is not a single plain SELECT.
var ErrNotReadOnly = errors.New("statement is not a read-only select")

// Store runs query specs against PostgreSQL.
type Store struct {
	conn   Conn
	logger *zap.Logger
}

func NewStore(conn Conn, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{conn: conn, logger: logger}
}

// Execute runs spec and returns its rows. A timeout, from the context
// deadline or the server statement_timeout, wraps query.ErrQueryTimeout.
func (s *Store) Execute(ctx context.Context, spec query.Spec) ([]map[string]any, error) {
	sql, args, err := spec.SQL(query.DollarDialect{})
	if err != nil {
		return nil, err
	}
	if err := checkReadOnly(sql); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(ctx, spec, err)
	}

	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, classify(ctx, spec, err)
	}

	s.logger.Debug("query executed",
		zap.String("sql", sql),
		zap.Int("rows", len(results)),
		zap.Duration("latency", time.Since(start)))

	if results == nil {
		results = []map[string]any{}
	}
	for _, row := range results {
		for k, v := range row {
			row[k] = normalizeValue(v)
		}
	}
	return results, nil
}

// normalizeValue makes values pgx decodes into raw arrays JSON-friendly.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return v
	}
}

func classify(ctx context.Context, spec query.Spec, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded), pgconn.Timeout(err):
		return fmt.Errorf("%w: %v", query.ErrQueryTimeout, err)
	case errors.As(err, &pgErr) && pgErr.Code == queryCanceled:
		return fmt.Errorf("%w: %s", query.ErrQueryTimeout, pgErr.Message)
	}
	if ce := conversionError(spec, err); ce != nil {
		return ce
	}
	return fmt.Errorf("postgres query: %w", err)
}

// conversionError reports filter values that passed validation but that
// postgres cannot represent in the column's actual type, such as 99999 for a
// smallint or a malformed uuid. It returns nil for any other error.
func conversionError(spec query.Spec, err error) *query.ConversionError {
	cols := spec.Filters.Columns()
	column := ""

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, dataExceptionClass):
		column = pgErr.ColumnName
		if column == "" && len(cols) == 1 {
			column = cols[0]
		}
	default:
		m := encodeArgRe.FindStringSubmatch(err.Error())
		if m == nil {
			return nil
		}
		if i, _ := strconv.Atoi(m[1]); i < len(cols) {
			column = cols[i]
		}
	}

	ce := &query.ConversionError{Column: column, Err: err}
	if col, ok := spec.Table.Column(column); ok {
		ce.Value = fmt.Sprint(spec.Filters[column])
		ce.Type = col.Type
		ce.DataType = col.DataType
	}
	return ce
}

// checkReadOnly parses sql with the PostgreSQL parser and accepts exactly one
// SELECT without locking or WITH clauses.
func checkReadOnly(sql string) error {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("parse statement: %w", err)
	}
	if len(tree.Stmts) != 1 {
		return ErrNotReadOnly
	}
	sel := tree.Stmts[0].GetStmt().GetSelectStmt()
	if sel == nil || len(sel.GetLockingClause()) > 0 || sel.GetWithClause() != nil {
		return ErrNotReadOnly
	}
	return nil
}
