// Package sqldb executes bounded, read-only queries through database/sql
// against MySQL, ClickHouse and DuckDB, and reflects their schemas.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/edgeflare/tablerest/pkg/query"
)

type Driver string

const (
	MySQL      Driver = "mysql"
	ClickHouse Driver = "clickhouse"
	DuckDB     Driver = "duckdb"
)

// columnsQuery lists (table, column, data type, is primary key) for the
// current database in ordinal order.
var columnsQuery = map[Driver]string{
	MySQL: `SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, COLUMN_KEY = 'PRI'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	ClickHouse: `SELECT table, name, type, is_in_primary_key
		FROM system.columns
		WHERE database = currentDatabase()
		ORDER BY table, position`,
	DuckDB: `SELECT c.table_name, c.column_name, c.data_type,
			EXISTS (
				SELECT 1 FROM duckdb_constraints() k
				WHERE k.schema_name = c.table_schema
					AND k.table_name = c.table_name
					AND k.constraint_type = 'PRIMARY KEY'
					AND list_contains(k.constraint_column_names, c.column_name)
			)
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema()
		ORDER BY c.table_name, c.ordinal_position`,
}

var dialects = map[Driver]query.Dialect{
	MySQL:      query.BacktickDialect{},
	ClickHouse: query.QuestionDialect{},
	DuckDB:     query.QuestionDialect{},
}

// Options tune Open.
type Options struct {
	MaxOpenConns int
	PingAttempts uint64
	Logger       *zap.Logger
}

// Store implements both catalog.Discoverer and the query executor.
type Store struct {
	db      *sql.DB
	driver  Driver
	dialect query.Dialect
	logger  *zap.Logger
}

// Open connects with the given driver. Connectivity failures after the
// bounded retries are logged and the store is still returned, so discovery
// can fall back to an empty catalog.
func Open(ctx context.Context, driver Driver, dsn string, opts Options) (*Store, error) {
	db, err := openDB(driver, dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s, err := New(db, driver, opts.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.PingAttempts), ctx)
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, b); err != nil {
		s.logger.Warn("database unreachable", zap.String("driver", string(driver)), zap.Error(err))
	}
	return s, nil
}

func openDB(driver Driver, dsn string) (*sql.DB, error) {
	switch driver {
	case MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		return sql.OpenDB(connector), nil
	case ClickHouse:
		opts, err := clickhouse.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
		}
		return clickhouse.OpenDB(opts), nil
	case DuckDB:
		db, err := sql.Open(string(DuckDB), dsn)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

// New wraps an open database handle.
func New(db *sql.DB, driver Driver, logger *zap.Logger) (*Store, error) {
	dialect, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, driver: driver, dialect: dialect, logger: logger}, nil
}

// Discover reflects the tables of the current database. Tables are returned
// without a schema so queries resolve against the connection's database.
func (s *Store) Discover(ctx context.Context) ([]catalog.Table, error) {
	rows, err := s.db.QueryContext(ctx, columnsQuery[s.driver])
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var tables []catalog.Table
	for rows.Next() {
		var (
			tableName    string
			col          catalog.Column
			isPrimaryKey bool
		)
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &isPrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.Type = catalog.ParseSemanticType(col.DataType)

		if n := len(tables); n == 0 || tables[n-1].Name != tableName {
			tables = append(tables, catalog.Table{Name: tableName, Type: catalog.TypeTable})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, col)
		if isPrimaryKey {
			t.PrimaryKeys = append(t.PrimaryKeys, col.Name)
		}
	}
	return tables, rows.Err()
}

// Execute runs spec. Timeouts wrap query.ErrQueryTimeout.
func (s *Store) Execute(ctx context.Context, spec query.Spec) ([]map[string]any, error) {
	stmt, args, err := spec.SQL(s.dialect)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	s.logger.Debug("query executed",
		zap.String("driver", string(s.driver)),
		zap.String("sql", stmt),
		zap.Int("rows", len(results)),
		zap.Duration("latency", time.Since(start)))
	return results, nil
}

func (s *Store) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", query.ErrQueryTimeout, err)
	}
	return fmt.Errorf("%s query: %w", s.driver, err)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePointers := make([]any, len(columns))
		for i := range values {
			valuePointers[i] = &values[i]
		}

		if err := rows.Scan(valuePointers...); err != nil {
			return nil, err
		}

		rowMap := make(map[string]any, len(columns))
		for i, name := range columns {
			rowMap[name] = normalizeValue(values[i])
		}
		results = append(results, rowMap)
	}
	return results, rows.Err()
}

// normalizeValue converts driver-specific values into JSON-friendly ones.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case interface{ Float64() float64 }:
		return x.Float64()
	default:
		return v
	}
}
