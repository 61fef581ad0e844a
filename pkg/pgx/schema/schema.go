// Package schema reflects PostgreSQL tables, views and materialized views
// into catalog tables. Each column's information_schema data type is mapped
// to a semantic type once, here.
package schema

import (
	"context"
	"fmt"
	"slices"

	"github.com/edgeflare/tablerest/pkg/catalog"
	pg "github.com/edgeflare/tablerest/pkg/pgx"
)

// Discoverer implements catalog.Discoverer for PostgreSQL.
type Discoverer struct {
	conn    pg.Conn
	schemas []string
}

// NewDiscoverer reflects the given schemas, or every non-system schema when
// none are given.
func NewDiscoverer(conn pg.Conn, schemas ...string) *Discoverer {
	return &Discoverer{conn: conn, schemas: schemas}
}

func (d *Discoverer) Discover(ctx context.Context) ([]catalog.Table, error) {
	schemas, err := querySchemas(ctx, d.conn)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}

	var tables []catalog.Table
	for _, schema := range schemas {
		if isSystem(schema) {
			continue
		}
		if len(d.schemas) > 0 && !slices.Contains(d.schemas, schema) {
			continue
		}

		schemaTables, err := loadSchema(ctx, d.conn, schema)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", schema, err)
		}
		tables = append(tables, schemaTables...)
	}
	return tables, nil
}

func loadSchema(ctx context.Context, conn pg.Conn, schema string) ([]catalog.Table, error) {
	tableRows, err := conn.Query(ctx, `
    SELECT table_schema, table_name, 'TABLE'::text as table_type
        FROM information_schema.tables
        WHERE table_schema = $1 AND table_type = 'BASE TABLE'
        UNION ALL
        SELECT table_schema, table_name, 'VIEW'::text as table_type
        FROM information_schema.views
        WHERE table_schema = $1
        UNION ALL
        SELECT schemaname, matviewname, 'MATERIALIZED VIEW'::text as table_type
        FROM pg_matviews
        WHERE schemaname = $1
        ORDER BY table_schema, table_name`, schema)
	if err != nil {
		return nil, err
	}

	var tables []catalog.Table
	for tableRows.Next() {
		var t catalog.Table
		var tableTypeStr string
		if err := tableRows.Scan(&t.Schema, &t.Name, &tableTypeStr); err != nil {
			tableRows.Close()
			return nil, err
		}
		t.Type = catalog.TableType(tableTypeStr)
		tables = append(tables, t)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		cols, pkeys, err := queryColumns(ctx, conn, t.Schema, t.Name)
		if err != nil {
			return nil, fmt.Errorf("query columns %s.%s: %w", t.Schema, t.Name, err)
		}
		t.Columns = cols
		t.PrimaryKeys = pkeys
	}
	return tables, nil
}

// queryColumns reads columns in ordinal order. pg_attribute is used rather
// than information_schema.columns so materialized views are covered too.
func queryColumns(ctx context.Context, conn pg.Conn, schema, table string) ([]catalog.Column, []string, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			a.attname,
			format_type(a.atttypid, NULL),
			COALESCE(i.indisprimary, false) AS is_primary_key
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_index i
			ON i.indrelid = c.oid AND i.indisprimary AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = $1 AND c.relname = $2
			AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, schema, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []catalog.Column
	var pkeys []string
	for rows.Next() {
		var col catalog.Column
		var isPrimaryKey bool
		if err := rows.Scan(&col.Name, &col.DataType, &isPrimaryKey); err != nil {
			return nil, nil, err
		}
		col.Type = catalog.ParseSemanticType(col.DataType)
		cols = append(cols, col)
		if isPrimaryKey {
			pkeys = append(pkeys, col.Name)
		}
	}
	return cols, pkeys, rows.Err()
}

func querySchemas(ctx context.Context, conn pg.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast", "pg_temp_1", "pg_toast_temp_1":
		return true
	default:
		return false
	}
}
