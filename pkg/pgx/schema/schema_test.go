package schema

import (
	"context"
	"testing"

	"github.com/edgeflare/tablerest/internal/testutil/pgtest"
	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	ctx := context.Background()
	conn := pgtest.Connect(ctx, t)

	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS test_discover (
			id SERIAL PRIMARY KEY,
			name TEXT,
			elevation DOUBLE PRECISION,
			active BOOLEAN,
			installed_at TIMESTAMPTZ,
			meta JSONB
		)`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = conn.Exec(context.Background(), "DROP TABLE IF EXISTS test_discover") })

	tables, err := NewDiscoverer(conn, "public").Discover(ctx)
	require.NoError(t, err)

	var found *catalog.Table
	for i := range tables {
		if tables[i].Name == "test_discover" {
			found = &tables[i]
		}
	}
	require.NotNil(t, found)

	assert.Equal(t, catalog.TypeTable, found.Type)
	assert.Equal(t, []string{"id"}, found.PrimaryKeys)
	assert.Equal(t, []string{"id", "name", "elevation", "active", "installed_at", "meta"}, found.ColumnNames())
	assert.Equal(t, map[string]catalog.SemanticType{
		"id":           catalog.Integer,
		"name":         catalog.String,
		"elevation":    catalog.Float,
		"active":       catalog.Boolean,
		"installed_at": catalog.Timestamp,
		"meta":         catalog.Other,
	}, found.ColumnTypes())
}

func TestIsSystem(t *testing.T) {
	assert.True(t, isSystem("pg_catalog"))
	assert.True(t, isSystem("information_schema"))
	assert.False(t, isSystem("public"))
}
