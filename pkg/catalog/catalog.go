// Package catalog holds the set of tables discovered at startup and the
// semantic type of each of their columns.
//
// A Catalog is built once from a Discoverer and never mutated afterwards, so
// concurrent readers need no synchronization. When discovery fails the
// catalog is empty and the server runs in degraded mode.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"
)

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

// Table describes one exposed relation.
type Table struct {
	Schema      string    `json:"schema,omitempty"`
	Name        string    `json:"name"`
	Type        TableType `json:"type,omitempty"`
	Columns     []Column  `json:"columns"`
	PrimaryKeys []string  `json:"primary_keys,omitempty"`
}

// Column is a column name paired with the semantic type decided at discovery.
type Column struct {
	Name     string       `json:"name"`
	DataType string       `json:"data_type,omitempty"`
	Type     SemanticType `json:"type"`
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnTypes maps column name to semantic type.
func (t Table) ColumnTypes() map[string]SemanticType {
	m := make(map[string]SemanticType, len(t.Columns))
	for _, c := range t.Columns {
		m[c.Name] = c.Type
	}
	return m
}

// Discoverer reflects the tables of a backing store.
type Discoverer interface {
	Discover(ctx context.Context) ([]Table, error)
}

// Catalog is the immutable set of tables, keyed by their route name.
type Catalog struct {
	tables map[string]Table
	names  []string
}

// New builds a catalog. A table in defaultSchema (or without a schema) is
// keyed by its bare name, any other as schema.name.
func New(tables []Table, defaultSchema string) (*Catalog, error) {
	c := &Catalog{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("catalog: table without name in schema %q", t.Schema)
		}
		key := t.Name
		if t.Schema != "" && t.Schema != defaultSchema {
			key = t.Schema + "." + t.Name
		}
		if _, dup := c.tables[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate table %q", key)
		}
		seen := make(map[string]struct{}, len(t.Columns))
		for _, col := range t.Columns {
			if _, dup := seen[col.Name]; dup {
				return nil, fmt.Errorf("catalog: duplicate column %q in table %q", col.Name, key)
			}
			seen[col.Name] = struct{}{}
		}
		t.Columns = slices.Clone(t.Columns)
		t.PrimaryKeys = slices.Clone(t.PrimaryKeys)
		c.tables[key] = t
		c.names = append(c.names, key)
	}
	sort.Strings(c.names)
	return c, nil
}

// Empty returns a catalog with no tables.
func Empty() *Catalog {
	return &Catalog{tables: map[string]Table{}}
}

// Load runs discovery once. Any failure is logged and yields an empty
// catalog so the caller can still serve the index.
func Load(ctx context.Context, d Discoverer, defaultSchema string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}

	tables, err := d.Discover(ctx)
	if err != nil {
		logger.Warn("schema discovery failed, serving empty catalog", zap.Error(err))
		return Empty()
	}

	c, err := New(tables, defaultSchema)
	if err != nil {
		logger.Warn("invalid schema, serving empty catalog", zap.Error(err))
		return Empty()
	}

	logger.Info("schema loaded", zap.Int("tables", c.Len()))
	return c
}

// Lookup returns the table registered under name.
func (c *Catalog) Lookup(name string) (Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Names returns the table keys in lexicographic order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

func (c *Catalog) Len() int {
	return len(c.tables)
}

// MarshalJSON encodes the catalog as a name to table object.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.tables)
}
