package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL syntax differences between backing stores.
type Dialect interface {
	// Placeholder returns the bind marker for the n-th argument, 1-based.
	Placeholder(n int) string
	// QuoteIdent quotes a single identifier.
	QuoteIdent(name string) string
}

// DollarDialect is PostgreSQL syntax: $1 markers and double-quoted identifiers.
type DollarDialect struct{}

func (DollarDialect) Placeholder(n int) string      { return "$" + strconv.Itoa(n) }
func (DollarDialect) QuoteIdent(name string) string { return doubleQuote(name) }

// QuestionDialect uses ? markers and double-quoted identifiers (DuckDB, ClickHouse).
type QuestionDialect struct{}

func (QuestionDialect) Placeholder(int) string        { return "?" }
func (QuestionDialect) QuoteIdent(name string) string { return doubleQuote(name) }

// BacktickDialect is MySQL syntax.
type BacktickDialect struct{}

func (BacktickDialect) Placeholder(int) string { return "?" }
func (BacktickDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func doubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQL renders the spec as a single SELECT. Filter values only ever travel
// as bind arguments; identifiers come from the catalog and are quoted.
// Limit and offset are bounded integers and are written inline.
func (s Spec) SQL(d Dialect) (string, []any, error) {
	var query strings.Builder
	args := make([]any, 0, len(s.Filters))

	query.WriteString("SELECT * FROM ")
	if s.Table.Schema != "" {
		query.WriteString(d.QuoteIdent(s.Table.Schema))
		query.WriteByte('.')
	}
	query.WriteString(d.QuoteIdent(s.Table.Name))

	for i, col := range s.Filters.Columns() {
		if _, ok := s.Table.Column(col); !ok {
			return "", nil, &UnknownColumnError{Table: s.Table.Name, Column: col}
		}
		if i == 0 {
			query.WriteString(" WHERE ")
		} else {
			query.WriteString(" AND ")
		}
		args = append(args, s.Filters[col])
		fmt.Fprintf(&query, "%s = %s", d.QuoteIdent(col), d.Placeholder(len(args)))
	}

	if len(s.Table.PrimaryKeys) > 0 {
		keys := make([]string, len(s.Table.PrimaryKeys))
		for i, k := range s.Table.PrimaryKeys {
			keys[i] = d.QuoteIdent(k)
		}
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(keys, ", "))
	}

	fmt.Fprintf(&query, " LIMIT %d OFFSET %d", s.Limit, s.Offset)
	return query.String(), args, nil
}
