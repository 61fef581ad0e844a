package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/tablerest/pkg/catalog"
)

// Reserved query parameters, never treated as column filters.
const (
	ParamLimit  = "limit"
	ParamOffset = "offset"
)

func isReservedParam(name string) bool {
	return name == ParamLimit || name == ParamOffset
}

// FilterSet maps a column name to its coerced value: string, int64,
// float64, bool or time.Time.
type FilterSet map[string]any

// Columns returns the filtered columns in lexicographic order.
func (f FilterSet) Columns() []string {
	cols := make([]string, 0, len(f))
	for c := range f {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Canonical renders the filter set independent of query-string order and of
// equivalent spellings (TRUE/true, 1.50/1.5).
func (f FilterSet) Canonical() string {
	v := make(url.Values, len(f))
	for col, val := range f {
		v.Set(col, formatValue(val))
	}
	return v.Encode()
}

func formatValue(val any) string {
	switch x := val.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// timestampLayouts are the ISO-8601 forms accepted for timestamp columns.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.DateOnly,
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// Coerce converts a raw query-string value to the given semantic type.
// Boolean never fails: only a case-insensitive "true" is true.
func Coerce(raw string, typ catalog.SemanticType) (any, error) {
	switch typ {
	case catalog.Boolean:
		return strings.EqualFold(raw, "true"), nil
	case catalog.Integer:
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case catalog.Float:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case catalog.Timestamp:
		return parseTimestamp(strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

// Validate turns raw query parameters into a FilterSet for table. limit and
// offset are skipped. It fails on the first unknown column or value that
// does not convert, visiting keys in lexicographic order so the reported
// error is deterministic.
func Validate(table catalog.Table, raw url.Values) (FilterSet, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if !isReservedParam(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	filters := make(FilterSet, len(keys))
	for _, key := range keys {
		col, ok := table.Column(key)
		if !ok {
			return nil, &UnknownColumnError{Table: table.Name, Column: key}
		}

		value := raw.Get(key)
		v, err := Coerce(value, col.Type)
		if err != nil {
			return nil, &ConversionError{Column: key, Value: value, Type: col.Type, Err: err}
		}
		filters[key] = v
	}
	return filters, nil
}
