package query

import (
	"errors"
	"strconv"
	"strings"

	"github.com/edgeflare/tablerest/pkg/catalog"
)

// Options bound pagination.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	MaxOffset    int
	// StrictOffset rejects a requested offset above MaxOffset instead of
	// clamping it.
	StrictOffset bool
}

func DefaultOptions() Options {
	return Options{
		DefaultLimit: 10,
		MaxLimit:     250,
		MaxOffset:    10000,
		StrictOffset: true,
	}
}

// Spec is a bounded, validated retrieval against one table.
type Spec struct {
	Table   catalog.Table
	Filters FilterSet
	Limit   int
	Offset  int
}

// Build bounds limit and offset. Unparseable values fall back to their
// defaults; limit is clamped to [1, MaxLimit] and offset to [0, MaxOffset].
func Build(table catalog.Table, filters FilterSet, limitRaw, offsetRaw string, opts Options) (Spec, error) {
	limit := parseIntOrDefault(limitRaw, opts.DefaultLimit)
	limit = max(1, min(limit, opts.MaxLimit))

	offset := max(0, parseIntOrDefault(offsetRaw, 0))
	if offset > opts.MaxOffset {
		if opts.StrictOffset {
			return Spec{}, &OffsetError{Requested: offset, Max: opts.MaxOffset}
		}
		offset = opts.MaxOffset
	}

	if filters == nil {
		filters = FilterSet{}
	}

	return Spec{
		Table:   table,
		Filters: filters,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

// parseIntOrDefault returns defaultValue for input that is not an integer.
// Integers too large for an int saturate at the nearest bound, so they are
// clamped or rejected like any other out-of-range value.
func parseIntOrDefault(value string, defaultValue int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	switch {
	case err == nil, errors.Is(err, strconv.ErrRange):
		return n
	default:
		return defaultValue
	}
}

// NextOffset returns the offset of the following page when a full page came
// back, or nil. It is a hint: the next page may be empty.
func (s Spec) NextOffset(count int) *int {
	if count < s.Limit {
		return nil
	}
	next := s.Offset + s.Limit
	return &next
}
