package query

import (
	"errors"
	"fmt"

	"github.com/edgeflare/tablerest/pkg/catalog"
)

// ErrQueryTimeout is wrapped by executors when the backing store does not
// answer within the statement timeout.
var ErrQueryTimeout = errors.New("query timed out")

// UnknownColumnError reports a filter key that is not a column of the table.
type UnknownColumnError struct {
	Table  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q for table %q", e.Column, e.Table)
}

// ConversionError reports a filter value that does not parse as the column's type.
// Stores also return it when the database rejects a value for the column's
// exact type; Column is then empty if the store cannot attribute it.
type ConversionError struct {
	Column string
	Value  string
	Type   catalog.SemanticType
	// DataType is the database type name, when known.
	DataType string
	Err      error
}

func (e *ConversionError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("invalid filter value: %v", e.Err)
	}
	expected := e.Type.String()
	if e.DataType != "" {
		expected = e.DataType
	}
	return fmt.Sprintf("invalid value %q for column %q: expected %s", e.Value, e.Column, expected)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// OffsetError reports a requested offset beyond the configured maximum.
type OffsetError struct {
	Requested int
	Max       int
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset %d exceeds maximum of %d", e.Requested, e.Max)
}

// IsClientError reports whether err was caused by request input.
func IsClientError(err error) bool {
	var (
		uc *UnknownColumnError
		ce *ConversionError
		oe *OffsetError
	)
	return errors.As(err, &uc) || errors.As(err, &ce) || errors.As(err, &oe)
}
