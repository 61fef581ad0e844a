package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/tablerest/pkg/query"
)

// UnknownTableError reports a path segment naming no catalog table.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("table %q not found", e.Table)
}

// StatusClientClosedRequest is written when the client abandons a request
// before its page is ready. The client no longer reads it; it shows up in
// access logs and metrics.
const StatusClientClosedRequest = 499

// status maps an error to its HTTP status code and client-facing message.
// Execution failures other than timeouts are reported generically.
func status(err error, timeout time.Duration) (int, string) {
	var ut *UnknownTableError
	switch {
	case errors.As(err, &ut):
		return http.StatusNotFound, err.Error()
	case query.IsClientError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "client closed request"
	case errors.Is(err, query.ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, fmt.Sprintf("query timed out after %s; narrow the filters or reduce the limit", timeout)
	default:
		return http.StatusInternalServerError, "query execution failed"
	}
}
