package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/edgeflare/tablerest/pkg/httputil"
	"github.com/edgeflare/tablerest/pkg/ratelimit"
	"go.uber.org/zap"
)

// RateChecker records a request and reports whether it fits its budgets.
// *ratelimit.Policy implements it.
type RateChecker interface {
	Check(ctx context.Context, client string, tier ratelimit.Tier) (ratelimit.Result, error)
}

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	Checker RateChecker
	Tier    ratelimit.Tier
	// ClientKey identifies the caller. Defaults to ClientIP.
	ClientKey func(r *http.Request) string
	// OnLimited is called for every rejected request.
	OnLimited func(r *http.Request, err *ratelimit.ExceededError)
}

// ClientIP returns the host part of the connection's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests over budget with 429 before they reach next.
// When the limiter backend itself fails the request is let through and the
// failure is logged.
func RateLimit(options RateLimitOptions) func(http.Handler) http.Handler {
	if options.ClientKey == nil {
		options.ClientKey = ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := options.Checker.Check(r.Context(), options.ClientKey(r), options.Tier)

			var exceeded *ratelimit.ExceededError
			switch {
			case errors.As(err, &exceeded):
				if options.OnLimited != nil {
					options.OnLimited(r, exceeded)
				}
				setRateLimitHeaders(w, exceeded.Result)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(exceeded.Result.ResetAfter.Seconds()))))
				httputil.Error(w, http.StatusTooManyRequests, exceeded.Error())
				return
			case err != nil:
				LoggerFromContext(r.Context()).Warn("rate limiter unavailable", zap.String("tier", string(options.Tier)), zap.Error(err))
			default:
				setRateLimitHeaders(w, res)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
}
