package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edon-ai/edon/internal/model"
)

// KeyFunc extracts the principal identifier from a request using headers and
// the address only. It must never read the body; an empty return means the
// request is anonymous and falls back to the client IP.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from the request context. Injected by
// the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// exempt routes never consume budget: health probes and the metrics scrape.
var exemptPaths = map[string]bool{
	"/health":             true,
	"/version":            true,
	"/metrics":            true,
	"/metrics/prometheus": true,
}

// Middleware enforces the limiter on every non-exempt request. The check runs
// before the handler; the charge lands after it, and only when the response
// was not a 429, so rejected requests cost nothing.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqIDFunc RequestIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			principal := keyFunc(r)
			limits := AuthenticatedLimits
			if principal == "" {
				principal = "ip:" + clientIP(r)
				limits = AnonymousLimits
			}

			result, err := limiter.Allow(r.Context(), principal, limits)
			if err != nil {
				// Fail open: a broken limiter must not take the gateway down.
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				writeRateLimitError(w, requestID, result.Window, retryAfter)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status != http.StatusTooManyRequests {
				_ = limiter.Commit(r.Context(), principal)
			}
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, requestID string, window Window, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests in the current " + string(window) + " window",
			Details: map[string]any{"retry_after_seconds": retryAfter},
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// clientIP uses RemoteAddr only. X-Forwarded-For is not trusted because any
// client can set it to an arbitrary value and rotate past the limits.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
