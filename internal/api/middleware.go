package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/shehryarbajwa/browserfarm/internal/ratelimit"
)

// RateLimitMiddleware enforces the per-client hourly allowance. Requests
// without a client ID are not limited.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientID(r)
			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining := limiter.Allow(clientID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.PerHour()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				seconds := int(math.Ceil(limiter.RetryAfter(clientID).Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error: fmt.Sprintf("rate limit exceeded: %d requests per hour per client", limiter.PerHour()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts the client ID from the request
func getClientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("clientId")
}
