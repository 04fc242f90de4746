// Package requesttime pins one reference time per request so that window,
// lockout and token-age computations inside a request agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"authguard/pkg/requestcontext"
)

// Middleware stamps each request with the wall clock.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock stamps each request with now(). The monotonic reading is
// dropped so the stamp compares equal to times decoded from stored records.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().Round(0))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
