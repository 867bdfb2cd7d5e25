package server

import (
	"net/http"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/logging"
)

// requestID tags each request with an id, honoring one supplied by an
// upstream proxy, and echoes it back in the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
