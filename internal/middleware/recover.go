package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/Aleqsd/ferretptimize/internal/pkg/response"
	"github.com/rs/zerolog/log"
)

// Recover contains panics escaping HTTP handlers. Worker-side panics
// never reach here (the pool contains those itself so the job still
// yields a result), so anything caught by this middleware is a bug in
// the request path proper.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				response.InternalError(w)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
