package middleware

import (
	"encoding/json"
	"net/http"
)

// MaxHeaderBlockBytes is the hard cap on a request's header block: the
// request line plus every "Key: Value\r\n" pair. A block of exactly
// this size is accepted; one byte more is rejected with 400.
const MaxHeaderBlockBytes = 64 * 1024

// HeaderLimit rejects requests whose reconstructed header block
// exceeds MaxHeaderBlockBytes. The http.Server's own MaxHeaderBytes is
// set above this cap so the stdlib's 431 short-circuit never fires
// first; this middleware owns the limit and answers 400 like every
// other malformed-request case.
func HeaderLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Request line: METHOD SP URI SP PROTO CRLF.
		size := len(r.Method) + len(r.RequestURI) + len(r.Proto) + 4
		for key, values := range r.Header {
			for _, value := range values {
				// "Key: Value\r\n"
				size += len(key) + len(value) + 4
			}
		}
		size += 2 // terminating CRLF

		if size > MaxHeaderBlockBytes {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "header_too_large"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
