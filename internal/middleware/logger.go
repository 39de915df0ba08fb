package middleware

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxLoggedErrorBody = 2048

// Logger is a middleware that logs HTTP requests.
//
// It logs every endpoint hit and includes a response-body preview for
// error responses (HTTP 4xx/5xx) to simplify root-cause investigation.
// SSE responses are exempt from body capture: a progress stream carries
// base64 image payloads that would only bloat the log.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		event := logEventByStatus(wrapped.statusCode)
		event.Str("request_id", r.Header.Get("X-Request-ID"))
		event.Str("method", r.Method)
		event.Str("path", r.URL.Path)
		event.Int("status", wrapped.statusCode)
		event.Dur("duration", duration)
		event.Str("ip", getClientIP(r))

		if wrapped.statusCode >= http.StatusBadRequest {
			event.Str("status_text", http.StatusText(wrapped.statusCode))
			event.Str("response_body", wrapped.bodyPreview())
		}

		event.Msg("HTTP request completed")
	})
}

func logEventByStatus(statusCode int) *zerolog.Event {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return log.Error()
	case statusCode >= http.StatusBadRequest:
		return log.Warn()
	default:
		return log.Info()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and
// a bounded prefix of the response body.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	streaming  bool
	body       strings.Builder
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.streaming = strings.HasPrefix(rw.Header().Get("Content-Type"), "text/event-stream")
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if !rw.streaming && rw.body.Len() < maxLoggedErrorBody {
		remaining := maxLoggedErrorBody - rw.body.Len()
		if len(p) > remaining {
			_, _ = rw.body.Write(p[:remaining])
		} else {
			_, _ = rw.body.Write(p)
		}
	}

	return rw.ResponseWriter.Write(p)
}

func (rw *responseWriter) bodyPreview() string {
	if rw.body.Len() == 0 {
		return ""
	}

	body := rw.body.String()
	if rw.body.Len() >= maxLoggedErrorBody {
		return body + "...<truncated>"
	}
	return body
}

// Flush implements http.Flusher when the underlying writer supports
// it; the SSE stream depends on per-event flushes reaching the socket.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// ReadFrom implements io.ReaderFrom when the underlying writer
// supports it, keeping static file serving on the sendfile path.
func (rw *responseWriter) ReadFrom(src io.Reader) (int64, error) {
	if rf, ok := rw.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(src)
	}
	return io.Copy(rw.ResponseWriter, src)
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for proxies/load balancers)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP if multiple
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
