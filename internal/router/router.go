// Package router assembles every HTTP route the service exposes: the
// compression endpoints (simple, Expert, SSE), static file serving,
// and thin stubs for the collaborator endpoints (OAuth, API keys,
// billing) that live in separate services.
package router

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Aleqsd/ferretptimize/internal/config"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/httpapi"
	"github.com/Aleqsd/ferretptimize/internal/domain/expert"
	"github.com/Aleqsd/ferretptimize/internal/middleware"
	"github.com/Aleqsd/ferretptimize/internal/pkg/response"
)

// New assembles the root handler: chi router, ambient middleware
// (request id, CORS, compression, structured logging, panic recovery),
// the compression core's routes, static file serving, and the
// forwarded collaborator stubs.
func New(cfg *config.Config, compress *httpapi.Handler, expertHandler *expert.Handler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.HeaderLimit)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})

	r.Post("/api/compress", compress.ServeCompress)
	r.Post("/api/expert/compress", expertHandler.ServeExpertCompress)

	r.Get("/api/jobs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.JSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "bad_job_id"})
			return
		}
		compress.ServeEvents(w, r, id)
	})

	// Forwarded collaborator endpoints: OAuth credential verification,
	// API-key issuance, and billing are handled by separate services,
	// so these mount points exist for routing completeness and respond
	// with the generic envelope rather than the compression contract's
	// shape.
	r.Post("/auth/google", notImplemented("oauth_collaborator"))
	r.Post("/auth/facebook", notImplemented("oauth_collaborator"))
	r.Post("/api/keys", notImplemented("authstore_collaborator"))
	r.Post("/api/stripe/checkout", notImplemented("billing_collaborator"))
	r.Post("/api/stripe/portal", notImplemented("billing_collaborator"))
	r.Post("/webhook/stripe", notImplemented("billing_collaborator"))

	staticRoot := cfg.StaticRoot
	r.Get("/", serveStatic(staticRoot, "index.html"))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		serveStatic(staticRoot, strings.TrimPrefix(r.URL.Path, "/"))(w, r)
	})

	return middleware.Logger(middleware.Recover(r))
}

func notImplemented(collaborator string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusNotImplemented, map[string]string{
			"collaborator": collaborator,
		})
	}
}

// serveStatic serves name under root, rejecting any request whose
// path contains ".." or whose cleaned path would leave root. The check
// runs here rather than trusting http.FileServer's traversal guard so
// a rejected path never reaches the filesystem.
func serveStatic(root, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + name)
		if strings.Contains(name, "..") {
			http.NotFound(w, r)
			return
		}
		full := filepath.Join(root, clean)
		if !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) && full != filepath.Clean(root) {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, full)
	}
}
