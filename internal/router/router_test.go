package router

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Aleqsd/ferretptimize/internal/config"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/httpapi"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/resultrouter"
	"github.com/Aleqsd/ferretptimize/internal/domain/expert"
	"github.com/Aleqsd/ferretptimize/internal/middleware"
	"github.com/Aleqsd/ferretptimize/internal/pkg/progress"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
)

func testRouter(t *testing.T, staticRoot string) http.Handler {
	t.Helper()
	jobs := queue.New[*compress.Job](4)
	reg := progress.NewRegistry(4)
	rr := resultrouter.New(time.Minute)

	compressHandler := httpapi.NewHandler(jobs, reg, rr, zerolog.Nop())
	expertHandler := expert.NewHandler(jobs, rr, nil, expert.NewQuotaTable(), nil, zerolog.Nop())

	cfg := &config.Config{AllowedOrigins: []string{"*"}, StaticRoot: staticRoot}
	return New(cfg, compressHandler, expertHandler, zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	h := testRouter(t, t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestForwardedCollaboratorStubsReturn501(t *testing.T) {
	h := testRouter(t, t.TempDir())
	for _, path := range []string{
		"/auth/google", "/auth/facebook", "/api/keys",
		"/api/stripe/checkout", "/api/stripe/portal", "/webhook/stripe",
	} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, w.Code)
		}
	}
}

func TestStaticFileServing(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h := testRouter(t, root)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "hello" {
		t.Fatalf("expected fixture body, got %q", w.Body.String())
	}
}

func TestStaticFileServingRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope"), 0644); err != nil {
		t.Fatalf("write outside fixture: %v", err)
	}

	h := testRouter(t, root)
	req := httptest.NewRequest(http.MethodGet, "/../"+filepath.Base(outside)+"/secret.txt", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatalf("expected traversal attempt to be rejected, got 200 body=%q", w.Body.String())
	}
}

func TestHeaderBlockLimitBoundary(t *testing.T) {
	h := testRouter(t, t.TempDir())

	// Fill the header block up to exactly the cap, then push one byte
	// over and expect a 400.
	base := httptest.NewRequest(http.MethodGet, "/health", nil)
	used := len(base.Method) + len(base.RequestURI) + len(base.Proto) + 4 + 2
	pad := middleware.MaxHeaderBlockBytes - used - len("X-Padding") - 4

	atLimit := httptest.NewRequest(http.MethodGet, "/health", nil)
	atLimit.Header.Set("X-Padding", strings.Repeat("a", pad))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, atLimit)
	if w.Code != http.StatusOK {
		t.Fatalf("expected a header block at the cap to be accepted, got %d", w.Code)
	}

	overLimit := httptest.NewRequest(http.MethodGet, "/health", nil)
	overLimit.Header.Set("X-Padding", strings.Repeat("a", pad+1))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, overLimit)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 one byte past the cap, got %d", w.Code)
	}
}

func TestJobEventsRouteRejectsNonNumericID(t *testing.T) {
	h := testRouter(t, t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-number/events", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
