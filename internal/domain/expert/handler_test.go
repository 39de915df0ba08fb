package expert

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/resultrouter"
	"github.com/Aleqsd/ferretptimize/internal/pkg/authstore"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
)

// fakeAuthStore lets each test control exactly which credential (if
// any) the gate should accept, without touching Postgres/Redis.
type fakeAuthStore struct {
	apiKeyUser  *authstore.User
	bearerUser  *authstore.User
	subscribed  map[uuid.UUID]bool
	auditCalled int
}

func (f *fakeAuthStore) ValidateAccess(ctx context.Context, token string) (*authstore.User, error) {
	if f.bearerUser != nil && token == "valid-bearer" {
		return f.bearerUser, nil
	}
	return nil, authstore.ErrNotFound
}

func (f *fakeAuthStore) APIKeyAllowed(ctx context.Context, token, scope string) (*authstore.User, error) {
	if f.apiKeyUser != nil && token == "valid-key" {
		return f.apiKeyUser, nil
	}
	return nil, authstore.ErrNotFound
}

func (f *fakeAuthStore) HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error) {
	return f.subscribed[userID], nil
}

func (f *fakeAuthStore) RecordAudit(ctx context.Context, userID uuid.UUID, event string, metadata map[string]interface{}) error {
	f.auditCalled++
	return nil
}

func samplePNGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{10, 20, 30, 255})
	img.Set(1, 0, color.RGBA{10, 20, 30, 255})
	img.Set(0, 1, color.RGBA{10, 20, 30, 255})
	img.Set(1, 1, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/expert/compress", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestHandler(auth AuthStore, envKeys []string) (*Handler, *queue.Queue[*compress.Job]) {
	jobs := queue.New[*compress.Job](8)
	router := resultrouter.New(time.Minute)
	h := NewHandler(jobs, router, auth, NewQuotaTable(), envKeys, zerolog.Nop())
	return h, jobs
}

// drainAndDispatch pops every job pushed to the queue and immediately
// dispatches a successful result for it, simulating a worker pool.
func drainAndDispatch(t *testing.T, jobs *queue.Queue[*compress.Job], router *resultrouter.Router, count int) {
	t.Helper()
	go func() {
		for i := 0; i < count; i++ {
			var job *compress.Job
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				j, err := jobs.Pop()
				if err == nil {
					job = j
					break
				}
				time.Sleep(2 * time.Millisecond)
			}
			if job == nil {
				return
			}
			router.Dispatch(&compress.Result{ID: job.ID, Status: 0, Message: "ok", InputSize: len(job.Bytes)})
		}
	}()
}

func TestServeExpertCompressRejectsWithoutCredentials(t *testing.T) {
	h, _ := newTestHandler(&fakeAuthStore{}, []string{"prod-key"})
	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeExpertCompressAllowsEnvAPIKey(t *testing.T) {
	h, jobs := newTestHandler(&fakeAuthStore{}, []string{"prod-key"})
	drainAndDispatch(t, jobs, h.Router, 1)

	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	req.Header.Set("Authorization", "ApiKey prod-key")
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeExpertCompressAllowsDevModeWhenNoEnvKeysConfigured(t *testing.T) {
	h, jobs := newTestHandler(&fakeAuthStore{}, nil)
	drainAndDispatch(t, jobs, h.Router, 1)

	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected dev-mode request to succeed, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeExpertCompressDevModeIgnoresStaleCookie(t *testing.T) {
	h, jobs := newTestHandler(&fakeAuthStore{}, nil)
	drainAndDispatch(t, jobs, h.Router, 1)

	// No Authorization header and no env keys: dev mode applies even
	// when a stale fp_access cookie rides along, because the dev-mode
	// decision looks only at the Authorization header.
	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	req.AddCookie(&http.Cookie{Name: "fp_access", Value: "expired-garbage"})
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected dev mode to ignore the cookie, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeExpertCompressRejectsInactiveSubscription(t *testing.T) {
	user := &authstore.User{ID: uuid.New(), Role: "user"}
	auth := &fakeAuthStore{bearerUser: user, subscribed: map[uuid.UUID]bool{}}
	h, _ := newTestHandler(auth, nil)

	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	req.Header.Set("Authorization", "Bearer valid-bearer")
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive subscription, got %d", w.Code)
	}
}

func TestServeExpertCompressAcceptsActiveSubscriberAndRecordsAudit(t *testing.T) {
	user := &authstore.User{ID: uuid.New(), Role: "user"}
	auth := &fakeAuthStore{bearerUser: user, subscribed: map[uuid.UUID]bool{user.ID: true}}
	h, jobs := newTestHandler(auth, nil)
	drainAndDispatch(t, jobs, h.Router, 1)

	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	req.Header.Set("Authorization", "Bearer valid-bearer")
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if auth.auditCalled != 1 {
		t.Fatalf("expected exactly one audit record, got %d", auth.auditCalled)
	}
}

func TestServeExpertCompressRejectsNoFiles(t *testing.T) {
	h, _ := newTestHandler(&fakeAuthStore{}, nil)
	req := multipartRequest(t, nil, nil)
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestServeExpertCompressRejectsTooManyFiles(t *testing.T) {
	h, _ := newTestHandler(&fakeAuthStore{}, nil)
	files := make(map[string][]byte, maxFiles+1)
	png := samplePNGBytes(t)
	for i := 0; i < maxFiles+1; i++ {
		files[string(rune('a'+i))+".png"] = png
	}
	req := multipartRequest(t, files, nil)
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too many files, got %d", w.Code)
	}
}

func TestServeExpertCompressRejectsBadGlobalMetadata(t *testing.T) {
	h, _ := newTestHandler(&fakeAuthStore{}, nil)
	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, map[string]string{
		"metadata": "not json",
	})
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad metadata, got %d", w.Code)
	}
}

func TestServeExpertCompressRejectsOutOfRangeMetadata(t *testing.T) {
	h, _ := newTestHandler(&fakeAuthStore{}, nil)
	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, map[string]string{
		"metadata": `{"pngLevel": 42}`,
	})
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range metadata, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeExpertCompressEnforcesQuota(t *testing.T) {
	h, _ := newTestHandler(&fakeAuthStore{}, nil)
	// Exhaust the anonymous (dev-mode) quota slot up front.
	if !h.Quota.Reserve(uuid.Nil, dailyJobCap, 0) {
		t.Fatal("expected to be able to exhaust the quota directly")
	}

	req := multipartRequest(t, map[string][]byte{"a.png": samplePNGBytes(t)}, nil)
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once quota is exhausted, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeExpertCompressReturnsPerFileResultsInOrder(t *testing.T) {
	h, jobs := newTestHandler(&fakeAuthStore{}, nil)

	files := map[string][]byte{
		"one.png": samplePNGBytes(t),
		"two.png": samplePNGBytes(t),
	}
	drainAndDispatch(t, jobs, h.Router, len(files))

	req := multipartRequest(t, files, nil)
	w := httptest.NewRecorder()

	h.ServeExpertCompress(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp expertResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 per-file results, got %d", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.Status != "ok" {
			t.Fatalf("expected ok status for %s, got %s (%s)", r.Filename, r.Status, r.Message)
		}
	}
}
