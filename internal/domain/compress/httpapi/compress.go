// Package httpapi implements the simple-mode compress endpoint and
// the SSE progress stream (C6): it assigns job ids, submits to the
// worker pool's job queue, waits for the matching result through the
// resultrouter, and serializes either a JSON envelope or an SSE
// stream.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/encoder"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/resultrouter"
	"github.com/Aleqsd/ferretptimize/internal/pkg/progress"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
	"github.com/rs/zerolog"
)

const (
	// MaxUploadBytes is the hard cap on a simple-mode request body.
	MaxUploadBytes = 100 * 1024 * 1024

	jobPushRetries  = 5000
	jobPushInterval = 2 * time.Millisecond
	resultWait      = 30 * time.Second
	ssePollAttempts = 200
	ssePollInterval = 50 * time.Millisecond
)

// Handler wires the simple-mode endpoint and the SSE stream to the
// shared job queue, progress registry, and result router.
type Handler struct {
	Jobs     *queue.Queue[*compress.Job]
	Registry *progress.Registry
	Router   *resultrouter.Router
	Log      zerolog.Logger

	// SSE registry polling; a subscriber may connect slightly before the
	// job is registered, so ServeEvents retries for up to
	// ssePollAttempts * ssePollInterval (~10s) before 404ing.
	ssePollAttempts int
	ssePollInterval time.Duration
}

func NewHandler(jobs *queue.Queue[*compress.Job], registry *progress.Registry, router *resultrouter.Router, log zerolog.Logger) *Handler {
	return &Handler{
		Jobs: jobs, Registry: registry, Router: router, Log: log,
		ssePollAttempts: ssePollAttempts,
		ssePollInterval: ssePollInterval,
	}
}

type outputPayload struct {
	Format    string `json:"format"`
	Label     string `json:"label"`
	Bytes     int    `json:"bytes"`
	MIME      string `json:"mime"`
	Extension string `json:"extension"`
	Tuning    string `json:"tuning"`
	Data      string `json:"data"`
}

type compressResponse struct {
	Status     string          `json:"status"`
	JobID      uint64          `json:"jobId"`
	Message    string          `json:"message"`
	InputBytes int             `json:"inputBytes"`
	DurationMs int64           `json:"durationMs"`
	Filename   string          `json:"filename"`
	Results    []outputPayload `json:"results"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": code})
}

// ServeCompress handles POST /api/compress.
func (h *Handler) ServeCompress(w http.ResponseWriter, r *http.Request) {
	filename := compress.SanitizeFilename(r.Header.Get("X-Filename"))

	var jobID uint64
	if raw := r.Header.Get("X-Job-Id"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil && v != 0 {
			jobID = v
		}
	}
	if jobID == 0 {
		jobID = compress.NextJobID()
	}

	tuneFormat := encoder.Format(r.Header.Get("X-Tune-Format"))
	if tuneFormat != "" {
		switch tuneFormat {
		case encoder.FormatPNG, encoder.FormatPNGQuant, encoder.FormatWebP, encoder.FormatAVIF:
		default:
			writeError(w, http.StatusBadRequest, "unknown_tune_target")
			return
		}
	}
	tuneLabel := r.Header.Get("X-Tune-Label")

	tuneDir := compress.TuneNeutral
	switch r.Header.Get("X-Tune-Intent") {
	case "more":
		tuneDir = compress.TuneSmaller
	case "less":
		tuneDir = compress.TuneMoreQuality
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_error")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "missing_body")
		return
	}
	if len(body) > MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
		return
	}

	ch := h.Registry.Register(jobID)
	ch.Retain() // handed to the job; the worker releases this on completion.

	job := &compress.Job{
		ID:            jobID,
		Bytes:         body,
		Filename:      filename,
		EnqueueTime:   time.Now().UnixNano(),
		Progress:      ch,
		TuneFormat:    tuneFormat,
		TuneLabel:     tuneLabel,
		TuneDirection: tuneDir,
	}

	if !h.submit(job) {
		ch.Emit(progress.Event{Type: progress.EventStatus, Name: "status", JSON: mustJSON(map[string]string{
			"type": "status", "status": "error", "message": "server_busy",
		})})
		ch.Close()
		ch.Release() // the ref that would have been handed to the job
		ch.Release() // the dispatcher's own registering ref
		writeError(w, http.StatusServiceUnavailable, "server_busy")
		return
	}

	result, err := h.Router.WaitFor(r.Context(), jobID, resultWait)
	ch.Release()
	if err != nil {
		if errors.Is(err, resultrouter.ErrTimeout) {
			writeError(w, http.StatusInternalServerError, "timeout")
			return
		}
		return // client disconnected
	}

	if !result.OK() {
		writeError(w, http.StatusInternalServerError, result.Message)
		return
	}

	resp := compressResponse{
		Status:     "ok",
		JobID:      result.ID,
		Message:    "ok",
		InputBytes: result.InputSize,
		DurationMs: result.DurationMillis(),
		Filename:   filename,
		Results:    make([]outputPayload, 0, len(result.Outputs)),
	}
	for _, out := range result.Outputs {
		resp.Results = append(resp.Results, outputPayload{
			Format:    string(out.Format),
			Label:     out.Label,
			Bytes:     len(out.Data),
			MIME:      out.MIME,
			Extension: out.Extension,
			Tuning:    out.Tuning,
			Data:      base64.StdEncoding.EncodeToString(out.Data),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// submit retries pushing job onto the job queue with a short backoff,
// matching the "bounded retries then server_busy" failure semantics.
func (h *Handler) submit(job *compress.Job) bool {
	for i := 0; i < jobPushRetries; i++ {
		if err := h.Jobs.Push(job); err == nil {
			return true
		}
		time.Sleep(jobPushInterval)
	}
	return false
}

// ServeEvents handles GET /api/jobs/<id>/events, upgrading to SSE.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request, jobID uint64) {
	var ch *progress.Channel
	for i := 0; i < h.ssePollAttempts; i++ {
		if ch = h.Registry.Acquire(jobID); ch != nil {
			break
		}
		time.Sleep(h.ssePollInterval)
	}
	if ch == nil {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}
	defer ch.Release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, ok := ch.NextEvent()
		if !ok {
			return
		}
		if _, err := w.Write([]byte("event: " + ev.Name + "\ndata: ")); err != nil {
			return // broken pipe: detected on send, per the connection-per-thread model
		}
		if _, err := w.Write(ev.JSON); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return data
}
