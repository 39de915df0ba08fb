// Package expert implements the Expert batch endpoint (C7): multipart
// parsing with per-file metadata overrides, the subscription/API-key
// auth gate, daily quota accounting, and ordered multi-job submission
// against the same worker pool the simple endpoint uses.
package expert

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aleqsd/ferretptimize/internal/domain/compress"
	"github.com/Aleqsd/ferretptimize/internal/domain/compress/resultrouter"
	"github.com/Aleqsd/ferretptimize/internal/pkg/authstore"
	"github.com/Aleqsd/ferretptimize/internal/pkg/queue"
)

const (
	maxFiles          = 10
	maxFileBytes      = 20 * 1024 * 1024
	maxAggregateBytes = 100 * 1024 * 1024
	multipartMemory   = 32 * 1024 * 1024

	jobPushRetries  = 5000
	jobPushInterval = 2 * time.Millisecond
	resultWait      = 60 * time.Second
)

// AuthStore is the subset of the authstore collaborator the Expert
// gate depends on.
type AuthStore interface {
	ValidateAccess(ctx context.Context, token string) (*authstore.User, error)
	APIKeyAllowed(ctx context.Context, token, scope string) (*authstore.User, error)
	HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error)
	RecordAudit(ctx context.Context, userID uuid.UUID, event string, metadata map[string]interface{}) error
}

// Handler wires the Expert endpoint to the shared job queue and
// result router, gated by an AuthStore and a per-user daily quota.
type Handler struct {
	Jobs   *queue.Queue[*compress.Job]
	Router *resultrouter.Router
	Auth   AuthStore
	Quota  *QuotaTable
	// EnvAPIKeys, when non-empty, short-circuits the AuthStore gate:
	// any Authorization: ApiKey <token> matching one of these allows
	// the request with source "env_api_key".
	EnvAPIKeys []string
	Log        zerolog.Logger
}

// NewHandler constructs an Expert handler.
func NewHandler(jobs *queue.Queue[*compress.Job], router *resultrouter.Router, auth AuthStore, quota *QuotaTable, envAPIKeys []string, log zerolog.Logger) *Handler {
	return &Handler{Jobs: jobs, Router: router, Auth: auth, Quota: quota, EnvAPIKeys: envAPIKeys, Log: log}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": code})
}

// gateResult carries the identity the Expert gate resolved, used for
// quota accounting and the audit trail. A zero UUID means "dev mode"
// or an env-key bypass: no per-user identity, but the quota table
// still tracks it under the zero id so a burst of anonymous requests
// is still bounded.
type gateResult struct {
	userID uuid.UUID
	source string
}

// authorize resolves the Expert gate: env API keys first, then dev
// mode when no env keys exist and no Authorization header was
// presented, then the AuthStore (API key, bearer, cookie, in that
// order). The dev-mode decision looks only at the Authorization
// header; the fp_access cookie is consulted solely as a bearer-token
// fallback once a credential check is actually required.
func (h *Handler) authorize(r *http.Request) (gateResult, error) {
	authHeader := r.Header.Get("Authorization")
	scheme, token := authstore.ParseAuthorization(authHeader)

	if len(h.EnvAPIKeys) > 0 {
		if scheme == "apikey" {
			for _, key := range h.EnvAPIKeys {
				if key != "" && key == token {
					return gateResult{source: "env_api_key"}, nil
				}
			}
		}
	} else if authHeader == "" {
		return gateResult{source: "dev_mode"}, nil
	}

	ctx := r.Context()

	if scheme == "apikey" && token != "" && h.Auth != nil {
		if user, err := h.Auth.APIKeyAllowed(ctx, token, "expert"); err == nil {
			return h.requireActiveSubscription(ctx, user, "api_key")
		}
	}

	bearer := token
	if scheme != "bearer" {
		bearer = ""
	}
	if bearer == "" {
		if cookie, err := r.Cookie("fp_access"); err == nil {
			bearer = cookie.Value
		}
	}
	if bearer != "" && h.Auth != nil {
		if user, err := h.Auth.ValidateAccess(ctx, bearer); err == nil {
			return h.requireActiveSubscription(ctx, user, "bearer")
		}
	}

	return gateResult{}, errors.New("unauthorized")
}

func (h *Handler) requireActiveSubscription(ctx context.Context, user *authstore.User, source string) (gateResult, error) {
	active, err := h.Auth.HasActiveSubscription(ctx, user.ID)
	if err != nil || !active {
		return gateResult{}, errors.New("unauthorized")
	}
	return gateResult{userID: user.ID, source: source}, nil
}

type fileResultPayload struct {
	Format    string `json:"format"`
	Label     string `json:"label"`
	Bytes     int    `json:"bytes"`
	MIME      string `json:"mime"`
	Extension string `json:"extension"`
	Tuning    string `json:"tuning"`
	Data      string `json:"data"`
}

type perFileResponse struct {
	Filename    string              `json:"filename"`
	Status      string              `json:"status"`
	Message     string              `json:"message"`
	DurationMs  int64               `json:"durationMs"`
	InputBytes  int                 `json:"inputBytes"`
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	TrimApplied bool                `json:"trimApplied"`
	CropApplied bool                `json:"cropApplied"`
	Results     []fileResultPayload `json:"results"`
}

type expertResponse struct {
	Status           string            `json:"status"`
	Results          []perFileResponse `json:"results"`
	BytesSaved       int64             `json:"bytesSaved"`
	TotalInputBytes  int64             `json:"totalInputBytes"`
	TotalOutputBytes int64             `json:"totalOutputBytes"`
	ElapsedMs        int64             `json:"elapsedMs"`
}

// ServeExpertCompress handles POST /api/expert/compress.
func (h *Handler) ServeExpertCompress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	gate, err := h.authorize(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAggregateBytes+1)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if strings.Contains(err.Error(), "too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_multipart")
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		writeError(w, http.StatusBadRequest, "missing_files")
		return
	}
	if len(fileHeaders) > maxFiles {
		writeError(w, http.StatusBadRequest, "too_many_files")
		return
	}

	globalMeta, err := parseFileMetadata([]byte(r.FormValue("metadata")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_metadata")
		return
	}

	type inputFile struct {
		filename string
		data     []byte
		meta     fileMetadata
	}
	files := make([]inputFile, 0, len(fileHeaders))
	var aggregate int64

	for i, fh := range fileHeaders {
		if fh.Size > maxFileBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		aggregate += fh.Size
		if aggregate > maxAggregateBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}

		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_multipart")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_multipart")
			return
		}
		if len(data) == 0 {
			writeError(w, http.StatusBadRequest, "missing_body")
			return
		}

		override, err := parseFileMetadata([]byte(r.FormValue("metadata[" + strconv.Itoa(i) + "]")))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_metadata")
			return
		}

		merged := mergeMetadata(globalMeta, override)
		if fieldErrs := validateMetadata(merged); fieldErrs != nil {
			h.Log.Warn().Interface("fields", fieldErrs).Str("filename", fh.Filename).Msg("expert metadata out of range")
			writeError(w, http.StatusBadRequest, "bad_metadata")
			return
		}

		files = append(files, inputFile{
			filename: compress.SanitizeFilename(fh.Filename),
			data:     data,
			meta:     merged,
		})
	}

	if !h.Quota.Reserve(gate.userID, len(files), aggregate) {
		writeError(w, http.StatusTooManyRequests, "quota_exceeded")
		return
	}

	if h.Auth != nil && gate.source != "env_api_key" && gate.source != "dev_mode" {
		if err := h.Auth.RecordAudit(r.Context(), gate.userID, "expert_compress", map[string]interface{}{
			"files": len(files), "bytes": aggregate, "source": gate.source,
		}); err != nil {
			h.Log.Warn().Err(err).Str("source", gate.source).Msg("failed to record expert audit event")
		}
	}

	jobIDs := make([]uint64, len(files))
	for i, f := range files {
		outputs, trim, crop := buildJobParams(f.meta)
		job := &compress.Job{
			ID:               compress.NextJobID(),
			Bytes:            f.data,
			Filename:         f.filename,
			EnqueueTime:      time.Now().UnixNano(),
			IsExpert:         true,
			RequestedOutputs: outputs,
			Trim:             trim,
			Crop:             crop,
		}
		jobIDs[i] = job.ID
		if !h.submit(job) {
			writeError(w, http.StatusServiceUnavailable, "server_busy")
			return
		}
	}

	resp := expertResponse{Status: "ok", Results: make([]perFileResponse, len(files))}
	for i, f := range files {
		result, err := h.Router.WaitFor(r.Context(), jobIDs[i], resultWait)
		if err != nil {
			resp.Results[i] = perFileResponse{Filename: f.filename, Status: "error", Message: "timeout"}
			continue
		}

		resp.TotalInputBytes += int64(result.InputSize)
		per := perFileResponse{
			Filename:    f.filename,
			DurationMs:  result.DurationMillis(),
			InputBytes:  result.InputSize,
			Width:       result.OutputWidth,
			Height:      result.OutputHeight,
			TrimApplied: result.TrimApplied,
			CropApplied: result.CropApplied,
		}
		if !result.OK() {
			per.Status = "error"
			per.Message = result.Message
			resp.Results[i] = per
			continue
		}
		per.Status = "ok"
		per.Message = "ok"
		per.Results = make([]fileResultPayload, 0, len(result.Outputs))
		for _, out := range result.Outputs {
			per.Results = append(per.Results, fileResultPayload{
				Format: string(out.Format), Label: out.Label, Bytes: len(out.Data),
				MIME: out.MIME, Extension: out.Extension, Tuning: out.Tuning,
				Data: base64.StdEncoding.EncodeToString(out.Data),
			})
			resp.TotalOutputBytes += int64(len(out.Data))
		}
		resp.Results[i] = per
	}
	resp.BytesSaved = resp.TotalInputBytes - resp.TotalOutputBytes
	resp.ElapsedMs = time.Since(start).Milliseconds()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// submit retries pushing job onto the shared job queue with a short
// backoff, matching the simple endpoint's "bounded retries then
// server_busy" semantics.
func (h *Handler) submit(job *compress.Job) bool {
	for i := 0; i < jobPushRetries; i++ {
		if err := h.Jobs.Push(job); err == nil {
			return true
		}
		time.Sleep(jobPushInterval)
	}
	return false
}

