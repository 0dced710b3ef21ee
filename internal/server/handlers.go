package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/eogum-api/internal/account"
	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/job"
	"github.com/maauso/eogum-api/internal/storage"
)

const defaultTransactionsLimit = 50

// downloadKinds maps accepted {kind} path values to artifact kinds. The short
// file-type names are kept for existing clients.
var downloadKinds = map[string]job.ArtifactKind{
	string(job.ArtifactEditTimeline):    job.ArtifactEditTimeline,
	string(job.ArtifactSubtitleTrack):   job.ArtifactSubtitleTrack,
	string(job.ArtifactReport):          job.ArtifactReport,
	string(job.ArtifactProjectManifest): job.ArtifactProjectManifest,
	string(job.ArtifactStoryline):       job.ArtifactStoryline,
	string(job.ArtifactPreview):         job.ArtifactPreview,
	string(job.DownloadSource):          job.DownloadSource,
	"fcpxml":                            job.ArtifactEditTimeline,
	"srt":                               job.ArtifactSubtitleTrack,
	"project_json":                      job.ArtifactProjectManifest,
}

// PendingCounter reports how many projects wait for the runner.
type PendingCounter interface {
	Pending() int
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	credits   *credit.Ledger
	store     storage.Store
	queue     PendingCounter
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithQueue reports the runner backlog on the health route.
func WithQueue(q PendingCounter) HandlerOption {
	return func(h *Handlers) {
		h.queue = q
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, credits *credit.Ledger, store storage.Store, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		credits:   credits,
		store:     store,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /api/v1/health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.queue != nil {
		resp.Pending = h.queue.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateProject handles POST /api/v1/projects requests.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.CreateProject(r.Context(), job.CreateProjectInput{
		AccountID:             accountID(r.Context()),
		Name:                  req.Name,
		CutType:               job.CutType(req.CutType),
		Language:              req.Language,
		SourceKey:             req.SourceKey,
		SourceFilename:        req.SourceFilename,
		SourceSizeBytes:       req.SourceSizeBytes,
		SourceDurationSeconds: req.SourceDurationSeconds,
		Settings:              req.Settings,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

// ListProjects handles GET /api/v1/projects requests.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.ListProjects(r.Context(), accountID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err, "failed to list projects")
		return
	}
	resp := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProject handles GET /api/v1/projects/{id} requests.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetProject(r.Context(), accountID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, toProjectDetailResponse(detail))
}

// RetryProject handles POST /api/v1/projects/{id}/retry requests.
func (h *Handlers) RetryProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.RetryProject(r.Context(), accountID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "failed to retry project")
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// DeleteProject handles DELETE /api/v1/projects/{id} requests.
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProject(r.Context(), accountID(r.Context()), r.PathValue("id")); err != nil {
		h.writeServiceError(w, err, "failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download handles GET /api/v1/projects/{id}/downloads/{kind} requests.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	kindParam := r.PathValue("kind")
	kind, ok := downloadKinds[kindParam]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", kindParam), "UNSUPPORTED_FILE_TYPE")
		return
	}

	target, err := h.service.Download(r.Context(), accountID(r.Context()), r.PathValue("id"), kind)
	if err != nil {
		h.writeServiceError(w, err, "failed to resolve download")
		return
	}
	url, err := h.store.PresignDownload(r.Context(), target.Key, target.Filename)
	if err != nil {
		h.writeServiceError(w, err, "failed to presign download")
		return
	}
	writeJSON(w, http.StatusOK, DownloadResponse{DownloadURL: url, Filename: target.Filename})
}

// PresignUpload handles POST /api/v1/uploads/presign requests.
func (h *Handlers) PresignUpload(w http.ResponseWriter, r *http.Request) {
	var req PresignUploadRequest
	if !h.decode(w, r, &req) {
		return
	}

	key := storage.NewSourceKey(req.Filename)
	url, err := h.store.PresignUpload(r.Context(), key, req.ContentType)
	if err != nil {
		h.writeServiceError(w, err, "failed to presign upload")
		return
	}
	h.logger.Info("upload presigned",
		slog.String("account_id", accountID(r.Context())),
		slog.String("key", key),
		slog.Int64("size_bytes", req.SizeBytes),
	)
	writeJSON(w, http.StatusOK, PresignUploadResponse{UploadURL: url, Key: key})
}

// GetCredits handles GET /api/v1/credits requests.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	bal, err := h.credits.Balance(r.Context(), accountID(r.Context()))
	if errors.Is(err, credit.ErrAccountNotFound) {
		writeJSON(w, http.StatusOK, credit.Balance{})
		return
	}
	if err != nil {
		h.writeServiceError(w, err, "failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ListTransactions handles GET /api/v1/credits/transactions requests.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := transactionsQuery{Limit: defaultTransactionsLimit}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name), "VALIDATION_ERROR")
			return
		}
		*dst = n
	}
	if err := h.validator.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	txs, err := h.credits.Transactions(r.Context(), accountID(r.Context()), q.Limit, q.Offset)
	if errors.Is(err, credit.ErrAccountNotFound) {
		txs = nil
		err = nil
	}
	if err != nil {
		h.writeServiceError(w, err, "failed to list transactions")
		return
	}
	resp := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, msg string) {
	var insufficient *credit.InsufficientCreditError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     fmt.Sprintf("insufficient credit: required %ds, available %ds", insufficient.Required, insufficient.Available),
			Code:      "INSUFFICIENT_CREDIT",
			Required:  &insufficient.Required,
			Available: &insufficient.Available,
		})
	case errors.Is(err, job.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
	case errors.Is(err, job.ErrArtifactNotFound), errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", "ACCOUNT_NOT_FOUND")
	case errors.Is(err, job.ErrNotRetriable):
		writeError(w, http.StatusConflict, "only failed projects can be retried", "NOT_RETRIABLE")
	case errors.Is(err, job.ErrProjectBusy):
		writeError(w, http.StatusConflict, "project is processing", "PROJECT_BUSY")
	case errors.Is(err, job.ErrInvalidProject):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, storage.ErrPresignUnsupported):
		writeError(w, http.StatusNotImplemented, "direct transfers are not supported by the configured storage", "PRESIGN_UNSUPPORTED")
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
