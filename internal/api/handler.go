package api

import (
	"errors"
	"log/slog"
	"net/http"

	"cco-releases/internal/events"
	"cco-releases/internal/observability/metrics"
	"cco-releases/internal/release"
	"cco-releases/internal/storage"
)

// ServiceName identifies this service in health payloads and logs.
const ServiceName = "cco-releases-api"

// Handler serves the releases API. Fields other than Store are optional;
// zero values disable the corresponding integration (a missing UploadAPIKey
// disables uploads entirely).
type Handler struct {
	Store          *storage.Store
	Events         events.Queue
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	UploadAPIKey   string
	ServiceVersion string
}

func NewHandler(store *storage.Store) *Handler {
	return &Handler{Store: store}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// NotFound answers anything outside the published routes. The service has no
// public index.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

// statusForError maps domain sentinels onto HTTP status codes. Anything
// unmatched is an internal store failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, release.ErrInvalidVersion),
		errors.Is(err, release.ErrInvalidPlatform),
		errors.Is(err, release.ErrInvalidChannel),
		errors.Is(err, release.ErrInvalidExtension),
		errors.Is(err, release.ErrEmptyArtifact):
		return http.StatusBadRequest
	case errors.Is(err, release.ErrArtifactTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, release.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, release.ErrInvalidAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, release.ErrUploadsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders client errors with their own detail and hides
// internal failures behind an opaque message, logging the cause.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, opaque string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger().Error(opaque, "error", err, "path", r.URL.Path)
		writeError(w, status, errors.New(opaque))
		return
	}
	writeError(w, status, err)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, errors.New("method "+r.Method+" not allowed"))
}
