package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cco-releases/internal/events"
	"cco-releases/internal/release"
)

type uploadResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Upload accepts a multipart artifact on /upload/{version}/{platform}. The
// body is streamed straight into the store; it never lands fully in memory.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	version, platform, ok := splitVersionPlatform(r.URL.Path, "/upload/")
	if !ok {
		h.NotFound(w, r)
		return
	}
	if err := h.authorizeUpload(r); err != nil {
		h.writeDomainError(w, r, err, "failed to authorize upload")
		return
	}

	part, filename, err := openFilePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer part.Close()

	saved, err := h.Store.SaveArtifact(version, platform, filename, part)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to store artifact")
		return
	}

	h.publish(r.Context(), events.Event{
		Type:       events.TypeUploaded,
		Version:    version,
		Platform:   platform,
		SizeBytes:  saved.Size,
		Checksum:   saved.Checksum,
		OccurredAt: time.Now().UTC(),
	})
	h.logger().Info("artifact uploaded",
		"version", version,
		"platform", platform,
		"size", saved.Size)

	writeJSON(w, http.StatusOK, uploadResponse{
		Status:   "uploaded",
		Version:  version,
		Platform: platform,
		Path:     saved.Path,
		Size:     saved.Size,
		Checksum: saved.Checksum,
	})
}

func (h *Handler) authorizeUpload(r *http.Request) error {
	if h.UploadAPIKey == "" {
		return release.ErrUploadsDisabled
	}
	provided := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.UploadAPIKey)) != 1 {
		return release.ErrInvalidAPIKey
	}
	return nil
}

// openFilePart walks the multipart stream until it finds the "file" field.
// Reading parts lazily keeps memory flat no matter how large the artifact is.
func openFilePart(r *http.Request) (io.ReadCloser, string, error) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
		return nil, "", errors.New("expected multipart/form-data request body")
	}
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", errors.New("malformed multipart request body")
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, "", errors.New("missing file field in multipart request")
		}
		if err != nil {
			return nil, "", errors.New("malformed multipart request body")
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		return part, part.FileName(), nil
	}
}
