package api

import (
	"net/http"
	"strings"

	"cco-releases/internal/release"
)

// LatestRelease serves the channel pointer. The channel query parameter
// defaults to stable and is validated before the store is touched.
func (h *Handler) LatestRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	channel, err := release.ParseChannel(r.URL.Query().Get("channel"))
	if err != nil {
		h.writeDomainError(w, r, err, "failed to read latest release")
		return
	}
	meta, err := h.Store.LatestMetadata(channel)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to read latest release")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// ReleaseByVersion serves /releases/{version}.
func (h *Handler) ReleaseByVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	version := strings.TrimPrefix(r.URL.Path, "/releases/")
	if version == "" || strings.Contains(version, "/") {
		h.NotFound(w, r)
		return
	}
	meta, err := h.Store.VersionMetadata(version)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to read release metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
