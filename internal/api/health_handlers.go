package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status              string `json:"status"`
	Service             string `json:"service"`
	Version             string `json:"version"`
	FilesystemAvailable bool   `json:"filesystem_available"`
	ReleasesDir         string `json:"releases_dir"`
	Timestamp           string `json:"timestamp"`
}

// Health reports service liveness. The response is always 200; a store that
// has gone missing flips status to "degraded" so probes can alert without
// restarting the process.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	available := h.Store.Available()
	h.recorder().SetStoreAvailable(available)
	status := "healthy"
	if !available {
		status = "degraded"
	}
	version := h.ServiceVersion
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:              status,
		Service:             ServiceName,
		Version:             version,
		FilesystemAvailable: available,
		ReleasesDir:         h.Store.Root(),
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
	})
}
