package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cco-releases/internal/events"
)

// Download streams an artifact for /download/{version}/{platform}. Path
// segments are validated before any filesystem access, and the file is
// served with ranged-request support via http.ServeContent.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	version, platform, ok := splitVersionPlatform(r.URL.Path, "/download/")
	if !ok {
		h.NotFound(w, r)
		return
	}
	artifact, err := h.Store.OpenArtifact(version, platform)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to open artifact")
		return
	}
	defer artifact.Content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	http.ServeContent(w, r, artifact.Filename, artifact.ModTime, artifact.Content)

	// Platform counters are fed by the events worker, not here, so replicas
	// sharing a Redis stream aggregate consistently.
	h.publish(r.Context(), events.Event{
		Type:       events.TypeDownloaded,
		Version:    version,
		Platform:   platform,
		SizeBytes:  artifact.Size,
		OccurredAt: time.Now().UTC(),
	})
}

func (h *Handler) publish(ctx context.Context, ev events.Event) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Publish(ctx, ev); err != nil {
		h.logger().Warn("failed to publish release event", "type", string(ev.Type), "error", err)
	}
}

// splitVersionPlatform parses exactly two non-empty segments after the
// route prefix.
func splitVersionPlatform(path, prefix string) (version, platform string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
