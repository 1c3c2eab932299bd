// Package metrics aggregates in-memory counters for the releases API and
// renders them in Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder accumulates HTTP request totals plus release activity counters
// (downloads and uploads by platform, with byte totals) and a gauge for
// filesystem availability. A RWMutex coordinates concurrent writers.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	downloadCount   map[string]uint64
	downloadBytes   map[string]uint64
	uploadCount     map[string]uint64
	uploadBytes     map[string]uint64
	storeAvailable  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	r := &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		downloadCount:   make(map[string]uint64),
		downloadBytes:   make(map[string]uint64),
		uploadCount:     make(map[string]uint64),
		uploadBytes:     make(map[string]uint64),
	}
	r.storeAvailable.Store(1)
	return r
}

// Default returns the singleton Recorder shared by packages that do not need
// a private instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by method, route, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveDownload records a served artifact for the given platform.
func (r *Recorder) ObserveDownload(platform string, bytes int64) {
	platform = normalizeName(platform)
	r.mu.Lock()
	r.downloadCount[platform]++
	if bytes > 0 {
		r.downloadBytes[platform] += uint64(bytes)
	}
	r.mu.Unlock()
}

// ObserveUpload records a stored artifact for the given platform.
func (r *Recorder) ObserveUpload(platform string, bytes int64) {
	platform = normalizeName(platform)
	r.mu.Lock()
	r.uploadCount[platform]++
	if bytes > 0 {
		r.uploadBytes[platform] += uint64(bytes)
	}
	r.mu.Unlock()
}

// SetStoreAvailable records the most recent filesystem availability probe.
func (r *Recorder) SetStoreAvailable(available bool) {
	if available {
		r.storeAvailable.Store(1)
		return
	}
	r.storeAvailable.Store(0)
}

// DownloadCounts returns copies of the per-platform download counters for
// tests and reporting.
func (r *Recorder) DownloadCounts() (count map[string]uint64, bytes map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounter(r.downloadCount), copyCounter(r.downloadBytes)
}

// UploadCounts returns copies of the per-platform upload counters.
func (r *Recorder) UploadCounts() (count map[string]uint64, bytes map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounter(r.uploadCount), copyCounter(r.uploadBytes)
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.downloadCount = make(map[string]uint64)
	r.downloadBytes = make(map[string]uint64)
	r.uploadCount = make(map[string]uint64)
	r.uploadBytes = make(map[string]uint64)
	r.storeAvailable.Store(1)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with label sets sorted
// for stable output across scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	downloads := sortedKeys(r.downloadCount)
	downloadBytes := sortedKeys(r.downloadBytes)
	uploads := sortedKeys(r.uploadCount)
	uploadBytes := sortedKeys(r.uploadBytes)

	fmt.Fprintln(w, "# HELP cco_releases_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE cco_releases_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "cco_releases_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP cco_releases_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE cco_releases_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "cco_releases_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP cco_releases_downloads_total Artifact downloads served, by platform")
	fmt.Fprintln(w, "# TYPE cco_releases_downloads_total counter")
	for _, platform := range downloads {
		fmt.Fprintf(w, "cco_releases_downloads_total{platform=%q} %d\n", platform, r.downloadCount[platform])
	}

	fmt.Fprintln(w, "# HELP cco_releases_download_bytes_total Bytes of artifact data served, by platform")
	fmt.Fprintln(w, "# TYPE cco_releases_download_bytes_total counter")
	for _, platform := range downloadBytes {
		fmt.Fprintf(w, "cco_releases_download_bytes_total{platform=%q} %d\n", platform, r.downloadBytes[platform])
	}

	fmt.Fprintln(w, "# HELP cco_releases_uploads_total Artifacts stored, by platform")
	fmt.Fprintln(w, "# TYPE cco_releases_uploads_total counter")
	for _, platform := range uploads {
		fmt.Fprintf(w, "cco_releases_uploads_total{platform=%q} %d\n", platform, r.uploadCount[platform])
	}

	fmt.Fprintln(w, "# HELP cco_releases_upload_bytes_total Bytes of artifact data stored, by platform")
	fmt.Fprintln(w, "# TYPE cco_releases_upload_bytes_total counter")
	for _, platform := range uploadBytes {
		fmt.Fprintf(w, "cco_releases_upload_bytes_total{platform=%q} %d\n", platform, r.uploadBytes[platform])
	}

	fmt.Fprintln(w, "# HELP cco_releases_store_available Whether the releases directory is reachable (1=yes,0=no)")
	fmt.Fprintln(w, "# TYPE cco_releases_store_available gauge")
	fmt.Fprintf(w, "cco_releases_store_available %d\n", r.storeAvailable.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func copyCounter(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	return name
}

// normalizePath collapses identifier segments so the label cardinality stays
// bounded regardless of how many versions exist.
func normalizePath(path string) string {
	switch {
	case path == "" || path == "/":
		return "/"
	case path == "/health" || path == "/metrics" || path == "/releases/latest":
		return path
	case strings.HasPrefix(path, "/releases/"):
		return "/releases/{version}"
	case strings.HasPrefix(path, "/download/"):
		return "/download/{version}/{platform}"
	case strings.HasPrefix(path, "/upload/"):
		return "/upload/{version}/{platform}"
	default:
		return "other"
	}
}
