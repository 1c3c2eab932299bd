package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cco-releases/internal/events"
	"cco-releases/internal/observability/metrics"
	"cco-releases/internal/release"
	"cco-releases/internal/storage"
)

const testAPIKey = "test-upload-key"

func newTestHandler(t *testing.T) (*Handler, *storage.Store) {
	t.Helper()
	store, err := storage.New(storage.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New returned error: %v", err)
	}
	handler := NewHandler(store)
	handler.Metrics = metrics.New()
	handler.UploadAPIKey = testAPIKey
	handler.ServiceVersion = "test"
	return handler, store
}

func decodeDetail(t *testing.T, body io.Reader) string {
	t.Helper()
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Detail
}

func multipartBody(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doUpload(t *testing.T, handler *Handler, version, platform, filename, apiKey string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, payload)
	req := httptest.NewRequest(http.MethodPost, "/upload/"+version+"/"+platform, body)
	req.Header.Set("Content-Type", contentType)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler, store := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Status              string `json:"status"`
		Service             string `json:"service"`
		Version             string `json:"version"`
		FilesystemAvailable bool   `json:"filesystem_available"`
		ReleasesDir         string `json:"releases_dir"`
		Timestamp           string `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if payload.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", payload.Status)
	}
	if payload.Service != ServiceName {
		t.Fatalf("service = %q, want %q", payload.Service, ServiceName)
	}
	if !payload.FilesystemAvailable {
		t.Fatal("filesystem_available should be true over an existing root")
	}
	if payload.ReleasesDir != store.Root() {
		t.Fatalf("releases_dir = %q, want %q", payload.ReleasesDir, store.Root())
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not RFC3339: %v", payload.Timestamp, err)
	}
}

func TestHealthDegraded(t *testing.T) {
	store, err := storage.New(storage.Config{Root: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("storage.New returned error: %v", err)
	}
	handler := NewHandler(store)
	handler.Metrics = metrics.New()

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("degraded health must still return 200, got %d", rec.Code)
	}
	var payload struct {
		Status              string `json:"status"`
		FilesystemAvailable bool   `json:"filesystem_available"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if payload.Status != "degraded" || payload.FilesystemAvailable {
		t.Fatalf("expected degraded/false, got %q/%v", payload.Status, payload.FilesystemAvailable)
	}
}

func TestLatestReleaseEmptyStore(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.LatestRelease(rec, httptest.NewRequest(http.MethodGet, "/releases/latest", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if detail := decodeDetail(t, rec.Body); !strings.Contains(detail, "stable") {
		t.Fatalf("detail %q should name the channel", detail)
	}
}

func TestLatestReleaseInvalidChannel(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.LatestRelease(rec, httptest.NewRequest(http.MethodGet, "/releases/latest?channel=prod", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLatestReleaseServesPointer(t *testing.T) {
	handler, store := newTestHandler(t)
	meta := release.Metadata{
		Version:    "0.3.0",
		Channel:    "beta",
		ReleasedAt: "2026-08-01T00:00:00Z",
		Platforms:  map[string]string{"linux-x86_64": "abc"},
		Downloads:  map[string]string{"linux-x86_64": "/download/0.3.0/linux-x86_64"},
	}
	if err := store.WriteLatestPointer(release.ChannelBeta, meta); err != nil {
		t.Fatalf("WriteLatestPointer returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.LatestRelease(rec, httptest.NewRequest(http.MethodGet, "/releases/latest?channel=beta", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got release.Metadata
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Version != "0.3.0" || got.Channel != "beta" {
		t.Fatalf("unexpected metadata %+v", got)
	}
}

func TestReleaseByVersionNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ReleaseByVersion(rec, httptest.NewRequest(http.MethodGet, "/releases/9.9.9", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if detail := decodeDetail(t, rec.Body); !strings.Contains(detail, "9.9.9") {
		t.Fatalf("detail %q should name the version", detail)
	}
}

func TestReleaseByVersionAfterUpload(t *testing.T) {
	handler, _ := newTestHandler(t)
	if rec := doUpload(t, handler, "1.2.3", "darwin-arm64", "cco.tar.gz", testAPIKey, []byte("binary")); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	handler.ReleaseByVersion(rec, httptest.NewRequest(http.MethodGet, "/releases/1.2.3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got release.Metadata
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Version != "1.2.3" {
		t.Fatalf("version = %q, want 1.2.3", got.Version)
	}
	if _, ok := got.Platforms["darwin-arm64"]; !ok {
		t.Fatal("uploaded platform missing from descriptor")
	}
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	handler, _ := newTestHandler(t)
	payload := []byte("abc")

	rec := doUpload(t, handler, "0.3.0", "linux-x86_64", "cco-v0.3.0-linux-x86_64.tar.gz", testAPIKey, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Status string `json:"status"`
		Size   int64  `json:"size"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload body: %v", err)
	}
	if uploaded.Status != "uploaded" || uploaded.Size != int64(len(payload)) {
		t.Fatalf("unexpected upload response %+v", uploaded)
	}

	dl := httptest.NewRecorder()
	handler.Download(dl, httptest.NewRequest(http.MethodGet, "/download/0.3.0/linux-x86_64", nil))

	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if !bytes.Equal(dl.Body.Bytes(), payload) {
		t.Fatalf("downloaded %q, want %q", dl.Body.Bytes(), payload)
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "cco-v0.3.0-linux-x86_64.tar.gz") {
		t.Fatalf("content disposition = %q", cd)
	}
}

func TestDownloadValidatesBeforeStore(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.Download(rec, httptest.NewRequest(http.MethodGet, "/download/1.0.0/solaris-sparc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown platform status = %d, want 400", rec.Code)
	}
	if detail := decodeDetail(t, rec.Body); !strings.Contains(detail, "valid platforms are") {
		t.Fatalf("detail %q should list valid platforms", detail)
	}

	rec = httptest.NewRecorder()
	handler.Download(rec, httptest.NewRequest(http.MethodGet, "/download/../linux-x86_64", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("traversal version status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Download(rec, httptest.NewRequest(http.MethodGet, "/download/1.0.0/linux-x86_64", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing artifact status = %d, want 404", rec.Code)
	}
}

func TestUploadWithoutConfiguredKey(t *testing.T) {
	handler, _ := newTestHandler(t)
	handler.UploadAPIKey = ""

	rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "cco.tar.gz", "any-key", []byte("x"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestUploadRejectsBadKey(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "cco.tar.gz", "wrong", []byte("x"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", rec.Code)
	}

	body, contentType := multipartBody(t, "cco.tar.gz", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/upload/1.0.0/linux-x86_64", body)
	req.Header.Set("Content-Type", contentType)
	missing := httptest.NewRecorder()
	handler.Upload(missing, req)
	if missing.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", missing.Code)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "cco.tar.gz", testAPIKey, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if detail := decodeDetail(t, rec.Body); !strings.Contains(detail, "empty") {
		t.Fatalf("detail %q should mention the empty payload", detail)
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	store, err := storage.New(storage.Config{Root: t.TempDir(), MaxArtifactSize: 16})
	if err != nil {
		t.Fatalf("storage.New returned error: %v", err)
	}
	handler := NewHandler(store)
	handler.Metrics = metrics.New()
	handler.UploadAPIKey = testAPIKey

	rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "cco.tar.gz", testAPIKey, bytes.Repeat([]byte("a"), 32))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doUpload(t, handler, "1.0.0", "windows-x86_64", "cco.tar.gz", testAPIKey, []byte("x"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadRequiresMultipart(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/upload/1.0.0/linux-x86_64", strings.NewReader("raw bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadPublishesEvent(t *testing.T) {
	handler, _ := newTestHandler(t)
	queue := events.NewMemoryQueue(4)
	handler.Events = queue
	sub := queue.Subscribe()
	defer sub.Close()

	if rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "cco.tar.gz", testAPIKey, []byte("abc")); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != events.TypeUploaded || ev.Version != "1.0.0" || ev.SizeBytes != 3 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no upload event published")
	}
}

func TestUploadOverwriteLastWriterWins(t *testing.T) {
	handler, _ := newTestHandler(t)

	if rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "a.tar.gz", testAPIKey, []byte("first")); rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d", rec.Code)
	}
	if rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "b.tar.gz", testAPIKey, []byte("second")); rec.Code != http.StatusOK {
		t.Fatalf("second upload status = %d", rec.Code)
	}

	dl := httptest.NewRecorder()
	handler.Download(dl, httptest.NewRequest(http.MethodGet, "/download/1.0.0/linux-x86_64", nil))
	if dl.Body.String() != "second" {
		t.Fatalf("downloaded %q, want last write", dl.Body.String())
	}
}

func TestNotFoundRoot(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.NotFound(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.LatestRelease(rec, httptest.NewRequest(http.MethodPost, "/releases/latest", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST latest status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Upload(rec, httptest.NewRequest(http.MethodGet, "/upload/1.0.0/linux-x86_64", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET upload status = %d, want 405", rec.Code)
	}
}

func TestDownloadFeedsMetricsThroughWorker(t *testing.T) {
	handler, _ := newTestHandler(t)
	queue := events.NewMemoryQueue(8)
	handler.Events = queue

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.NewWorker(queue, handler.Metrics, nil).Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if rec := doUpload(t, handler, "1.0.0", "linux-x86_64", "cco.tar.gz", testAPIKey, []byte("abc")); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}
	dl := httptest.NewRecorder()
	handler.Download(dl, httptest.NewRequest(http.MethodGet, "/download/1.0.0/linux-x86_64", nil))
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, bytesTotal := handler.Metrics.DownloadCounts()
		if counts["linux-x86_64"] == 1 && bytesTotal["linux-x86_64"] == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("download counters = %v / %v", counts, bytesTotal)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadArtifactLandsOnDisk(t *testing.T) {
	handler, store := newTestHandler(t)
	if rec := doUpload(t, handler, "5.0.0", "windows-x86_64", "cco.zip", testAPIKey, []byte("exe")); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	path := filepath.Join(store.Root(), "5.0.0", "cco-v5.0.0-windows-x86_64.zip")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact missing at %s: %v", path, err)
	}
}
