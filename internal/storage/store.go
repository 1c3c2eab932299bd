// Package storage persists release metadata and binary artifacts on the
// local filesystem beneath a single releases root.
//
// Layout:
//
//	{root}/metadata/latest-{channel}.json
//	{root}/{version}/version-info.json
//	{root}/{version}/cco-v{version}-{platform}.{ext}
//
// Every identifier is validated before a path is built from it. Writes go
// through a temp file in the destination directory followed by a single
// rename, so concurrent readers see either the previous artifact or the
// complete new one, never a partial write. Concurrent uploads to the same
// (version, platform) resolve last-writer-wins.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cco-releases/internal/release"
)

const metadataDir = "metadata"

// Config carries the immutable settings the store needs. It is built once at
// startup and handed in; the store never reads ambient process state.
type Config struct {
	// Root is the releases directory all paths are resolved under.
	Root string
	// MaxArtifactSize overrides the default artifact size cap. Values of
	// zero or below fall back to release.MaxArtifactSize.
	MaxArtifactSize int64
	Logger          *slog.Logger
}

// Store reads and writes release documents and artifacts. All methods are
// safe for concurrent use; files are only ever replaced whole, never mutated
// in place, so reads need no locking.
type Store struct {
	root    string
	maxSize int64
	logger  *slog.Logger
}

// New builds a Store rooted at cfg.Root. The root is not created here; a
// missing root surfaces through Available and per-operation errors so the
// service can report itself degraded instead of silently writing elsewhere.
func New(cfg Config) (*Store, error) {
	root := filepath.Clean(cfg.Root)
	if root == "" || root == "." {
		return nil, fmt.Errorf("releases root is required")
	}
	maxSize := cfg.MaxArtifactSize
	if maxSize <= 0 {
		maxSize = release.MaxArtifactSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, maxSize: maxSize, logger: logger}, nil
}

// Root reports the releases directory the store resolves paths under.
func (s *Store) Root() string {
	return s.root
}

// Available reports whether the releases root exists and is a directory. It
// never returns an error; failures simply read as unavailable.
func (s *Store) Available() bool {
	info, err := os.Stat(s.root)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// LatestMetadata resolves the latest pointer document for a channel.
func (s *Store) LatestMetadata(channel release.Channel) (release.Metadata, error) {
	if channel != release.ChannelStable && channel != release.ChannelBeta {
		return release.Metadata{}, fmt.Errorf("%w: %q", release.ErrInvalidChannel, channel)
	}
	path := filepath.Join(s.root, metadataDir, fmt.Sprintf("latest-%s.json", channel))
	meta, err := s.readMetadata(path)
	if errors.Is(err, release.ErrNotFound) {
		return release.Metadata{}, fmt.Errorf("%w: no release found for channel %s", release.ErrNotFound, channel)
	}
	return meta, err
}

// VersionMetadata resolves the per-version descriptor document.
func (s *Store) VersionMetadata(version string) (release.Metadata, error) {
	if err := release.ValidateVersion(version); err != nil {
		return release.Metadata{}, err
	}
	path := filepath.Join(s.root, version, "version-info.json")
	meta, err := s.readMetadata(path)
	if errors.Is(err, release.ErrNotFound) {
		return release.Metadata{}, fmt.Errorf("%w: release %s not found", release.ErrNotFound, version)
	}
	return meta, err
}

func (s *Store) readMetadata(path string) (release.Metadata, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return release.Metadata{}, release.ErrNotFound
		}
		return release.Metadata{}, fmt.Errorf("read metadata %s: %w", path, err)
	}
	var meta release.Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		s.logger.Warn("release metadata document is malformed", "path", path, "error", err)
		return release.Metadata{}, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return meta, nil
}

// Artifact is an open binary ready for streaming. The caller owns Content
// and must close it.
type Artifact struct {
	Content  io.ReadSeekCloser
	Filename string
	Size     int64
	ModTime  time.Time
}

// OpenArtifact opens the binary for (version, platform) after validating
// both identifiers. The on-disk size is checked against the cap before the
// file is handed out so an oversized or corrupted artifact is refused whole
// rather than served truncated.
func (s *Store) OpenArtifact(version, platform string) (*Artifact, error) {
	if err := release.ValidateVersion(version); err != nil {
		return nil, err
	}
	if err := release.ValidatePlatform(platform); err != nil {
		return nil, err
	}
	filename := release.ArtifactFilename(version, platform)
	path := filepath.Join(s.root, version, filename)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: binary not found for %s/%s", release.ErrNotFound, version, platform)
		}
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat artifact %s: %w", path, err)
	}
	if info.Size() > s.maxSize {
		file.Close()
		s.logger.Warn("stored artifact exceeds the size cap, refusing to serve", "path", path, "size", info.Size())
		return nil, fmt.Errorf("%w: %s is %d bytes", release.ErrArtifactTooLarge, filename, info.Size())
	}
	return &Artifact{
		Content:  file,
		Filename: filename,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

// SavedArtifact reports the outcome of a completed upload.
type SavedArtifact struct {
	Path     string
	Size     int64
	Checksum string
}

// SaveArtifact persists an uploaded binary. The destination name is always
// derived from (version, platform); declaredFilename is consulted only to
// verify the extension matches the platform. Content is streamed to a temp
// file in the version directory while hashed, then renamed into place, and
// the version descriptor is updated with the new checksum. Re-uploads for
// the same (version, platform) replace the prior artifact.
func (s *Store) SaveArtifact(version, platform, declaredFilename string, content io.Reader) (SavedArtifact, error) {
	if err := release.ValidateVersion(version); err != nil {
		return SavedArtifact{}, err
	}
	if err := release.ValidatePlatform(platform); err != nil {
		return SavedArtifact{}, err
	}
	ext := release.Ext(platform)
	if !hasExtension(declaredFilename, ext) {
		return SavedArtifact{}, fmt.Errorf("%w for %s: expected %s", release.ErrInvalidExtension, platform, ext)
	}

	versionDir := filepath.Join(s.root, version)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return SavedArtifact{}, fmt.Errorf("create version directory: %w", err)
	}

	tmp, err := os.CreateTemp(versionDir, ".upload-*")
	if err != nil {
		return SavedArtifact{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(content, s.maxSize+1))
	if err != nil {
		cleanup()
		return SavedArtifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if written > s.maxSize {
		cleanup()
		return SavedArtifact{}, fmt.Errorf("%w: upload exceeds %d bytes", release.ErrArtifactTooLarge, s.maxSize)
	}
	if written == 0 {
		cleanup()
		return SavedArtifact{}, release.ErrEmptyArtifact
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return SavedArtifact{}, fmt.Errorf("flush artifact: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return SavedArtifact{}, fmt.Errorf("chmod artifact: %w", err)
	}

	finalPath := filepath.Join(versionDir, release.ArtifactFilename(version, platform))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return SavedArtifact{}, fmt.Errorf("store artifact: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	if err := s.recordArtifact(version, platform, checksum); err != nil {
		return SavedArtifact{}, err
	}

	s.logger.Debug("artifact stored", "path", finalPath, "size", written)
	return SavedArtifact{Path: finalPath, Size: written, Checksum: checksum}, nil
}

// recordArtifact upserts the version descriptor with the checksum of a newly
// stored binary. The descriptor is created on the first artifact for a
// version; the per-channel latest pointer is maintained out-of-band by
// release tooling and is never written here.
func (s *Store) recordArtifact(version, platform, checksum string) error {
	path := filepath.Join(s.root, version, "version-info.json")
	meta, err := s.readMetadata(path)
	switch {
	case errors.Is(err, release.ErrNotFound):
		meta = release.Metadata{
			Version:    version,
			Channel:    string(release.ChannelStable),
			ReleasedAt: time.Now().UTC().Format(time.RFC3339),
			Platforms:  map[string]string{},
			Downloads:  map[string]string{},
		}
	case err != nil:
		return fmt.Errorf("load version descriptor: %w", err)
	}
	if meta.Platforms == nil {
		meta.Platforms = map[string]string{}
	}
	meta.Platforms[platform] = checksum

	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode version descriptor: %w", err)
	}
	return s.writeFileAtomic(path, append(payload, '\n'))
}

// WriteLatestPointer replaces the latest pointer document for a channel. It
// backs release promotion tooling rather than the upload path.
func (s *Store) WriteLatestPointer(channel release.Channel, meta release.Metadata) error {
	if channel != release.ChannelStable && channel != release.ChannelBeta {
		return fmt.Errorf("%w: %q", release.ErrInvalidChannel, channel)
	}
	if err := release.ValidateVersion(meta.Version); err != nil {
		return err
	}
	dir := filepath.Join(s.root, metadataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode latest pointer: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("latest-%s.json", channel))
	return s.writeFileAtomic(path, append(payload, '\n'))
}

func (s *Store) writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".metadata-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("flush metadata: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod metadata: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store metadata: %w", err)
	}
	return nil
}

func hasExtension(filename, ext string) bool {
	return filename != "" && strings.HasSuffix(filename, ext)
}
