// Package release defines the release metadata model shared by the API
// handlers and the filesystem store, along with the validation rules that
// gate every identifier before it is used to build a path.
package release

import (
	"fmt"
	"strings"
)

// Channel is the release track a client follows. Each channel has its own
// latest pointer document under {root}/metadata/.
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelBeta   Channel = "beta"
)

// MaxArtifactSize caps both uploaded artifacts and artifacts served from
// disk. Anything larger is treated as corrupt rather than streamed.
const MaxArtifactSize int64 = 500 * 1024 * 1024

// Platforms is the closed set of OS/architecture targets a release is built
// for. Identifiers outside this list are rejected before any storage access.
var Platforms = []string{
	"darwin-arm64",
	"darwin-x86_64",
	"linux-x86_64",
	"linux-aarch64",
	"windows-x86_64",
}

// Metadata mirrors the on-disk JSON documents: one version-info.json per
// version directory plus one latest-{channel}.json per channel. Readers
// tolerate unknown keys in documents loaded from disk.
type Metadata struct {
	Version    string            `json:"version"`
	Channel    string            `json:"channel"`
	ReleasedAt string            `json:"released_at"`
	Platforms  map[string]string `json:"platforms"`
	Downloads  map[string]string `json:"downloads"`
}

// ParseChannel resolves a channel query value, defaulting to stable when
// empty. Matching is exact; any other value fails before any I/O.
func ParseChannel(raw string) (Channel, error) {
	switch raw {
	case "":
		return ChannelStable, nil
	case string(ChannelStable):
		return ChannelStable, nil
	case string(ChannelBeta):
		return ChannelBeta, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
	}
}

// ValidateVersion rejects version identifiers that could escape the releases
// root when joined into a path. It must be called before any filesystem
// access derived from the version.
func ValidateVersion(version string) error {
	if version == "" || containsTraversal(version) {
		return ErrInvalidVersion
	}
	return nil
}

// ValidatePlatform rejects traversal sequences and any identifier outside
// the fixed platform set.
func ValidatePlatform(platform string) error {
	if platform == "" || containsTraversal(platform) {
		return ErrInvalidPlatform
	}
	for _, known := range Platforms {
		if platform == known {
			return nil
		}
	}
	return fmt.Errorf("%w: valid platforms are %s", ErrInvalidPlatform, strings.Join(Platforms, ", "))
}

func containsTraversal(value string) bool {
	return strings.Contains(value, "..") ||
		strings.Contains(value, "/") ||
		strings.Contains(value, "\\")
}

// Ext returns the archive extension for a platform: zip for Windows targets,
// tar.gz for everything else. The rule is fixed, not stored metadata.
func Ext(platform string) string {
	if strings.HasPrefix(platform, "windows") {
		return "zip"
	}
	return "tar.gz"
}

// ArtifactFilename derives the canonical on-disk artifact name. The name is
// always server-computed; caller-supplied filenames are never used as paths.
func ArtifactFilename(version, platform string) string {
	return fmt.Sprintf("cco-v%s-%s.%s", version, platform, Ext(platform))
}
