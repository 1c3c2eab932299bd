// Command promote-release points a channel at an already uploaded version.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"cco-releases/internal/release"
	"cco-releases/internal/storage"
)

func main() {
	var (
		releasesDir string
		version     string
		channel     string
		baseURL     string
	)

	flag.StringVar(&releasesDir, "releases-dir", "", "Path to the release artifact store")
	flag.StringVar(&version, "version", "", "Version to promote")
	flag.StringVar(&channel, "channel", "stable", "Channel to point at the version (stable or beta)")
	flag.StringVar(&baseURL, "base-url", "", "Public base URL used to build download links (e.g. https://releases.example.com)")
	flag.Parse()

	if releasesDir == "" {
		releasesDir = strings.TrimSpace(os.Getenv("RELEASES_DIR"))
	}
	if releasesDir == "" {
		fatalf("--releases-dir or RELEASES_DIR is required")
	}
	if strings.TrimSpace(version) == "" {
		fatalf("--version is required")
	}
	ch, err := release.ParseChannel(channel)
	if err != nil {
		fatalf("invalid --channel: %v", err)
	}

	store, err := storage.New(storage.Config{
		Root:            releasesDir,
		MaxArtifactSize: release.MaxArtifactSize,
	})
	if err != nil {
		fatalf("open release store: %v", err)
	}

	meta, err := store.VersionMetadata(version)
	if err != nil {
		fatalf("load version metadata: %v", err)
	}
	if len(meta.Platforms) == 0 {
		fatalf("version %s has no uploaded artifacts", version)
	}

	meta.Channel = string(ch)
	meta.Downloads = downloadLinks(version, meta.Platforms, baseURL)
	if err := store.WriteLatestPointer(ch, meta); err != nil {
		fatalf("write latest pointer: %v", err)
	}

	fmt.Printf("Channel %s now points at version %s (%d platforms).\n", ch, version, len(meta.Platforms))
}

func downloadLinks(version string, platforms map[string]string, baseURL string) map[string]string {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	links := make(map[string]string, len(platforms))
	for platform := range platforms {
		path := fmt.Sprintf("/download/%s/%s", version, platform)
		if base != "" {
			links[platform] = base + path
		} else {
			links[platform] = path
		}
	}
	return links
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
