// Package events distributes release lifecycle notifications to interested
// consumers. The default queue is an in-process fan-out; deployments that
// need the stream to survive the process or feed external tooling can point
// it at Redis Streams instead.
package events

import "time"

// Type names a release lifecycle event.
type Type string

const (
	// TypeUploaded is published after an artifact is fully persisted and
	// its version descriptor updated.
	TypeUploaded Type = "release.uploaded"
	// TypeDownloaded is published after an artifact download response has
	// been handed to the HTTP layer.
	TypeDownloaded Type = "release.downloaded"
)

// Event is the wire representation pushed onto the queue.
type Event struct {
	Type       Type      `json:"type"`
	Version    string    `json:"version"`
	Platform   string    `json:"platform"`
	SizeBytes  int64     `json:"sizeBytes"`
	Checksum   string    `json:"checksum,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
