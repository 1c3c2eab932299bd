package release

import "errors"

// Sentinel errors shared across the store and HTTP handlers. Handlers map
// these onto status codes; anything not matched is treated as an internal
// store failure and reported opaquely.
var (
	ErrInvalidVersion   = errors.New("invalid version string")
	ErrInvalidPlatform  = errors.New("invalid platform string")
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrNotFound         = errors.New("not found")
	ErrEmptyArtifact    = errors.New("empty file not allowed")
	ErrArtifactTooLarge = errors.New("file size exceeds maximum allowed")
	ErrUploadsDisabled  = errors.New("uploads not enabled")
	ErrInvalidAPIKey    = errors.New("invalid API key")
)
