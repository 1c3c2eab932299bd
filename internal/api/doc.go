// Package api implements the HTTP handlers for the releases service: release
// metadata lookup, artifact download and upload, and the health probe.
// Request parsing and response encoding live here; path safety, platform
// rules, and persistence live in internal/release and internal/storage.
package api
