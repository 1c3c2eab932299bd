// Package server hosts the releases API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, rate limiting, and security headers so handlers all share common
// protections and instrumentation.
package server
