// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Project setup from templates or explicit stage lists
//   - Stage transitions with impact previews
//   - Progress and graph validation queries
//   - Health checks
//   - Prometheus metrics
package http
