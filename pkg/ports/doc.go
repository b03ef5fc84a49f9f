// Package ports declares the collaborator contracts the engine depends on.
//
// Adapters under pkg/adapters provide concrete implementations:
//   - storage: memory (tests), redis, sqlite
//   - events: memory (in-process), redis streams
//   - metrics: prometheus
package ports
