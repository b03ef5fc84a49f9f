// Package storage provides stage, audit and project store implementations.
//
// Implementations:
//   - memory: in-memory for tests and development
//   - redis: Redis with JSON values and per-project index sets
//   - sqlite: embedded SQLite for single-node deployments
package storage
