// Package events provides event bus implementations.
//
// Implementations:
//   - memory: in-process fan-out for tests and single-node deployments
//   - redis: Redis Streams with consumer groups
package events
