// Package orchestrator drives stage state transitions.
//
// The orchestrator validates transitions against the dependency graph,
// commits status changes to the stage store, cascades consequences to
// dependent stages, recomputes aggregate project progress and publishes
// events on the event bus. Destructive changes go through a two-phase
// preview: when the evaluated impact requires confirmation the call returns
// the impact instead of committing, and the caller re-invokes with force.
//
// Multi-stage cascades are not transactional. A failure mid-cascade leaves a
// transient inconsistency that the watcher's next pass converges.
package orchestrator
