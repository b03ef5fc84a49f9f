// Package resolver derives stage readiness from the dependency graph.
//
// It is pure: nothing here touches storage. The orchestrator and watcher
// call into it to:
//   - compute a stage's derived status (ready/blocked vs the stored status)
//   - walk dependents along reverse edges
//   - validate graph integrity, including real cycle detection
//   - evaluate the impact of a proposed status change before committing it
package resolver
