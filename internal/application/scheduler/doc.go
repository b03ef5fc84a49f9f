// Package scheduler computes start and end dates for a project's stages.
//
// Scheduling walks the dependency graph in topological order, placing root
// stages at category-based offsets from the project start and dependent
// stages after their latest dependency plus a buffer. Dates are
// end-inclusive calendar days. A dependency cycle aborts scheduling with an
// explicit CycleError; nothing is silently dropped.
//
// RecalculateDownstream produces the incremental shifts needed after one
// stage's dates change. It returns the shift records for preview and audit;
// the caller decides whether to persist them.
package scheduler
