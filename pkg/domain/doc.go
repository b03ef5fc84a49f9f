// Package domain defines the core entities of the stage engine.
//
// A Stage is one unit of work in a project's dependency graph. Its stored
// Status is the source of truth; readiness against dependencies is always
// derived, never stored. The package also carries the value types exchanged
// between the engine and its collaborators: impact previews, audit entries
// and events.
package domain
