// Package template loads reusable workflow definitions from TOML files and
// materializes them into concrete project stage sets. Templates reference
// stages by symbolic key; materialization assigns real ids and resolves the
// dependency references.
package template
