// Package watcher runs the background consistency sweep. It periodically
// re-derives every stage's blocked/ready split against the store and corrects
// drift introduced by out-of-band writes, and it reacts to committed-change
// events with a debounced immediate sweep so corrections do not wait for the
// next tick.
package watcher
