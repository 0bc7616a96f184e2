// Package memory contains process-local implementations of core.AgentStore
// and core.LocationStore. The store interfaces reside in the core package;
// select an implementation (these, or the YAML-backed store) at wiring time.
//
// The in-memory stores back tests and ephemeral deployments. Every read
// returns a deep copy, so callers may mutate results freely.
package memory
