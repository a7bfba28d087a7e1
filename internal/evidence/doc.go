// Package evidence holds the data model shared by the runner, the
// orchestrator and the bundle writer: per-module results, manifest records,
// the sealed run manifest, digest algorithms and run identifiers.
package evidence
