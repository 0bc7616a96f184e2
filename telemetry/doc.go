// Package telemetry configures OpenTelemetry tracing for StoryMesh.
//
// Tracing is opt-in. Without an endpoint Setup installs nothing and every
// tracer obtained through Tracer is a no-op.
package telemetry
