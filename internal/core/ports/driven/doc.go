// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - RecordSource: Fetches raw pages from the Keap API
//   - RecordSink: Idempotent batch upserts
//   - CheckpointStore: Per-entity pagination progress
//   - ConfigStore: Writable application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - TelemetryStore: Run history and metrics. Without it runs are not tracked
//     and resume is unavailable.
//   - SchedulerStore: Task state for "keapsync serve".
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
