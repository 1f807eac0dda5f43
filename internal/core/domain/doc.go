// Package domain defines the core types of the Keap sync engine.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - RawRecord / NormalizedRecord: an API item before and after transform
//   - EntitySpec: endpoint and transform for one entity
//   - Checkpoint: durable per-entity pagination progress
//   - SyncRun / EntityProgress / RequestMetric: run telemetry
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
