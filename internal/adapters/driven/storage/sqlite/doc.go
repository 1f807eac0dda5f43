// Package sqlite provides the default SQLite-backed implementation of the
// driven storage ports.
//
// It uses modernc.org/sqlite, a pure Go SQLite implementation that needs no
// CGO. One database file holds all tables:
//
//   - RecordSink: normalised records keyed by (entity, id)
//   - CheckpointStore: per-entity pagination checkpoints
//   - TelemetryStore: sync runs, entity progress, request metrics,
//     throttle and error events, source counts
//   - SchedulerStore: scheduled tasks and their history
//
// # Schema
//
// The schema is managed with goose migrations embedded from migrations/.
//
// # Data Location
//
// By default, the database is stored at ~/.keapsync/data/keapsync.db
//
// # Thread Safety
//
// All operations are safe for concurrent use. The database runs in WAL mode
// with a busy timeout, and each record batch gets its own connection.
package sqlite
