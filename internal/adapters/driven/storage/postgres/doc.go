// Package postgres implements the record, checkpoint and telemetry stores
// on PostgreSQL through a pgx connection pool.
//
// Migrations are embedded and applied with goose on connect. Record
// batches acquire a pooled connection, run inside one transaction and are
// sent as a single pgx batch.
package postgres
