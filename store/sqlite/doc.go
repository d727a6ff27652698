// Package sqlite implements the store on database/sql with the
// mattn/go-sqlite3 driver. Admission runs in an immediate transaction,
// so SQLite's single-writer lock serializes concurrent admitters.
// Timestamps are stored as unix nanosecond integers and the schema
// ships as embedded SQL migrations.
package sqlite
