// Package storage persists users, reminders, their schedules and the phase
// table.
//
// Drivers:
//   - memory: process-local maps, used by tests and dry runs
//   - sqlite: modernc.org/sqlite database file with embedded migrations
//   - postgres: pgx connection pool
//   - mysql: go-sql-driver/mysql, sharing the sqlite SQL
//
// Timestamps are stored as unix seconds. Every driver error wraps ErrStore.
package storage
