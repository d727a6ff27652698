// Package postgres implements the store using pgx/v5 with raw SQL.
// Admission runs in one transaction under an advisory lock with
// SKIP LOCKED row claims. Schema ships as embedded SQL migrations.
package postgres
