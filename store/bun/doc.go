// Package bunstore provides a PostgreSQL store.Store built on the Bun
// ORM. It shares the tierq_jobs schema and the admission advisory lock
// with the pgx store, so both can serve the same database. The caller
// owns the *bun.DB lifecycle; Close is a no-op.
package bunstore
