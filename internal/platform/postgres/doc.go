// Package postgres provides PostgreSQL-specific implementations for the
// persistence interfaces defined in the internal/store package. It owns the
// SQL for atomic task claiming, the transactional cascade trigger, lease
// reclamation, and the job status rollup, and maps database errors to the
// store error vocabulary.
package postgres
