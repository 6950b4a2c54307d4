// Package store implements the persistence contracts declared in
// internal/core: the entity tables imports write into, the batch and
// record bookkeeping, and the append-only audit log.
//
// Two implementations exist with identical semantics. Postgres, backed by
// pgx, is the production store; Memory backs tests and dev mode when no
// database is configured. Both match external identifiers
// case-insensitively and both enforce the batch status graph and the
// settle-once record rule, so behavior does not drift between dev and
// production.
package store
