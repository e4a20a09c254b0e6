// Package store provides SQLite-backed durable storage for famlink.
//
// One database file holds:
//   - Jobs: the durable job queue (claim is a single guarded UPDATE)
//   - Rules and rule_versions: versioned heading rules with an edit lock
//   - Previews and preview_candidates: content-addressed candidate snapshots
//   - Links: committed annotations, unique per (scope, doc, section, clause_key)
//   - Runs: append-only audit of committing operations
//   - Actions and undo_state: the global undo/redo log and its cursor
//   - Events: audit of unlink/relink/reassign and alias cycles
//   - scope_aliases, conflict_policies, calibrations, section_embeddings
//
// # Access Patterns
//
// Queries carries every single-statement operation and is embedded by both
// Store (autocommit) and Tx (explicit transaction). Multi-row writes that
// must be atomic go through Store.WithTx or a Store method that opens one.
//
// Every family-scoped listing (rules, links, runs, previews, calibration)
// expands the requested scope through ResolveAliasClosure so historical
// naming does not fragment results.
//
// Links are never deleted. Unlinking is a status transition, and undoing a
// link insert marks the row unlinked.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection per process
package store
