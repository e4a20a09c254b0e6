// Package commit implements the two-phase preview/apply protocol that turns
// scan candidates into durable links.
//
// Preview scans, hashes the sorted candidate keys, derives lineage and
// persists an immutable snapshot. Apply re-checks the snapshot (existence,
// TTL, hash) and upserts every accepted candidate as a link, recording a
// Run and one undoable action batch in the same transaction. Applying the
// same preview again returns the first result without writing.
//
// Canary, BatchRun and Drift reuse the scan and upsert machinery for
// sampling, direct pipeline commits and drift reports.
package commit
