// Package corpus is the read-only view of the document index that scans
// read from.
//
// The Index interface exposes four operations:
//   - Query: documents matching a predicate tree
//   - SearchSections: section headings of one document
//   - GetDefinitions: defined terms of one document
//   - GetSectionText: section text and clause spans
//
// Two implementations ship: SQLiteIndex opens an index file read-only, and
// MemoryIndex serves a Fixture held in memory. WriteSQLite materializes a
// Fixture as an index file.
package corpus
