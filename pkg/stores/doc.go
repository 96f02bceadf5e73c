// Package stores provides the SQLite persistence layer for docguard.
//
// A SQLiteStore holds the administrative copy of the rule data (policy specs,
// control mappings and readability thresholds) and the history of validation
// results. Rule data is written through the same checks as rules.Builder and
// read back as an immutable rules.Snapshot with LoadSnapshot. Mapping upserts
// replace an existing (policy type, control) row; they never merge keyword
// sets.
//
// Results are stored in their canonical JSON encoding together with the
// SHA-256 of the validated text. The text itself is not kept. PruneResults
// implements retention, and every administrative change is written to the
// audit table.
//
// The schema is managed by golang-migrate from embedded migrations. The
// database uses WAL mode, so the CLI and a long-running watch process can
// share one file.
package stores
