// Package history records maintenance run outcomes in a local SQLite
// database. The store is an append-only ledger: a row is inserted when a
// run starts and updated once when it finishes. Failures here never stop
// a run; callers log and move on.
package history
