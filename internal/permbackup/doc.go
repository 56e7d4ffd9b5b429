// Package permbackup snapshots filesystem permissions before a sync
// rewrites parity. Each run dumps numeric ACLs per data drive, bundles
// the dumps with a manifest into one compressed archive, distributes
// the archive to every data drive, and rotates old archives away.
package permbackup
