// Package archive keeps a durable SQLite record of every job that reached a
// terminal state.
//
// The live history held by the scheduler can be cleared by clients; the
// archive is append-mostly and is what `encodetalker history --archived`
// reads, even while the daemon is not running. Schema changes bump
// schemaVersion; users delete archive.db to adopt a new schema.
package archive
