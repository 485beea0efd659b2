// Package engine defines the storage-engine contract the sync core runs
// against: a keyed table of opaque serialized payloads, a transaction
// primitive, and one of two change-delivery capabilities.
//
// # Capabilities
//
// Engines differ in how they report changes, and the contract accommodates
// both families:
//
//  1. Notifier: the engine delivers row-level change notifications
//     ({op, id, row}) over a publish/subscribe channel. Consumers can apply
//     each change directly, falling back to a point re-fetch when the
//     notification omits the post-image row.
//
//  2. LiveQuerier: the engine only signals "something may have changed".
//     Consumers must rescan the table and diff full snapshots on every
//     signal.
//
// An engine implements at least one capability; consumers detect which via
// type assertion and prefer Notifier when both are present.
//
// # Wire format
//
// Notifier engines publish JSON payloads of the form
//
//	{"op": "INSERT"|"UPDATE"|"DELETE", "id": <key>, "row": <post-image>}
//
// on a channel named ChannelName(table), a sanitized "<table>_change"
// identifier. The row member is omitted for deletes and may be omitted for
// oversized rows; DecodeNotification normalizes numeric ids to their decimal
// string form.
//
// # Implementations
//
//   - gormstore: GORM-backed tables (SQLite, MySQL) with a polling
//     LiveQuerier.
//   - pgstore: PostgreSQL over database/sql with trigger-fed LISTEN/NOTIFY
//     as the Notifier.
//   - memstore: in-memory tables with both capabilities, used by tests and
//     the memory driver.
package engine
