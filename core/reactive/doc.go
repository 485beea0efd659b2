// Package reactive provides the in-memory collection that mirrors one
// storage table for observers.
//
// The sync engine is the collection's only writer and updates it through a
// four-call contract:
//
//	coll.Begin()
//	coll.Write(reactive.Write{Type: reactive.WriteInsert, Key: "1", Value: payload})
//	coll.Commit()
//	coll.MarkReady() // once, after the initial load
//
// Batches apply atomically: readers never observe a half-applied batch.
// Application is idempotent, so replaying a batch (which the sync engine may
// do after a reconnect) cannot duplicate records.
//
// # Observation
//
// Readers poll with Get/Snapshot/Len or block:
//
//	<-coll.Watch()        // closed on the next committed change
//	coll.WaitReady(ctx)   // returns once the initial load has completed
//
// Watch follows the close-and-recreate broadcast idiom: each committed batch
// closes the current channel and installs a fresh one, so every waiter wakes
// exactly once per commit and re-arms by calling Watch again.
package reactive
