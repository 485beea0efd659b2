// Package mirror keeps an in-memory reactive collection synchronized with one
// table of a local store engine.
//
// A Session owns the full pipeline for a single table: it subscribes to change
// notifications, pages the table into an initial snapshot, and from then on
// applies every remote change and every local mutation to the collection in
// atomic batches. Consumers read the collection and watch its update channel;
// they never talk to the engine directly.
//
// # Architecture
//
// The package is built from small, independently testable parts:
//
// 1. BatchedLoader: pages a table in ascending key order, folds each page into
// a snapshot, and emits one change batch per page plus a final batch of
// deletes for keys that disappeared since the previous pass.
//
// 2. NotificationBridge: buffers notifications while a load pass runs, then
// switches to live forwarding. Live notifications are filtered through the
// EchoSuppressor and, when they carry no row payload, resolved with a point
// refetch against the table.
//
// 3. EchoSuppressor: remembers keys written locally so the session can drop
// the notifications those writes trigger instead of refetching its own data.
//
// 4. SeenTracker: records which keys have been applied to the collection and
// resolves Await calls once every requested key has been observed.
//
// 5. Session: wires the parts together and drives the Initializing, Loading,
// Live, Stopped lifecycle. Local mutations go through OnInsert, OnUpdate and
// OnDelete, which stage all rows of a batch in a single engine transaction.
//
// # Error Handling
//
// Row-level problems (ValidationError) are logged and skipped so one bad row
// cannot stall the pipeline. Batch-level problems (TransactionError) abort the
// whole batch and are returned to the caller. Startup problems are wrapped in
// InitializationError after the collection has been marked ready, so waiters
// wake up and can inspect the failure instead of blocking forever.
//
// # Usage Example
//
//	session := mirror.NewSession(store, coll, mirror.Config{
//	    Table:  "notes",
//	    Logger: log,
//	})
//	if err := session.Start(ctx); err != nil {
//	    return err
//	}
//	defer session.Stop()
//
//	err := session.OnInsert(ctx, []mirror.Mutation{{Key: "4", Payload: row}})
package mirror
