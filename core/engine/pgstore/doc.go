// Package pgstore implements the storage engine contract on Postgres with
// real row-level change delivery.
//
// Ensure creates the (id TEXT PRIMARY KEY, payload JSONB) table, a trigger
// function that publishes every row change as JSON over pg_notify, and the
// trigger wiring it up. The notification body is {"op","id","row"}; rows
// whose rendered body would blow the notify size limit are announced id-only
// and deletes never carry a row, so consumers must be prepared to refetch a
// key when the row is absent.
//
// Subscribe runs a dedicated LISTEN connection through pq.Listener, decodes
// each delivery, and hands it to the consumer. The listener reconnects with
// backoff after connection loss; deliveries published during the gap are
// lost, which consumers cover with reconciliation passes.
package pgstore
