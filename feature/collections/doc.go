// Package collections exposes the mirrored tables over HTTP.
//
// It is the daemon's consumer-facing surface: every mirrored table has a
// running sync session, and this feature lets clients read the reactive
// views, submit mutation batches, trigger manual reconciliation passes and
// wait for keys to land.
//
// # Components
//
//   - Service: Registry of running sync sessions, keyed by table.
//   - Handler: Exposes the HTTP endpoints and maps sync errors to statuses.
//   - Loader: Registers the feature with the application.
//
// # HTTP Endpoints
//
//   - GET    /collections                        : List sessions with their counters.
//   - GET    /collections/:table                 : Full reactive snapshot.
//   - GET    /collections/:table/records/:key    : Single record.
//   - POST   /collections/:table/records         : Insert batch.
//   - PUT    /collections/:table/records         : Update batch (replace or merge).
//   - DELETE /collections/:table/records         : Delete batch.
//   - POST   /collections/:table/refetch         : Manual reconciliation pass.
//   - POST   /collections/:table/await           : Block until keys are visible.
//
// # Error Mapping
//
// Await timeouts come back as 408, mutations against a stopped session as
// 409, engine transaction failures as 500. Validation failures inside a
// batch never fail the request; the affected rows are skipped and logged,
// matching the load-path behavior.
package collections
