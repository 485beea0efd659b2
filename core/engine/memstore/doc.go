// Package memstore provides the in-memory storage engine.
//
// It implements the full engine contract plus both change-delivery
// capabilities: Subscribe fans committed writes out to listeners as
// row-level notifications, and Live polls a per-table commit counter to
// produce the rescan signal that engines without notifications offer.
//
// The package exists for two consumers: unit tests that need a real engine
// without external services, and the "memory" database driver, which lets
// the daemon run entirely in-process for demos and smoke checks. Data does
// not survive a restart.
package memstore
