// Package gormstore implements the storage engine contract on top of a
// relational database through GORM.
//
// Every mirrored table materializes as (id, payload, updated_at): the record
// key, the serialized row, and a nanosecond modification stamp. Ensure
// migrates that shape in place, so pointing a collection at a fresh database
// needs no manual schema work.
//
// Relational backends carry no row-level change feed, so the store exposes
// the live-query capability only: Live polls COUNT(*) and MAX(updated_at)
// per interval and ticks when either moves, and the session answers a tick
// with a full refetch-and-diff pass. External writers that maintain
// updated_at are picked up like local ones; writers that do not are only
// noticed when the row count changes.
package gormstore
