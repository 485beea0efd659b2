// Package database handles database connections and schema inspection.
//
// It provides a wrapper around GORM (Go Object Relational Mapping) to configure
// the relational drivers (MySQL, SQLite) that back the polled storage engine,
// plus DSN rendering for the Postgres engine which connects through lib/pq
// rather than GORM.
//
// # Connect
//
// The Connect function establishes a connection for the mysql and sqlite
// drivers. Driver selection, pool sizing and the connection-check timeout all
// come from the Config struct. Postgres and memory engines open themselves.
//
// # Schema Inspection
//
// The package includes tools to inspect the physical schema of mirrored
// tables. VerifyMirrorTable reports columns the sync engine depends on that
// are absent, so a hand-altered table is flagged at startup instead of
// failing mid-load.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	missing, err := database.VerifyMirrorTable(db, "notes")
package database
