package pgstore

import (
	"fmt"

	"github.com/lib/pq"

	"sync-bridge/core/engine"
)

// maxNotifyBytes bounds the rendered notification body. Postgres rejects
// pg_notify payloads close to 8000 bytes, so larger rows are announced
// id-only and the consumer refetches the row by key.
const maxNotifyBytes = 7800

// createTableStmt bootstraps one mirrored table: a text key and the
// serialized row.
const createTableStmt = `
CREATE TABLE IF NOT EXISTS %s
(
    id      TEXT  NOT NULL PRIMARY KEY,
    payload JSONB NOT NULL
);`

// notifyFunctionStmt renders the trigger function. Deletes announce the key
// only; inserts and updates carry the full row unless the rendered body
// would exceed the notify limit, in which case the row is dropped from the
// message and the consumer falls back to a point refetch.
const notifyFunctionStmt = `
CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
DECLARE
    msg text;
BEGIN
    IF (TG_OP = 'DELETE') THEN
        PERFORM pg_notify('%s', json_build_object('op', TG_OP, 'id', OLD.id)::text);
        RETURN OLD;
    END IF;
    msg := json_build_object('op', TG_OP, 'id', NEW.id, 'row', NEW.payload)::text;
    IF (octet_length(msg) > %d) THEN
        msg := json_build_object('op', TG_OP, 'id', NEW.id)::text;
    END IF;
    PERFORM pg_notify('%s', msg);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;`

// dropTriggerStmt removes a previous trigger so Ensure can re-create it
// against the current function definition.
const dropTriggerStmt = `DROP TRIGGER IF EXISTS %s ON %s;`

// createTriggerStmt attaches the notify function to every row change.
const createTriggerStmt = `
CREATE TRIGGER %s
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE PROCEDURE %s();`

// ddlNames derives every identifier Ensure needs from one table name. The
// channel, function and trigger share a sanitized stem so they stay valid
// identifiers regardless of what the table is called.
type ddlNames struct {
	// table is the quoted physical table.
	table string
	// channel is the pg_notify channel, unquoted.
	channel string
	// function is the quoted trigger function.
	function string
	// trigger is the quoted trigger.
	trigger string
}

func namesFor(table string) ddlNames {
	stem := engine.SanitizeIdentifier(table)
	return ddlNames{
		table:    pq.QuoteIdentifier(table),
		channel:  engine.ChannelName(table),
		function: pq.QuoteIdentifier(stem + "_change_fn"),
		trigger:  pq.QuoteIdentifier(stem + "_change_trg"),
	}
}

// renderDDL returns the Ensure statements in execution order. Statements are
// kept separate because the extended query protocol runs one command per
// Exec.
func renderDDL(n ddlNames) []string {
	return []string{
		fmt.Sprintf(createTableStmt, n.table),
		fmt.Sprintf(notifyFunctionStmt, n.function, n.channel, maxNotifyBytes, n.channel),
		fmt.Sprintf(dropTriggerStmt, n.trigger, n.table),
		fmt.Sprintf(createTriggerStmt, n.trigger, n.table, n.function),
	}
}
