package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sync-bridge/core/engine"
)

// pingTimeout bounds the connection check at open time.
const pingTimeout = 30 * time.Second

// Store is the Postgres storage engine. It is the only engine with true
// row-level change delivery: Ensure installs a trigger that publishes every
// change over LISTEN/NOTIFY, and Subscribe turns that stream into decoded
// notifications.
type Store struct {
	db     *sql.DB
	dsn    string
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*Table
}

// Open connects to Postgres and verifies the connection with a bounded ping.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(100)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:     db,
		dsn:    dsn,
		logger: logger,
		tables: make(map[string]*Table),
	}, nil
}

// Table implements engine.Engine. Handles are cached per logical name.
func (s *Store) Table(name string) engine.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &Table{
			name:  name,
			names: namesFor(name),
			db:    s.db,
		}
		s.tables[name] = t
	}
	return t
}

// Close implements engine.Engine.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table is one keyed table plus its notification plumbing.
type Table struct {
	name  string
	names ddlNames
	db    *sql.DB
}

// Name implements engine.Table.
func (t *Table) Name() string { return t.name }

// Ensure implements engine.Table: create the table, install the notify
// function, and re-create the trigger. Every statement is idempotent, so a
// session restart converges on the same schema.
func (t *Table) Ensure(ctx context.Context) error {
	for _, stmt := range renderDDL(t.names) {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", t.names.table, err)
		}
	}
	return nil
}

// Page implements engine.Table with keyset pagination.
func (t *Table) Page(ctx context.Context, afterKey string, limit int) ([]engine.Record, error) {
	query := fmt.Sprintf(`SELECT id, payload FROM %s WHERE id > $1 ORDER BY id ASC LIMIT $2`, t.names.table)
	rows, err := t.db.QueryContext(ctx, query, afterKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page table %s: %w", t.names.table, err)
	}
	defer rows.Close()

	var out []engine.Record
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, engine.Record{Key: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	return out, nil
}

// Get implements engine.Table.
func (t *Table) Get(ctx context.Context, key string) (engine.Record, bool, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, t.names.table)
	var payload []byte
	err := t.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Record{}, false, nil
	}
	if err != nil {
		return engine.Record{}, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return engine.Record{Key: key, Payload: payload}, true, nil
}

// Update implements engine.Table. All writes issued through the Tx commit
// together; any error from fn rolls everything back.
func (t *Table) Update(ctx context.Context, fn func(engine.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, names: t.names}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to roll back after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx adapts one in-flight transaction to the engine.Tx surface.
type pgTx struct {
	ctx   context.Context
	tx    *sql.Tx
	names ddlNames
}

// Put implements engine.Tx as an upsert keyed on id.
func (x *pgTx) Put(key string, payload json.RawMessage) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (id, payload) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		x.names.table)
	if _, err := x.tx.ExecContext(x.ctx, query, key, []byte(payload)); err != nil {
		return fmt.Errorf("failed to upsert key %q: %w", key, err)
	}
	return nil
}

// Get implements engine.Tx. The transaction sees its own uncommitted writes.
func (x *pgTx) Get(key string) (json.RawMessage, bool, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, x.names.table)
	var payload []byte
	err := x.tx.QueryRowContext(x.ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return payload, true, nil
}

// Delete implements engine.Tx. Deleting an absent key is a no-op.
func (x *pgTx) Delete(key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, x.names.table)
	if _, err := x.tx.ExecContext(x.ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
