package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sync-bridge/core/engine"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// rowModel is the physical shape of every mirrored table: one serialized
// payload per key plus a nanosecond modification stamp the polling probe
// watches.
type rowModel struct {
	ID        string `gorm:"column:id;primaryKey;size:191"`
	Payload   string `gorm:"column:payload;type:text;not null"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;index"`
}

// Store is the relational storage engine. It runs on any dialect GORM
// supports; the daemon wires it with MySQL or SQLite. Row-level change
// notifications are not available here, so the store exposes the live-query
// capability instead and sessions fall back to polling refetches.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*Table
}

// New wraps an established GORM connection.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger,
		tables: make(map[string]*Table),
	}
}

// Table implements engine.Engine. Handles are cached per logical name.
func (s *Store) Table(name string) engine.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &Table{
			name: name,
			phys: engine.SanitizeIdentifier(name),
			db:   s.db,
		}
		s.tables[name] = t
	}
	return t
}

// Close implements engine.Engine.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to unwrap sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// probe is the change signal the poller compares between rounds. Count moves
// on inserts and deletes, Latest on writes that bump updated_at. Writers
// bypassing this store without maintaining updated_at are only caught when
// the row count moves.
type probe struct {
	Count  int64
	Latest int64
}

// Live implements engine.LiveQuerier by polling the table's probe at the
// given interval and ticking whenever it moved. The first probe is taken
// before the ticker starts, so pre-existing rows never produce a spurious
// tick.
func (s *Store) Live(ctx context.Context, table string, interval time.Duration) (<-chan struct{}, func(), error) {
	if interval <= 0 {
		interval = time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}
	phys := engine.SanitizeIdentifier(table)

	ticks := make(chan struct{}, 1)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
	}

	last, err := s.readProbe(ctx, phys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to probe table %q: %w", table, err)
	}

	go func() {
		defer close(ticks)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cur, err := s.readProbe(ctx, phys)
				if err != nil {
					s.logger.Warn("Live probe failed",
						zap.String("table", table),
						zap.Error(err))
					continue
				}
				if cur != last {
					last = cur
					select {
					case ticks <- struct{}{}:
					default:
					}
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ticks, cancel, nil
}

// readProbe takes one probe snapshot. COALESCE keeps the empty-table result
// scannable on both MySQL and SQLite.
func (s *Store) readProbe(ctx context.Context, phys string) (probe, error) {
	var p probe
	err := s.db.WithContext(ctx).
		Table(phys).
		Select("COUNT(*) AS count, COALESCE(MAX(updated_at), 0) AS latest").
		Scan(&p).Error
	return p, err
}

// Table is one keyed table backed by the relational schema.
type Table struct {
	name string
	phys string
	db   *gorm.DB
}

// Name implements engine.Table.
func (t *Table) Name() string { return t.name }

// Ensure implements engine.Table by migrating the row schema into the
// physical table. AutoMigrate only adds what is missing, so repeated calls
// are safe.
func (t *Table) Ensure(ctx context.Context) error {
	if err := t.db.WithContext(ctx).Table(t.phys).AutoMigrate(&rowModel{}); err != nil {
		return fmt.Errorf("failed to migrate table %q: %w", t.phys, err)
	}
	return nil
}

// Page implements engine.Table with keyset pagination: strictly after
// afterKey, ascending, at most limit rows.
func (t *Table) Page(ctx context.Context, afterKey string, limit int) ([]engine.Record, error) {
	var rows []rowModel
	q := t.db.WithContext(ctx).Table(t.phys).Order("id ASC")
	if afterKey != "" {
		q = q.Where("id > ?", afterKey)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to page table %q: %w", t.phys, err)
	}

	out := make([]engine.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, engine.Record{Key: r.ID, Payload: []byte(r.Payload)})
	}
	return out, nil
}

// Get implements engine.Table.
func (t *Table) Get(ctx context.Context, key string) (engine.Record, bool, error) {
	var row rowModel
	err := t.db.WithContext(ctx).Table(t.phys).Where("id = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Record{}, false, nil
	}
	if err != nil {
		return engine.Record{}, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return engine.Record{Key: row.ID, Payload: []byte(row.Payload)}, true, nil
}

// Update implements engine.Table. All writes issued through the Tx run in
// one database transaction.
func (t *Table) Update(ctx context.Context, fn func(engine.Tx) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{tx: tx, phys: t.phys})
	})
}

// gormTx adapts one in-flight transaction to the engine.Tx surface.
type gormTx struct {
	tx   *gorm.DB
	phys string
}

// Put implements engine.Tx as an upsert keyed on id.
func (x *gormTx) Put(key string, payload json.RawMessage) error {
	row := rowModel{
		ID:        key,
		Payload:   string(payload),
		UpdatedAt: time.Now().UnixNano(),
	}
	err := x.tx.Table(x.phys).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert key %q: %w", key, err)
	}
	return nil
}

// Get implements engine.Tx. Reads inside the transaction see its own
// uncommitted writes.
func (x *gormTx) Get(key string) (json.RawMessage, bool, error) {
	var row rowModel
	err := x.tx.Table(x.phys).Where("id = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return json.RawMessage(row.Payload), true, nil
}

// Delete implements engine.Tx. Deleting an absent key is a no-op.
func (x *gormTx) Delete(key string) error {
	if err := x.tx.Table(x.phys).Where("id = ?", key).Delete(&rowModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
