/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements counter.Store and goals.Store using SQLite. The PostgreSQL
  store in store/postgres implements the same contracts with a native
  atomic upsert expression.

INTERFACES IMPLEMENTED:
  counter.Store:   Ledger + aggregates (WithTx, Load, Count, RankOf, ...)
  counter.Session: Statements inside one write transaction
  goals.Store:     Monthly goals

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on counter_changes
  - No DELETE statements on counter_changes
  - Corrections and purges append compensating rows

KEY TABLES:
  counter_changes: Immutable ledger of every adjustment
  counter_totals:  One row per (statistic, guild, user) with its total
  monthly_goals:   Goals per guild, unique by shortname

EXACT VALUES:
  Totals and deltas are stored as canonical decimal TEXT, never REAL.
  Guild and user ids are stored as base-10 TEXT so the full unsigned
  64-bit range survives. Because TEXT decimals do not sort numerically,
  counter_totals carries total_key, an order-preserving encoding of the
  total (see sortkey.go).

ATOMIC UPSERT:
  SQLite has no GREATEST with exact decimals, so the clamp is done in Go.
  Write transactions are opened with BEGIN IMMEDIATE (_txlock=immediate),
  which takes the database write lock up front. The read-modify-write of
  a total therefore runs serialized against every other writer, across
  processes as well as goroutines.

TIMESTAMPS:
  Stored as fixed-width UTC RFC3339 with nanoseconds so lexicographic
  order equals time order. The board tie-break compares them as TEXT.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/auric.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := counter.NewEngine(store)

SEE ALSO:
  - counter/store.go: Interface definitions
  - counter/engine.go: Adjust and Purge transactions
  - counter/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/AlterionX/auric-regia/counter"
)

// timeLayout is fixed width so TEXT comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const dsnOptions = "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Now stamps rows. Tests replace it to control tie-breaks.
	Now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, Now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates any missing tables. New already calls it; it is safe
// to run again.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS counter_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		statistic TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		updater TEXT NOT NULL,
		target_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_counter_changes_key
		ON counter_changes(statistic, guild_id, target_id, id);

	-- Aggregates
	CREATE TABLE IF NOT EXISTS counter_totals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		statistic TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		total TEXT NOT NULL,
		total_key TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(statistic, guild_id, user_id)
	);

	-- Board order (hot path): total DESC, updated_at ASC, id ASC
	CREATE INDEX IF NOT EXISTS idx_counter_totals_board
		ON counter_totals(statistic, guild_id, total_key DESC, updated_at ASC, id ASC);

	-- Monthly goals
	CREATE TABLE IF NOT EXISTS monthly_goals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		updater TEXT NOT NULL,
		branch TEXT NOT NULL,
		shortname TEXT NOT NULL,
		header TEXT NOT NULL,
		body TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(guild_id, shortname)
	);

	CREATE INDEX IF NOT EXISTS idx_monthly_goals_active
		ON monthly_goals(guild_id, active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (counter.Store.WithTx)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(counter.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counter.ConnectError("sqlite begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AppendEvent inserts one ledger row.
func (ts *txStore) AppendEvent(ctx context.Context, ev counter.ChangeEvent) (counter.ChangeEvent, error) {
	ev.CreatedAt = ts.parent.now()

	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO counter_changes
		(statistic, guild_id, updater, target_id, delta, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(ev.Statistic),
		ev.Scope.String(),
		ev.Updater.String(),
		ev.Target.String(),
		ev.Delta.String(),
		nullString(ev.Note),
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return counter.ChangeEvent{}, fmt.Errorf("failed to append change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return counter.ChangeEvent{}, fmt.Errorf("failed to read change id: %w", err)
	}
	ev.ID = counter.EventID(id)
	return ev, nil
}

// UpsertAggregate applies max(0, total + delta). The IMMEDIATE transaction
// holds the write lock, so the read and the write cannot interleave with
// another writer.
func (ts *txStore) UpsertAggregate(ctx context.Context, key counter.Key, delta decimal.Decimal) (counter.Aggregate, error) {
	current, ok, err := loadAggregate(ctx, ts.tx, key)
	if err != nil {
		return counter.Aggregate{}, err
	}

	now := ts.parent.now()
	total := counter.ApplyDelta(decimal.Zero, delta)
	if ok {
		total = counter.ApplyDelta(current.Total, delta)
	}

	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO counter_totals
		(statistic, guild_id, user_id, total, total_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(statistic, guild_id, user_id) DO UPDATE SET
			total = excluded.total,
			total_key = excluded.total_key,
			updated_at = excluded.updated_at
	`,
		string(key.Statistic),
		key.Scope.String(),
		key.Subject.String(),
		total.String(),
		SortKey(total),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return counter.Aggregate{}, fmt.Errorf("failed to upsert total: %w", err)
	}

	agg, _, err := loadAggregate(ctx, ts.tx, key)
	return agg, err
}

// DeleteAggregates removes rows by id, returning the rows removed.
func (ts *txStore) DeleteAggregates(ctx context.Context, ids []counter.AggregateID) ([]counter.Aggregate, error) {
	var deleted []counter.Aggregate
	for _, id := range ids {
		row := ts.tx.QueryRowContext(ctx, selectAggregate+` WHERE id = ?`, int64(id))
		agg, err := scanAggregate(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := ts.tx.ExecContext(ctx, `DELETE FROM counter_totals WHERE id = ?`, int64(id)); err != nil {
			return nil, fmt.Errorf("failed to delete total: %w", err)
		}
		deleted = append(deleted, agg)
	}
	return deleted, nil
}

// =============================================================================
// READS (counter.Reader)
// =============================================================================

const selectAggregate = `
	SELECT id, statistic, guild_id, user_id, total, created_at, updated_at
	FROM counter_totals`

// Load returns the Aggregate for key.
func (s *Store) Load(ctx context.Context, key counter.Key) (counter.Aggregate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadAggregate(ctx, s.db, key)
}

func loadAggregate(ctx context.Context, db execer, key counter.Key) (counter.Aggregate, bool, error) {
	row := db.QueryRowContext(ctx, selectAggregate+`
		WHERE statistic = ? AND guild_id = ? AND user_id = ?`,
		string(key.Statistic), key.Scope.String(), key.Subject.String(),
	)
	agg, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		return counter.Aggregate{}, false, nil
	}
	if err != nil {
		return counter.Aggregate{}, false, err
	}
	return agg, true, nil
}

// Count returns the number of rows on a board.
func (s *Store) Count(ctx context.Context, stat counter.Statistic, scope counter.ScopeID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM counter_totals WHERE statistic = ? AND guild_id = ?`,
		string(stat), scope.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count totals: %w", err)
	}
	return n, nil
}

// RankOf counts the rows strictly preceding key's row in board order.
func (s *Store) RankOf(ctx context.Context, key counter.Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	probe, ok, err := loadAggregate(ctx, s.db, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		probe = counter.AbsentProbe(key, s.now())
	}

	tk := SortKey(probe.Total)
	at := formatTime(probe.UpdatedAt)
	var n int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM counter_totals
		WHERE statistic = ? AND guild_id = ?
		  AND (total_key > ?
		       OR (total_key = ? AND (updated_at < ?
		                              OR (updated_at = ? AND id < ?))))
	`,
		string(key.Statistic), key.Scope.String(),
		tk, tk, at, at, int64(probe.ID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to rank total: %w", err)
	}
	return n, nil
}

// LoadWindow returns a slice of the board in the requested order.
func (s *Store) LoadWindow(ctx context.Context, stat counter.Statistic, scope counter.ScopeID, offset, limit int64, order counter.Order) ([]counter.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderBy := `total_key DESC, updated_at ASC, id ASC`
	if order == counter.FromBottom {
		orderBy = `total_key ASC, updated_at DESC, id DESC`
	}

	rows, err := s.db.QueryContext(ctx, selectAggregate+`
		WHERE statistic = ? AND guild_id = ?
		ORDER BY `+orderBy+`
		LIMIT ? OFFSET ?`,
		string(stat), scope.String(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	var out []counter.Aggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// Events scans the ledger in insertion order.
func (s *Store) Events(ctx context.Context, f counter.EventFilter) ([]counter.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.Statistic != "" {
		where = append(where, "statistic = ?")
		args = append(args, string(f.Statistic))
	}
	if f.Scope != 0 {
		where = append(where, "guild_id = ?")
		args = append(args, f.Scope.String())
	}
	if f.Target != 0 {
		where = append(where, "target_id = ?")
		args = append(args, f.Target.String())
	}

	query := `SELECT id, statistic, guild_id, updater, target_id, delta, note, created_at FROM counter_changes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []counter.ChangeEvent
	for rows.Next() {
		var (
			ev                           counter.ChangeEvent
			stat, guild, updater, target string
			delta, createdAt             string
			note                         sql.NullString
		)
		if err := rows.Scan(&ev.ID, &stat, &guild, &updater, &target, &delta, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		ev.Statistic = counter.Statistic(stat)
		if ev.Scope, err = counter.ParseScopeID(guild); err != nil {
			return nil, err
		}
		if ev.Updater, err = counter.ParseSubjectID(updater); err != nil {
			return nil, err
		}
		if ev.Target, err = counter.ParseSubjectID(target); err != nil {
			return nil, err
		}
		if ev.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("bad delta %q: %w", delta, err)
		}
		ev.Note = note.String
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"counter_changes", "counter_totals", "monthly_goals"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row scanner) (counter.Aggregate, error) {
	var (
		agg                      counter.Aggregate
		stat, guild, user, total string
		createdAt, updatedAt     string
	)
	if err := row.Scan(&agg.ID, &stat, &guild, &user, &total, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return agg, err
		}
		return agg, fmt.Errorf("failed to scan total: %w", err)
	}

	var err error
	agg.Statistic = counter.Statistic(stat)
	if agg.Scope, err = counter.ParseScopeID(guild); err != nil {
		return agg, err
	}
	if agg.Subject, err = counter.ParseSubjectID(user); err != nil {
		return agg, err
	}
	if agg.Total, err = decimal.NewFromString(total); err != nil {
		return agg, fmt.Errorf("bad total %q: %w", total, err)
	}
	if agg.CreatedAt, err = parseTime(createdAt); err != nil {
		return agg, err
	}
	if agg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return agg, err
	}
	return agg, nil
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", v, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
