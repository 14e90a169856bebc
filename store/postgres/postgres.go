/*
Package postgres provides a PostgreSQL implementation of the storage interfaces.

PURPOSE:
  Implements counter.Store and goals.Store over a pgx connection pool.
  This is the production store; store/sqlite serves single-node setups.

ATOMIC UPSERT:
  The floor-at-zero clamp is one statement:

    INSERT ... VALUES (..., GREATEST(0, $delta))
    ON CONFLICT (statistic, guild_id, user_id) DO UPDATE
      SET total = GREATEST(0, counter_totals.total + $delta)

  PostgreSQL takes the row lock for the conflicting key, so concurrent
  adjustments of the same key serialize without an application-level
  read-modify-write. Transactions run at READ COMMITTED.

EXACT VALUES:
  Totals and deltas are NUMERIC, identities NUMERIC(20,0). Values cross
  the wire as pgtype.Numeric built from decimal coefficients and
  big.Int identities, never float64 or int64.

TIMESTAMPS:
  updated_at is clock_timestamp(), not now(): two adjustments in one
  transaction still get distinct, ordered stamps. The absent-subject
  sentinel is clock_timestamp() + AbsentLead, computed by the server.

SEE ALSO:
  - counter/store.go: Interface definitions
  - store/sqlite: SQLite implementation of the same contracts
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/AlterionX/auric-regia/counter"
)

// Connect opens a pool and verifies it with a ping. maxConns <= 0 keeps
// the default of 20.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 2
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, counter.ConnectError("connect db", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, counter.ConnectError("ping db", err)
	}
	return pool, nil
}

// Store implements counter.Store and goals.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Reset deletes all counters, ledger entries and goals.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE counter_changes, counter_totals, monthly_goals RESTART IDENTITY`)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS counter_changes (
		id BIGSERIAL PRIMARY KEY,
		statistic VARCHAR(100) NOT NULL,
		guild_id NUMERIC(20,0) NOT NULL,
		updater NUMERIC(20,0) NOT NULL,
		target_id NUMERIC(20,0) NOT NULL,
		delta NUMERIC NOT NULL,
		note VARCHAR(10000),
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_counter_changes_key
		ON counter_changes (statistic, guild_id, target_id, id)`,
	`CREATE TABLE IF NOT EXISTS counter_totals (
		id BIGSERIAL PRIMARY KEY,
		statistic VARCHAR(100) NOT NULL,
		guild_id NUMERIC(20,0) NOT NULL,
		user_id NUMERIC(20,0) NOT NULL,
		total NUMERIC NOT NULL CHECK (total >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		UNIQUE (statistic, guild_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_counter_totals_board
		ON counter_totals (statistic, guild_id, total DESC, updated_at ASC, id ASC)`,
	`CREATE TABLE IF NOT EXISTS monthly_goals (
		id BIGSERIAL PRIMARY KEY,
		guild_id NUMERIC(20,0) NOT NULL,
		updater NUMERIC(20,0) NOT NULL,
		branch VARCHAR(100) NOT NULL,
		shortname VARCHAR(50) NOT NULL,
		header VARCHAR(256) NOT NULL,
		body VARCHAR(4096) NOT NULL,
		progress SMALLINT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		UNIQUE (guild_id, shortname)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_monthly_goals_active
		ON monthly_goals (guild_id) WHERE active`,
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(counter.Session) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return counter.ConnectError("postgres begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&session{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type session struct {
	tx pgx.Tx
}

func (ss *session) AppendEvent(ctx context.Context, ev counter.ChangeEvent) (counter.ChangeEvent, error) {
	var note *string
	if ev.Note != "" {
		note = &ev.Note
	}
	err := ss.tx.QueryRow(ctx, `
		INSERT INTO counter_changes (statistic, guild_id, updater, target_id, delta, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		string(ev.Statistic),
		idNumeric(uint64(ev.Scope)),
		idNumeric(uint64(ev.Updater)),
		idNumeric(uint64(ev.Target)),
		decimalNumeric(ev.Delta),
		note,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return counter.ChangeEvent{}, fmt.Errorf("append change: %w", err)
	}
	return ev, nil
}

func (ss *session) UpsertAggregate(ctx context.Context, key counter.Key, delta decimal.Decimal) (counter.Aggregate, error) {
	row := ss.tx.QueryRow(ctx, `
		INSERT INTO counter_totals (statistic, guild_id, user_id, total, created_at, updated_at)
		VALUES ($1, $2, $3, GREATEST(0, $4::numeric), clock_timestamp(), clock_timestamp())
		ON CONFLICT (statistic, guild_id, user_id) DO UPDATE SET
			total = GREATEST(0, counter_totals.total + $4::numeric),
			updated_at = clock_timestamp()
		RETURNING `+aggregateColumns,
		string(key.Statistic),
		idNumeric(uint64(key.Scope)),
		idNumeric(uint64(key.Subject)),
		decimalNumeric(delta),
	)
	agg, err := scanAggregate(row)
	if err != nil {
		return counter.Aggregate{}, fmt.Errorf("upsert total: %w", err)
	}
	return agg, nil
}

func (ss *session) DeleteAggregates(ctx context.Context, ids []counter.AggregateID) ([]counter.Aggregate, error) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	rows, err := ss.tx.Query(ctx, `
		DELETE FROM counter_totals WHERE id = ANY($1)
		RETURNING `+aggregateColumns, raw)
	if err != nil {
		return nil, fmt.Errorf("delete totals: %w", err)
	}
	out, err := collectAggregates(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	sortByID(out)
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

const aggregateColumns = `id, statistic, guild_id, user_id, total, created_at, updated_at`

func (s *Store) Load(ctx context.Context, key counter.Key) (counter.Aggregate, bool, error) {
	return loadAggregate(ctx, s.pool, key)
}

func loadAggregate(ctx context.Context, q querier, key counter.Key) (counter.Aggregate, bool, error) {
	row := q.QueryRow(ctx, `SELECT `+aggregateColumns+` FROM counter_totals
		WHERE statistic = $1 AND guild_id = $2 AND user_id = $3`,
		string(key.Statistic), idNumeric(uint64(key.Scope)), idNumeric(uint64(key.Subject)))
	agg, err := scanAggregate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return counter.Aggregate{}, false, nil
	}
	if err != nil {
		return counter.Aggregate{}, false, fmt.Errorf("load total: %w", err)
	}
	return agg, true, nil
}

func (s *Store) Count(ctx context.Context, stat counter.Statistic, scope counter.ScopeID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM counter_totals WHERE statistic = $1 AND guild_id = $2`,
		string(stat), idNumeric(uint64(scope)),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count totals: %w", err)
	}
	return n, nil
}

// absentRankQuery ranks a subject with no row as total 0 updated at
// clock_timestamp() + AbsentLead. The CTE evaluates the clock once.
var absentRankQuery = fmt.Sprintf(`
	WITH probe AS (SELECT clock_timestamp() + interval '%d milliseconds' AS at)
	SELECT COUNT(*) FROM counter_totals, probe
	WHERE statistic = $1 AND guild_id = $2
	  AND (total > 0 OR updated_at <= probe.at)
`, counter.AbsentLead.Milliseconds())

func (s *Store) RankOf(ctx context.Context, key counter.Key) (int64, error) {
	probe, ok, err := loadAggregate(ctx, s.pool, key)
	if err != nil {
		return 0, err
	}

	var n int64
	if ok {
		err = s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM counter_totals
			WHERE statistic = $1 AND guild_id = $2
			  AND (total > $3
			       OR (total = $3 AND (updated_at < $4
			                           OR (updated_at = $4 AND id < $5))))
		`,
			string(key.Statistic), idNumeric(uint64(key.Scope)),
			decimalNumeric(probe.Total), probe.UpdatedAt, int64(probe.ID),
		).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, absentRankQuery,
			string(key.Statistic), idNumeric(uint64(key.Scope)),
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("rank total: %w", err)
	}
	return n, nil
}

func (s *Store) LoadWindow(ctx context.Context, stat counter.Statistic, scope counter.ScopeID, offset, limit int64, order counter.Order) ([]counter.Aggregate, error) {
	orderBy := `total DESC, updated_at ASC, id ASC`
	if order == counter.FromBottom {
		orderBy = `total ASC, updated_at DESC, id DESC`
	}
	rows, err := s.pool.Query(ctx, `SELECT `+aggregateColumns+` FROM counter_totals
		WHERE statistic = $1 AND guild_id = $2
		ORDER BY `+orderBy+`
		LIMIT $3 OFFSET $4`,
		string(stat), idNumeric(uint64(scope)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	return collectAggregates(rows)
}

func (s *Store) Events(ctx context.Context, f counter.EventFilter) ([]counter.ChangeEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Statistic != "" {
		add("statistic = $%d", string(f.Statistic))
	}
	if f.Scope != 0 {
		add("guild_id = $%d", idNumeric(uint64(f.Scope)))
	}
	if f.Target != 0 {
		add("target_id = $%d", idNumeric(uint64(f.Target)))
	}

	query := `SELECT id, statistic, guild_id, updater, target_id, delta, COALESCE(note, ''), created_at FROM counter_changes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []counter.ChangeEvent
	for rows.Next() {
		var (
			ev                     counter.ChangeEvent
			stat                   string
			guild, updater, target numericID
			delta                  numericDecimal
		)
		if err := rows.Scan(&ev.ID, &stat, &guild, &updater, &target, &delta, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		ev.Statistic = counter.Statistic(stat)
		ev.Scope = counter.ScopeID(guild)
		ev.Updater = counter.SubjectID(updater)
		ev.Target = counter.SubjectID(target)
		ev.Delta = decimal.Decimal(delta)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanAggregate(row pgx.Row) (counter.Aggregate, error) {
	var (
		agg         counter.Aggregate
		stat        string
		guild, user numericID
		total       numericDecimal
	)
	if err := row.Scan(&agg.ID, &stat, &guild, &user, &total, &agg.CreatedAt, &agg.UpdatedAt); err != nil {
		return counter.Aggregate{}, err
	}
	agg.Statistic = counter.Statistic(stat)
	agg.Scope = counter.ScopeID(guild)
	agg.Subject = counter.SubjectID(user)
	agg.Total = decimal.Decimal(total)
	return agg, nil
}

func collectAggregates(rows pgx.Rows) ([]counter.Aggregate, error) {
	defer rows.Close()

	var out []counter.Aggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
