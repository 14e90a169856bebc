/*
store.go - Persistence interface for the ledger and aggregates

PURPOSE:
  Defines the interface between the counter engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage. The engine only ever sees these interfaces.

KEY INTERFACES:
  Session: Statements available inside ONE transaction (write path)
  Reader:  Read-committed queries (point lookup, count, rank, window)
  Store:   Reader + WithTx (the Connector) + ledger scan for audits

APPEND-ONLY CONTRACT:
  Session.AppendEvent is the only way a ChangeEvent is written. There is
  no update or delete of events anywhere in this interface.

ATOMIC UPSERT CONTRACT:
  Session.UpsertAggregate must apply max(0, total + delta) atomically
  with respect to other writers of the same key. Either the engine's
  native "insert-or-update-with-expression" does it (PostgreSQL
  GREATEST), or the session runs in a serializable write transaction
  (SQLite BEGIN IMMEDIATE, in-memory exclusive lock). Never a separate
  select followed by an unprotected insert/update.

READS:
  Readers need no isolation beyond read-committed. A RankOf followed by a
  LoadWindow may observe a write that landed between them.

IMPLEMENTATIONS:
  - counter/store/memory.go: In-memory for tests
  - store/sqlite/sqlite.go:  SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)

SEE ALSO:
  - engine.go: Uses Session inside WithTx
  - ledger.go: Higher-level ledger using Store
*/
package counter

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SESSION - Statements inside one transaction
// =============================================================================

// Session is a transactional view handed out by Store.WithTx.
type Session interface {
	// AppendEvent persists a ChangeEvent and returns it with ID and
	// CreatedAt assigned.
	AppendEvent(ctx context.Context, ev ChangeEvent) (ChangeEvent, error)

	// UpsertAggregate creates the row with total max(0, delta) or updates
	// it to max(0, total + delta), stamping updated_at.
	UpsertAggregate(ctx context.Context, key Key, delta decimal.Decimal) (Aggregate, error)

	// DeleteAggregates removes the rows with the given ids and returns the
	// rows actually removed. Missing ids are skipped.
	DeleteAggregates(ctx context.Context, ids []AggregateID) ([]Aggregate, error)
}

// =============================================================================
// READER - Read-side queries
// =============================================================================

// Reader serves the scoreboard. All methods are safe to call concurrently
// with writers.
type Reader interface {
	// Load returns the Aggregate for key, or false if none exists.
	Load(ctx context.Context, key Key) (Aggregate, bool, error)

	// Count returns the number of Aggregates for a statistic in a scope.
	Count(ctx context.Context, stat Statistic, scope ScopeID) (int64, error)

	// RankOf returns the 0-based rank of key in board order. An absent
	// subject is ranked via AbsentProbe.
	RankOf(ctx context.Context, key Key) (int64, error)

	// LoadWindow returns up to limit rows starting at offset in the given
	// order.
	LoadWindow(ctx context.Context, stat Statistic, scope ScopeID, offset, limit int64, order Order) ([]Aggregate, error)
}

// =============================================================================
// STORE - Connector + reads + audit scan
// =============================================================================

// EventFilter narrows a ledger scan. Zero fields match everything.
type EventFilter struct {
	Statistic Statistic
	Scope     ScopeID
	Target    SubjectID
	// Limit caps the number of events returned; 0 means no cap.
	Limit int
}

// Store is the full persistence capability required by the engine.
type Store interface {
	Reader

	// WithTx runs fn inside one transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed. A failure to
	// begin is reported as KindConnect.
	WithTx(ctx context.Context, fn func(Session) error) error

	// Events scans the ledger in insertion order. Audit only; never on
	// the hot read path.
	Events(ctx context.Context, filter EventFilter) ([]ChangeEvent, error)
}
