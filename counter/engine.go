/*
engine.go - Aggregate Store operations

PURPOSE:
  The Engine applies adjustments and serves reads over a Store. It is the
  only component that opens write transactions, and every write
  transaction touches the Ledger and the Aggregates together.

ADJUST (single transaction):
  1. Ledger.Append(event)                 -> KindLedgerWrite on failure
  2. Session.UpsertAggregate(key, delta)  -> KindAggregateWrite on failure
       absent:  total = max(0, delta)
       present: total = max(0, total + delta)
     updated_at = now
  3. Return the resulting Aggregate

PURGE (single transaction):
  Delete the named Aggregates and append one compensating event of
  delta -total per deleted row, attributed to the deleter. Missing ids are
  skipped.

READS:
  Load, Count, RankOf and LoadWindow pass through to the Store and wrap
  failures as KindQuery. A missing Aggregate is (Aggregate{}, false, nil).

NO RETRIES:
  A failed transaction is rolled back by the Store and returned once.

SEE ALSO:
  - ledger.go: Append is the ledger step of Adjust and Purge
  - store.go: Session/Store contracts
  - scoreboard/: Uses Count, RankOf and LoadWindow
*/
package counter

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PurgeNote is recorded on the compensating events written by Purge.
const PurgeNote = "purged"

// PrunePageSize is how many rows Prune reads per window.
const PrunePageSize = 100

// Adjustment is one signed change to a subject's total.
type Adjustment struct {
	Key     Key
	Updater SubjectID
	Delta   decimal.Decimal
	Note    string
}

// Engine implements the Aggregate Store operations over a Store.
type Engine struct {
	Store  Store
	Ledger Ledger
}

// NewEngine creates an Engine whose Ledger shares the same Store.
func NewEngine(store Store) *Engine {
	return &Engine{Store: store, Ledger: NewLedger(store)}
}

// =============================================================================
// WRITES
// =============================================================================

// Adjust appends a ChangeEvent and applies the floor-at-zero upsert in one
// transaction, returning the updated Aggregate.
func (e *Engine) Adjust(ctx context.Context, adj Adjustment) (Aggregate, error) {
	if adj.Updater == 0 {
		return Aggregate{}, fmt.Errorf("%w: updater is required", ErrInvalidSubject)
	}
	ev := ChangeEvent{
		Statistic: adj.Key.Statistic,
		Scope:     adj.Key.Scope,
		Updater:   adj.Updater,
		Target:    adj.Key.Subject,
		Delta:     adj.Delta,
		Note:      adj.Note,
	}
	if err := ev.Validate(); err != nil {
		return Aggregate{}, err
	}

	var out Aggregate
	err := e.Store.WithTx(ctx, func(s Session) error {
		if _, err := e.Ledger.Append(ctx, s, ev); err != nil {
			return err
		}
		agg, err := s.UpsertAggregate(ctx, adj.Key, adj.Delta)
		if err != nil {
			return wrap(KindAggregateWrite, "aggregate upsert", err)
		}
		out = agg
		return nil
	})
	if err != nil {
		return Aggregate{}, wrap(KindAggregateWrite, "adjust", err)
	}
	return out, nil
}

// Purge deletes the named Aggregates and records a compensating event for
// each. It returns the number of rows actually deleted.
func (e *Engine) Purge(ctx context.Context, deleter SubjectID, ids []AggregateID) (int, error) {
	if deleter == 0 {
		return 0, fmt.Errorf("%w: deleter is required", ErrInvalidSubject)
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int
	err := e.Store.WithTx(ctx, func(s Session) error {
		rows, err := s.DeleteAggregates(ctx, ids)
		if err != nil {
			return wrap(KindAggregateWrite, "aggregate delete", err)
		}
		for _, row := range rows {
			_, err := e.Ledger.Append(ctx, s, ChangeEvent{
				Statistic: row.Statistic,
				Scope:     row.Scope,
				Updater:   deleter,
				Target:    row.Subject,
				Delta:     row.Total.Neg(),
				Note:      PurgeNote,
			})
			if err != nil {
				return err
			}
		}
		deleted = len(rows)
		return nil
	})
	if err != nil {
		return 0, wrap(KindAggregateWrite, "purge", err)
	}
	return deleted, nil
}

// Prune purges every Aggregate of a statistic in a scope whose row keep
// rejects. The board is read PrunePageSize rows at a time and the
// rejected rows are purged in one transaction.
func (e *Engine) Prune(ctx context.Context, stat Statistic, scope ScopeID, deleter SubjectID, keep func(Aggregate) bool) (int, error) {
	var ids []AggregateID
	for offset := int64(0); ; offset += PrunePageSize {
		page, err := e.LoadWindow(ctx, stat, scope, offset, PrunePageSize, FromTop)
		if err != nil {
			return 0, err
		}
		for _, row := range page {
			if keep == nil || !keep(row) {
				ids = append(ids, row.ID)
			}
		}
		if len(page) < PrunePageSize {
			break
		}
	}
	return e.Purge(ctx, deleter, ids)
}

// =============================================================================
// READS
// =============================================================================

// Load returns the Aggregate for key. A missing row is not an error.
func (e *Engine) Load(ctx context.Context, key Key) (Aggregate, bool, error) {
	if err := key.Validate(); err != nil {
		return Aggregate{}, false, err
	}
	agg, ok, err := e.Store.Load(ctx, key)
	if err != nil {
		return Aggregate{}, false, wrap(KindQuery, "load", err)
	}
	return agg, ok, nil
}

// Count returns the number of Aggregates for a statistic in a scope.
func (e *Engine) Count(ctx context.Context, stat Statistic, scope ScopeID) (int64, error) {
	if err := validateBoard(stat, scope); err != nil {
		return 0, err
	}
	n, err := e.Store.Count(ctx, stat, scope)
	if err != nil {
		return 0, wrap(KindQuery, "count", err)
	}
	return n, nil
}

// RankOf returns the 0-based board rank of key. A subject without an
// Aggregate ranks last among subjects at zero.
func (e *Engine) RankOf(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	r, err := e.Store.RankOf(ctx, key)
	if err != nil {
		return 0, wrap(KindQuery, "rank", err)
	}
	return r, nil
}

// LoadWindow returns up to limit rows of the board starting at offset.
func (e *Engine) LoadWindow(ctx context.Context, stat Statistic, scope ScopeID, offset, limit int64, order Order) ([]Aggregate, error) {
	if err := validateBoard(stat, scope); err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset %d limit %d", ErrInvalidWindow, offset, limit)
	}
	if limit == 0 {
		return nil, nil
	}
	rows, err := e.Store.LoadWindow(ctx, stat, scope, offset, limit, order)
	if err != nil {
		return nil, wrap(KindQuery, "load window", err)
	}
	return rows, nil
}

// Lookup resolves subjects to their Aggregates, skipping subjects that
// have none.
func (e *Engine) Lookup(ctx context.Context, stat Statistic, scope ScopeID, subjects []SubjectID) ([]Aggregate, error) {
	var out []Aggregate
	for _, subject := range subjects {
		agg, ok, err := e.Load(ctx, Key{Statistic: stat, Scope: scope, Subject: subject})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, agg)
		}
	}
	return out, nil
}

func validateBoard(stat Statistic, scope ScopeID) error {
	if err := stat.Validate(); err != nil {
		return err
	}
	if scope == 0 {
		return fmt.Errorf("%w: scope is required", ErrInvalidScope)
	}
	return nil
}

func uniqueIDs(ids []AggregateID) []AggregateID {
	seen := make(map[AggregateID]bool, len(ids))
	out := make([]AggregateID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
