/*
ledger.go - Append-only change log

PURPOSE:
  The Ledger is the immutable history of every counter adjustment. Every
  record, removal and administrative purge appends a ChangeEvent here in
  the same transaction that touches the Aggregate, so the Aggregate can
  always be explained from its events.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, events cannot be modified
  3. SAME TRANSACTION: Append runs inside the Session that upserts the
     Aggregate. There is no standalone append.

REPLAY:
  Aggregate.Total is NOT max(0, sum(deltas)). The floor is applied at each
  write, so replay folds the events with Ratchet:

  events:  [+1, -5, +10]
  replay:  10
  sum:     6

CORRECTIONS:
  A mistake is corrected with a new event of opposite sign. A purge
  appends one event of delta -total per deleted Aggregate, so replaying a
  purged key yields zero.

SEE ALSO:
  - store.go: Session.AppendEvent and Store.Events
  - engine.go: Adjust and Purge call Append
  - floor.go: Ratchet
*/
package counter

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only change log
// =============================================================================

// Ledger is the source of truth for every counter change.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, events cannot be modified.
//   - Read only for audit: never queried on the scoreboard path.
type Ledger interface {
	// Append writes ev through the given transactional session.
	// This is the ONLY write operation.
	Append(ctx context.Context, s Session, ev ChangeEvent) (ChangeEvent, error)

	// Events returns matching events in insertion order.
	Events(ctx context.Context, filter EventFilter) ([]ChangeEvent, error)

	// Replay re-derives the total for key by ratchet-folding its events.
	Replay(ctx context.Context, key Key) (decimal.Decimal, error)

	// Audit compares the replayed total with the stored Aggregate.
	Audit(ctx context.Context, key Key) (Audit, error)
}

// Audit is the result of checking one Aggregate against its history.
type Audit struct {
	Key      Key             `json:"key"`
	Events   int             `json:"events"`
	Replayed decimal.Decimal `json:"replayed"`
	Summed   decimal.Decimal `json:"summed"`
	Stored   decimal.Decimal `json:"stored"`
	Present  bool            `json:"present"`
}

// Consistent reports whether the stored total matches the replayed one.
// An absent Aggregate is consistent when its history replays to zero.
func (a Audit) Consistent() bool {
	return a.Stored.Equal(a.Replayed)
}

// Clamped reports whether the floor changed the outcome relative to a
// plain sum of the deltas.
func (a Audit) Clamped() bool {
	return !a.Replayed.Equal(a.Summed)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, s Session, ev ChangeEvent) (ChangeEvent, error) {
	if err := ev.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	out, err := s.AppendEvent(ctx, ev)
	if err != nil {
		return ChangeEvent{}, wrap(KindLedgerWrite, "ledger append", err)
	}
	return out, nil
}

func (l *DefaultLedger) Events(ctx context.Context, filter EventFilter) ([]ChangeEvent, error) {
	evs, err := l.Store.Events(ctx, filter)
	if err != nil {
		return nil, wrap(KindQuery, "ledger events", err)
	}
	return evs, nil
}

func (l *DefaultLedger) Replay(ctx context.Context, key Key) (decimal.Decimal, error) {
	evs, err := l.keyEvents(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return Ratchet(deltas(evs)...), nil
}

func (l *DefaultLedger) Audit(ctx context.Context, key Key) (Audit, error) {
	evs, err := l.keyEvents(ctx, key)
	if err != nil {
		return Audit{}, err
	}
	agg, ok, err := l.Store.Load(ctx, key)
	if err != nil {
		return Audit{}, wrap(KindQuery, "ledger audit", err)
	}

	ds := deltas(evs)
	a := Audit{
		Key:      key,
		Events:   len(evs),
		Replayed: Ratchet(ds...),
		Summed:   Sum(ds...),
		Stored:   decimal.Zero,
		Present:  ok,
	}
	if ok {
		a.Stored = agg.Total
	}
	return a, nil
}

func (l *DefaultLedger) keyEvents(ctx context.Context, key Key) ([]ChangeEvent, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return l.Events(ctx, EventFilter{
		Statistic: key.Statistic,
		Scope:     key.Scope,
		Target:    key.Subject,
	})
}

func deltas(evs []ChangeEvent) []decimal.Decimal {
	out := make([]decimal.Decimal, len(evs))
	for i, ev := range evs {
		out[i] = ev.Delta
	}
	return out
}
