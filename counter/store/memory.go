// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlterionX/auric-regia/counter"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	events []counter.ChangeEvent
	totals map[counter.Key]counter.Aggregate
	nextEv counter.EventID
	nextAg counter.AggregateID

	// Now stamps created_at/updated_at. Tests replace it to control ties.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		totals: make(map[counter.Key]counter.Aggregate),
		Now:    time.Now,
	}
}

func (m *Memory) Load(_ context.Context, key counter.Key) (counter.Aggregate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.totals[key]
	return agg, ok, nil
}

func (m *Memory) Count(_ context.Context, stat counter.Statistic, scope counter.ScopeID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.boardLocked(stat, scope))), nil
}

func (m *Memory) RankOf(_ context.Context, key counter.Key) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	probe, ok := m.totals[key]
	if !ok {
		probe = counter.AbsentProbe(key, m.Now())
	}
	var rank int64
	for _, row := range m.boardLocked(key.Statistic, key.Scope) {
		if counter.Precedes(row, probe) {
			rank++
		}
	}
	return rank, nil
}

func (m *Memory) LoadWindow(_ context.Context, stat counter.Statistic, scope counter.ScopeID, offset, limit int64, order counter.Order) ([]counter.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.boardLocked(stat, scope)
	sort.Slice(rows, func(i, j int) bool {
		if order == counter.FromBottom {
			return counter.Precedes(rows[j], rows[i])
		}
		return counter.Precedes(rows[i], rows[j])
	})
	if offset >= int64(len(rows)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(rows)) {
		end = int64(len(rows))
	}
	return append([]counter.Aggregate(nil), rows[offset:end]...), nil
}

func (m *Memory) Events(_ context.Context, f counter.EventFilter) ([]counter.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []counter.ChangeEvent
	for _, ev := range m.events {
		if f.Statistic != "" && ev.Statistic != f.Statistic {
			continue
		}
		if f.Scope != 0 && ev.Scope != f.Scope {
			continue
		}
		if f.Target != 0 && ev.Target != f.Target {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) boardLocked(stat counter.Statistic, scope counter.ScopeID) []counter.Aggregate {
	var rows []counter.Aggregate
	for k, agg := range m.totals {
		if k.Statistic == stat && k.Scope == scope {
			rows = append(rows, agg)
		}
	}
	return rows
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support and implements
// counter.Store.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Writers are serialized by the exclusive lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(counter.Session) error) error {
	if err := ctx.Err(); err != nil {
		return counter.ConnectError("memory begin", err)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	totals := make(map[counter.Key]counter.Aggregate, len(tm.totals))
	for k, v := range tm.totals {
		totals[k] = v
	}
	return memorySnapshot{
		events: append([]counter.ChangeEvent(nil), tm.events...),
		totals: totals,
		nextEv: tm.nextEv,
		nextAg: tm.nextAg,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.events = s.events
	tm.totals = s.totals
	tm.nextEv = s.nextEv
	tm.nextAg = s.nextAg
}

type memorySnapshot struct {
	events []counter.ChangeEvent
	totals map[counter.Key]counter.Aggregate
	nextEv counter.EventID
	nextAg counter.AggregateID
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) AppendEvent(_ context.Context, ev counter.ChangeEvent) (counter.ChangeEvent, error) {
	p := tv.parent
	p.nextEv++
	ev.ID = p.nextEv
	ev.CreatedAt = p.Now()
	p.events = append(p.events, ev)
	return ev, nil
}

func (tv *txMemoryView) UpsertAggregate(_ context.Context, key counter.Key, delta decimal.Decimal) (counter.Aggregate, error) {
	p := tv.parent
	now := p.Now()
	agg, ok := p.totals[key]
	if !ok {
		p.nextAg++
		agg = counter.Aggregate{
			ID:        p.nextAg,
			Statistic: key.Statistic,
			Scope:     key.Scope,
			Subject:   key.Subject,
			Total:     decimal.Zero,
			CreatedAt: now,
		}
	}
	agg.Total = counter.ApplyDelta(agg.Total, delta)
	agg.UpdatedAt = now
	p.totals[key] = agg
	return agg, nil
}

func (tv *txMemoryView) DeleteAggregates(_ context.Context, ids []counter.AggregateID) ([]counter.Aggregate, error) {
	p := tv.parent
	want := make(map[counter.AggregateID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var deleted []counter.Aggregate
	for k, agg := range p.totals {
		if want[agg.ID] {
			deleted = append(deleted, agg)
			delete(p.totals, k)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].ID < deleted[j].ID })
	return deleted, nil
}
