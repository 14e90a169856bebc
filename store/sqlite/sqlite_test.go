package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	guild     counter.ScopeID   = 123456789012345678
	moderator counter.SubjectID = 1
	profit                      = counter.StatIndustryProfit
)

func newTestStore(t *testing.T) (*sqlite.Store, *counter.Engine) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var mu sync.Mutex
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
	return store, counter.NewEngine(store)
}

func key(subject counter.SubjectID) counter.Key {
	return counter.Key{Statistic: profit, Scope: guild, Subject: subject}
}

func adjust(t *testing.T, e *counter.Engine, subject counter.SubjectID, delta string) counter.Aggregate {
	t.Helper()
	agg, err := e.Adjust(context.Background(), counter.Adjustment{
		Key:     key(subject),
		Updater: moderator,
		Delta:   decimal.RequireFromString(delta),
	})
	require.NoError(t, err)
	return agg
}

func subjects(rows []counter.Aggregate) []counter.SubjectID {
	out := make([]counter.SubjectID, len(rows))
	for i, r := range rows {
		out[i] = r.Subject
	}
	return out
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestSQLite_AdjustExactDecimals(t *testing.T) {
	// GIVEN: deltas that are inexact in binary floating point
	// WHEN: adjusting through the SQLite store
	// THEN: the stored total is exact

	_, e := newTestStore(t)
	adjust(t, e, 7, "0.1")
	adjust(t, e, 7, "0.2")
	agg := adjust(t, e, 7, "1234567890123456789.7")

	assert.Equal(t, "1234567890123456790", agg.Total.String())
	assert.Equal(t, guild, agg.Scope)
	assert.Equal(t, counter.SubjectID(7), agg.Subject)
}

func TestSQLite_FloorAtZero(t *testing.T) {
	_, e := newTestStore(t)
	ctx := context.Background()

	adjust(t, e, 7, "1")
	assert.True(t, adjust(t, e, 7, "-5").Total.IsZero())
	assert.Equal(t, "10", adjust(t, e, 7, "10").Total.String())

	audit, err := e.Ledger.Audit(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
	assert.True(t, audit.Clamped())
}

func TestSQLite_LargeIdentitiesRoundTrip(t *testing.T) {
	_, e := newTestStore(t)
	ctx := context.Background()
	big := counter.SubjectID(18446744073709551615)

	_, err := e.Adjust(ctx, counter.Adjustment{Key: key(big), Updater: big, Delta: decimal.NewFromInt(1)})
	require.NoError(t, err)

	agg, ok, err := e.Load(ctx, key(big))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, agg.Subject)

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Target: big})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, big, evs[0].Updater)
}

func TestSQLite_CanceledContextIsConnectError(t *testing.T) {
	_, e := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, counter.ErrConnect)
}

func TestSQLite_ConcurrentAdjustments(t *testing.T) {
	// GIVEN: a file database shared by many goroutines
	// WHEN: each adds 1 to the same key
	// THEN: no update is lost

	store, err := sqlite.New(filepath.Join(t.TempDir(), "auric.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	e := counter.NewEngine(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: decimal.NewFromInt(1)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	agg, ok, err := e.Load(ctx, key(7))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "25", agg.Total.String())

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Target: 7})
	require.NoError(t, err)
	assert.Len(t, evs, 25)
}

// =============================================================================
// RANK AND WINDOWS
// =============================================================================

func TestSQLite_BoardOrderUsesNumericTotals(t *testing.T) {
	// GIVEN: totals whose text order differs from numeric order
	// WHEN: loading the board
	// THEN: rows follow numeric order, ties broken by earliest update

	_, e := newTestStore(t)
	ctx := context.Background()
	totals := []string{"9", "100", "10", "0.5", "10", "99.99"}
	for i, total := range totals {
		adjust(t, e, counter.SubjectID(i+1), total)
	}

	top, err := e.LoadWindow(ctx, profit, guild, 0, 10, counter.FromTop)
	require.NoError(t, err)
	assert.Equal(t, []counter.SubjectID{2, 6, 3, 5, 1, 4}, subjects(top))

	bottom, err := e.LoadWindow(ctx, profit, guild, 0, 10, counter.FromBottom)
	require.NoError(t, err)
	assert.Equal(t, []counter.SubjectID{4, 1, 5, 3, 6, 2}, subjects(bottom))

	for i, row := range top {
		r, err := e.RankOf(ctx, row.Key())
		require.NoError(t, err)
		assert.Equal(t, int64(i), r, "subject %d", row.Subject)
	}

	page, err := e.LoadWindow(ctx, profit, guild, 2, 2, counter.FromTop)
	require.NoError(t, err)
	assert.Equal(t, []counter.SubjectID{3, 5}, subjects(page))

	n, err := e.Count(ctx, profit, guild)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestSQLite_TieOnTimestampFallsBackToID(t *testing.T) {
	store, e := newTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return fixed }

	a := adjust(t, e, 20, "5")
	b := adjust(t, e, 10, "5")
	require.Less(t, a.ID, b.ID)

	ra, err := e.RankOf(ctx, a.Key())
	require.NoError(t, err)
	rb, err := e.RankOf(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(0), ra)
	assert.Equal(t, int64(1), rb)
}

func TestSQLite_AbsentSubjectRanksAfterZeros(t *testing.T) {
	_, e := newTestStore(t)
	ctx := context.Background()
	adjust(t, e, 1, "3")
	adjust(t, e, 2, "-3")

	r, err := e.RankOf(ctx, key(99))
	require.NoError(t, err)
	assert.Equal(t, int64(2), r)
}

// =============================================================================
// PURGE AND PRUNE
// =============================================================================

func TestSQLite_PurgeRoundTrip(t *testing.T) {
	_, e := newTestStore(t)
	ctx := context.Background()
	agg := adjust(t, e, 7, "42.5")
	adjust(t, e, 8, "1")

	n, err := e.Purge(ctx, 99, []counter.AggregateID{agg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := e.Load(ctx, key(7))
	require.NoError(t, err)
	assert.False(t, ok)

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Statistic: profit, Scope: guild, Target: 7})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "-42.5", evs[1].Delta.String())
	assert.Equal(t, counter.PurgeNote, evs[1].Note)

	replayed, err := e.Ledger.Replay(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, replayed.IsZero())
}

func TestSQLite_Prune(t *testing.T) {
	_, e := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		adjust(t, e, counter.SubjectID(i), "1")
	}

	n, err := e.Prune(ctx, profit, guild, 99, func(a counter.Aggregate) bool { return a.Subject%2 == 0 })
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := e.LoadWindow(ctx, profit, guild, 0, 10, counter.FromTop)
	require.NoError(t, err)
	assert.ElementsMatch(t, []counter.SubjectID{2, 4, 6}, subjects(rows))
}

func TestSQLite_EventsFilterAndLimit(t *testing.T) {
	_, e := newTestStore(t)
	ctx := context.Background()
	adjust(t, e, 1, "1")
	adjust(t, e, 2, "2")
	adjust(t, e, 1, "3")

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Target: 1})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Less(t, evs[0].ID, evs[1].ID)

	evs, err = e.Ledger.Events(ctx, counter.EventFilter{Statistic: profit, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestSQLite_Reset(t *testing.T) {
	store, e := newTestStore(t)
	ctx := context.Background()
	adjust(t, e, 1, "1")

	require.NoError(t, store.Reset(ctx))

	n, err := e.Count(ctx, profit, guild)
	require.NoError(t, err)
	assert.Zero(t, n)
}
