package counter_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/counter/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	guild     counter.ScopeID   = 1000
	moderator counter.SubjectID = 1
	kills                       = counter.StatLegionKills
)

// tickClock advances by step on every read so each write gets a distinct,
// increasing timestamp.
type tickClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newTickClock() *tickClock {
	return &tickClock{
		now:  time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestEngine(t *testing.T) (*counter.Engine, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	mem.Now = newTickClock().Now
	return counter.NewEngine(mem), mem
}

func key(subject counter.SubjectID) counter.Key {
	return counter.Key{Statistic: kills, Scope: guild, Subject: subject}
}

func adjust(t *testing.T, e *counter.Engine, subject counter.SubjectID, delta string) counter.Aggregate {
	t.Helper()
	agg, err := e.Adjust(context.Background(), counter.Adjustment{
		Key:     key(subject),
		Updater: moderator,
		Delta:   dec(delta),
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

// failingStore injects failures into the session of an otherwise working
// memory store.
type failingStore struct {
	*store.TxMemory
	failAppend bool
	failUpsert bool
	failDelete bool
}

func (s *failingStore) WithTx(ctx context.Context, fn func(counter.Session) error) error {
	return s.TxMemory.WithTx(ctx, func(sess counter.Session) error {
		return fn(&failingSession{Session: sess, store: s})
	})
}

type failingSession struct {
	counter.Session
	store *failingStore
}

var errDiskFull = errors.New("disk full")

func (f *failingSession) AppendEvent(ctx context.Context, ev counter.ChangeEvent) (counter.ChangeEvent, error) {
	if f.store.failAppend {
		return counter.ChangeEvent{}, errDiskFull
	}
	return f.Session.AppendEvent(ctx, ev)
}

func (f *failingSession) UpsertAggregate(ctx context.Context, k counter.Key, delta decimal.Decimal) (counter.Aggregate, error) {
	if f.store.failUpsert {
		return counter.Aggregate{}, errDiskFull
	}
	return f.Session.UpsertAggregate(ctx, k, delta)
}

func (f *failingSession) DeleteAggregates(ctx context.Context, ids []counter.AggregateID) ([]counter.Aggregate, error) {
	if f.store.failDelete {
		return nil, errDiskFull
	}
	return f.Session.DeleteAggregates(ctx, ids)
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust_CreatesAndAccumulates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first := adjust(t, e, 7, "3")
	second := adjust(t, e, 7, "2.5")

	assert.Equal(t, first.ID, second.ID, "same key updates the same row")
	assert.Equal(t, "5.5", second.Total.String())
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Statistic: kills, Scope: guild, Target: 7})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, moderator, evs[0].Updater)
	assert.Equal(t, "3", evs[0].Delta.String())
	assert.Equal(t, "2.5", evs[1].Delta.String())
}

func TestAdjust_FloorAtZeroPerStep(t *testing.T) {
	// GIVEN: a subject adjusted by +1, -5, +10
	// WHEN: reading the stored total and replaying the ledger
	// THEN: both are 10, and the audit shows the clamp changed the outcome

	e, _ := newTestEngine(t)
	ctx := context.Background()

	adjust(t, e, 7, "1")
	mid := adjust(t, e, 7, "-5")
	assert.True(t, mid.Total.Equal(decimal.Zero), "total is clamped, not negative")
	final := adjust(t, e, 7, "10")
	assert.Equal(t, "10", final.Total.String())

	replayed, err := e.Ledger.Replay(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, replayed.Equal(final.Total))

	audit, err := e.Ledger.Audit(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
	assert.True(t, audit.Clamped())
	assert.Equal(t, 3, audit.Events)
	assert.Equal(t, "6", audit.Summed.String())
}

func TestAdjust_NegativeFirstDeltaCreatesZeroRow(t *testing.T) {
	e, _ := newTestEngine(t)

	agg := adjust(t, e, 7, "-4")

	assert.True(t, agg.Total.Equal(decimal.Zero))
	_, ok, err := e.Load(context.Background(), key(7))
	require.NoError(t, err)
	assert.True(t, ok, "a remove on an absent subject still creates the row")
}

func TestAdjust_KeepsNote(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("1"), Note: "ambush at Yela"})
	require.NoError(t, err)

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Target: 7})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "ambush at Yela", evs[0].Note)
}

func TestAdjust_RejectsInvalidInput(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		adj  counter.Adjustment
		want error
	}{
		{"no updater", counter.Adjustment{Key: key(7), Delta: dec("1")}, counter.ErrInvalidSubject},
		{"bad statistic", counter.Adjustment{Key: counter.Key{Statistic: "Kills!", Scope: guild, Subject: 7}, Updater: moderator, Delta: dec("1")}, counter.ErrInvalidStatistic},
		{"no scope", counter.Adjustment{Key: counter.Key{Statistic: kills, Subject: 7}, Updater: moderator, Delta: dec("1")}, counter.ErrInvalidEvent},
		{"no target", counter.Adjustment{Key: counter.Key{Statistic: kills, Scope: guild}, Updater: moderator, Delta: dec("1")}, counter.ErrInvalidEvent},
		{"note too long", counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("1"), Note: strings.Repeat("x", counter.MaxNoteLength+1)}, counter.ErrInvalidEvent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Adjust(ctx, tc.adj)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, counter.IsClientError(err))
		})
	}

	evs, err := mem.Events(ctx, counter.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, evs, "rejected adjustments write nothing")
}

func TestAdjust_AggregateFailureRollsBackLedger(t *testing.T) {
	// GIVEN: a store whose aggregate upsert fails
	// WHEN: adjusting
	// THEN: an aggregate-write error is returned and no ChangeEvent persists

	mem := store.NewTxMemory()
	fs := &failingStore{TxMemory: mem, failUpsert: true}
	e := counter.NewEngine(fs)
	ctx := context.Background()

	_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("5")})

	assert.ErrorIs(t, err, counter.ErrAggregateWrite)
	assert.ErrorIs(t, err, errDiskFull)
	evs, err := mem.Events(ctx, counter.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, evs)
	_, ok, err := mem.Load(ctx, key(7))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdjust_LedgerFailureLeavesAggregateUntouched(t *testing.T) {
	mem := store.NewTxMemory()
	e := counter.NewEngine(mem)
	ctx := context.Background()
	_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("5")})
	require.NoError(t, err)

	broken := counter.NewEngine(&failingStore{TxMemory: mem, failAppend: true})
	_, err = broken.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("5")})

	assert.ErrorIs(t, err, counter.ErrLedgerWrite)
	assert.NotErrorIs(t, err, counter.ErrAggregateWrite)
	agg, ok, err := mem.Load(ctx, key(7))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5", agg.Total.String())
}

func TestAdjust_CanceledContextIsConnectError(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("1")})

	assert.ErrorIs(t, err, counter.ErrConnect)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdjust_ConcurrentUpdatesAreSerialized(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("1")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	agg, ok, err := e.Load(ctx, key(7))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "50", agg.Total.String())
}

// =============================================================================
// RANK AND WINDOWS
// =============================================================================

func TestRankOf_TotalThenEarliestUpdate(t *testing.T) {
	// GIVEN: A=10 (first), B=10 (second), C=5
	// WHEN: ranking
	// THEN: A=0, B=1, C=2; an absent subject ranks after all of them

	e, _ := newTestEngine(t)
	ctx := context.Background()
	adjust(t, e, 1, "10")
	adjust(t, e, 2, "10")
	adjust(t, e, 3, "5")

	for subject, want := range map[counter.SubjectID]int64{1: 0, 2: 1, 3: 2, 99: 3} {
		got, err := e.RankOf(ctx, key(subject))
		require.NoError(t, err)
		assert.Equal(t, want, got, "subject %d", subject)
	}
}

func TestRankOf_AbsentRanksLastAmongZeros(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	adjust(t, e, 1, "10")
	adjust(t, e, 2, "-1") // present at zero

	absent, err := e.RankOf(ctx, key(99))
	require.NoError(t, err)
	zero, err := e.RankOf(ctx, key(2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), zero)
	assert.Equal(t, int64(2), absent)
}

func TestRankOf_EmptyBoard(t *testing.T) {
	e, _ := newTestEngine(t)
	r, err := e.RankOf(context.Background(), key(99))
	require.NoError(t, err)
	assert.Equal(t, int64(0), r)
}

func TestLoadWindow_PagesAreContiguous(t *testing.T) {
	// GIVEN: seven subjects with distinct and tied totals
	// WHEN: loading the board in pages of two, from both ends
	// THEN: concatenated pages equal the full board, and the bottom order
	//       is the exact reverse of the top order

	e, _ := newTestEngine(t)
	ctx := context.Background()
	for i, total := range []string{"5", "9", "5", "1", "12", "9", "0.5"} {
		adjust(t, e, counter.SubjectID(i+1), total)
	}

	full, err := e.LoadWindow(ctx, kills, guild, 0, 100, counter.FromTop)
	require.NoError(t, err)
	require.Len(t, full, 7)
	assert.Equal(t, []counter.SubjectID{5, 2, 6, 1, 3, 4, 7}, subjects(full))

	var paged []counter.Aggregate
	for off := int64(0); off < 8; off += 2 {
		page, err := e.LoadWindow(ctx, kills, guild, off, 2, counter.FromTop)
		require.NoError(t, err)
		paged = append(paged, page...)
	}
	assert.Equal(t, subjects(full), subjects(paged))

	bottom, err := e.LoadWindow(ctx, kills, guild, 0, 100, counter.FromBottom)
	require.NoError(t, err)
	for i := range bottom {
		assert.Equal(t, full[len(full)-1-i].Subject, bottom[i].Subject)
	}

	for i, row := range full {
		r, err := e.RankOf(ctx, row.Key())
		require.NoError(t, err)
		assert.Equal(t, int64(i), r, "rank matches window position")
	}
}

func TestLoadWindow_Bounds(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	adjust(t, e, 1, "1")

	rows, err := e.LoadWindow(ctx, kills, guild, 0, 0, counter.FromTop)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = e.LoadWindow(ctx, kills, guild, 5, 10, counter.FromTop)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = e.LoadWindow(ctx, kills, guild, -1, 10, counter.FromTop)
	assert.ErrorIs(t, err, counter.ErrInvalidWindow)

	_, err = e.LoadWindow(ctx, kills, 0, 0, 10, counter.FromTop)
	assert.ErrorIs(t, err, counter.ErrInvalidScope)
}

func TestCount_IsolatedByStatisticAndScope(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	adjust(t, e, 1, "1")
	adjust(t, e, 2, "1")
	_, err := e.Adjust(ctx, counter.Adjustment{
		Key:     counter.Key{Statistic: counter.StatIndustryProfit, Scope: guild, Subject: 3},
		Updater: moderator,
		Delta:   dec("100"),
	})
	require.NoError(t, err)
	_, err = e.Adjust(ctx, counter.Adjustment{
		Key:     counter.Key{Statistic: kills, Scope: guild + 1, Subject: 4},
		Updater: moderator,
		Delta:   dec("1"),
	})
	require.NoError(t, err)

	n, err := e.Count(ctx, kills, guild)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// =============================================================================
// PURGE AND PRUNE
// =============================================================================

func TestPurge_DeletesWithCompensatingEvents(t *testing.T) {
	// GIVEN: a subject with a clamped history (+1, -5, +7 = 7)
	// WHEN: purging its Aggregate
	// THEN: the row is gone, a -7 event with the purge note is recorded,
	//       and the ledger replays to zero

	e, _ := newTestEngine(t)
	ctx := context.Background()
	adjust(t, e, 7, "1")
	adjust(t, e, 7, "-5")
	agg := adjust(t, e, 7, "7")
	other := adjust(t, e, 8, "2")

	n, err := e.Purge(ctx, 42, []counter.AggregateID{agg.ID, agg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := e.Load(ctx, key(7))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = e.Load(ctx, other.Key())
	require.NoError(t, err)
	assert.True(t, ok, "other subjects untouched")

	evs, err := e.Ledger.Events(ctx, counter.EventFilter{Target: 7})
	require.NoError(t, err)
	require.Len(t, evs, 4)
	last := evs[3]
	assert.Equal(t, "-7", last.Delta.String())
	assert.Equal(t, counter.PurgeNote, last.Note)
	assert.Equal(t, counter.SubjectID(42), last.Updater)

	replayed, err := e.Ledger.Replay(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, replayed.Equal(decimal.Zero))

	// A later adjustment starts again from zero and stays consistent.
	adjust(t, e, 7, "3")
	audit, err := e.Ledger.Audit(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
	assert.Equal(t, "3", audit.Stored.String())
}

func TestPurge_EdgeCases(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	n, err := e.Purge(ctx, 42, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.Purge(ctx, 42, []counter.AggregateID{12345})
	require.NoError(t, err)
	assert.Zero(t, n, "unknown ids are ignored")

	_, err = e.Purge(ctx, 0, []counter.AggregateID{1})
	assert.ErrorIs(t, err, counter.ErrInvalidSubject)
}

func TestPurge_LedgerFailureRestoresRows(t *testing.T) {
	mem := store.NewTxMemory()
	e := counter.NewEngine(mem)
	ctx := context.Background()
	agg, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("5")})
	require.NoError(t, err)

	broken := counter.NewEngine(&failingStore{TxMemory: mem, failAppend: true})
	_, err = broken.Purge(ctx, 42, []counter.AggregateID{agg.ID})

	assert.ErrorIs(t, err, counter.ErrLedgerWrite)
	_, ok, err := mem.Load(ctx, key(7))
	require.NoError(t, err)
	assert.True(t, ok, "row restored when the compensating event fails")
}

func TestPrune_KeepsOnlySelectedSubjects(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		adjust(t, e, counter.SubjectID(i), "1")
	}

	keep := map[counter.SubjectID]bool{2: true, 4: true}
	n, err := e.Prune(ctx, kills, guild, 42, func(a counter.Aggregate) bool { return keep[a.Subject] })
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := e.LoadWindow(ctx, kills, guild, 0, 10, counter.FromTop)
	require.NoError(t, err)
	assert.ElementsMatch(t, []counter.SubjectID{2, 4}, subjects(rows))
}

func TestPrune_SpansMultiplePages(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	total := counter.PrunePageSize + counter.PrunePageSize/2
	for i := 1; i <= total; i++ {
		adjust(t, e, counter.SubjectID(i), "1")
	}

	n, err := e.Prune(ctx, kills, guild, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, total, n)

	count, err := e.Count(ctx, kills, guild)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLookup_SkipsAbsentSubjects(t *testing.T) {
	e, _ := newTestEngine(t)
	adjust(t, e, 1, "1")
	adjust(t, e, 3, "1")

	rows, err := e.Lookup(context.Background(), kills, guild, []counter.SubjectID{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []counter.SubjectID{1, 3}, subjects(rows))
}

func TestPurge_DeleteFailureIsAggregateWrite(t *testing.T) {
	mem := store.NewTxMemory()
	e := counter.NewEngine(mem)
	ctx := context.Background()
	agg, err := e.Adjust(ctx, counter.Adjustment{Key: key(7), Updater: moderator, Delta: dec("5")})
	require.NoError(t, err)

	broken := counter.NewEngine(&failingStore{TxMemory: mem, failDelete: true})
	n, err := broken.Purge(ctx, 42, []counter.AggregateID{agg.ID})

	assert.Zero(t, n)
	assert.ErrorIs(t, err, counter.ErrAggregateWrite)
	evs, err := mem.Events(ctx, counter.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, evs, 1, "no compensating event written")
}
