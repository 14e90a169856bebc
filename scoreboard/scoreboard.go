/*
Package scoreboard turns a locator into a window of the board.

PURPOSE:
  Stateless read-side logic over counter.Engine (or any Reader). Given a
  locator and a limit it picks the offset to load and the rank of the
  first row. It never writes and keeps no state between calls.

LOCATORS:
  Top:           load_window(0, limit)                      start = 1
  Bottom:        n = count; rows = load_window(reverse, 0, limit) reversed
                                                            start = n - len(rows) + 1
  Rank(r):       load_window(r, limit)                      start = r + 1
  Me/Someone(s): rank = rank_of(s); off = max(0, rank - limit/2)
                 load_window(off, limit)                    start = off + 1

  r is 0-based and may exceed the row count (empty window, not an error).
  Near the top, the centred window is truncated on the low side rather
  than shifted.

  limit == 0 returns an empty result without touching storage.

CONSISTENCY:
  rank_of and load_window are separate reads. A write landing between
  them can shift the window by a row; callers tolerate that drift.

SEE ALSO:
  - counter/engine.go: Count, RankOf, LoadWindow
  - parse.go: Locator parsing from request parameters
*/
package scoreboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlterionX/auric-regia/counter"
)

var (
	// ErrInvalidLimit is returned for a negative or oversized limit.
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrInvalidRank is returned for a negative rank.
	ErrInvalidRank = errors.New("invalid rank")

	// ErrInvalidLocator is returned for an unknown or incomplete locator.
	ErrInvalidLocator = errors.New("invalid locator")
)

// Reader is the subset of the Aggregate Store the scoreboard needs.
type Reader interface {
	Count(ctx context.Context, stat counter.Statistic, scope counter.ScopeID) (int64, error)
	RankOf(ctx context.Context, key counter.Key) (int64, error)
	LoadWindow(ctx context.Context, stat counter.Statistic, scope counter.ScopeID, offset, limit int64, order counter.Order) ([]counter.Aggregate, error)
}

// Kind is the locator strategy.
type Kind int

const (
	KindTop Kind = iota
	KindBottom
	KindRank
	KindMe
	KindSomeone
)

func (k Kind) String() string {
	switch k {
	case KindTop:
		return "top"
	case KindBottom:
		return "bottom"
	case KindRank:
		return "rank"
	case KindMe:
		return "me"
	case KindSomeone:
		return "someone"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Locator selects which part of the board to show.
type Locator struct {
	Kind Kind
	// Rank is the 0-based rank for KindRank.
	Rank int64
	// Subject is the centre of the window for KindMe and KindSomeone.
	Subject counter.SubjectID
}

func Top() Locator                              { return Locator{Kind: KindTop} }
func Bottom() Locator                           { return Locator{Kind: KindBottom} }
func Rank(r int64) Locator                      { return Locator{Kind: KindRank, Rank: r} }
func Me(caller counter.SubjectID) Locator       { return Locator{Kind: KindMe, Subject: caller} }
func Someone(subject counter.SubjectID) Locator { return Locator{Kind: KindSomeone, Subject: subject} }

// Validate checks the locator's arguments.
func (l Locator) Validate() error {
	switch l.Kind {
	case KindTop, KindBottom:
		return nil
	case KindRank:
		if l.Rank < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidRank, l.Rank)
		}
		return nil
	case KindMe, KindSomeone:
		if l.Subject == 0 {
			return fmt.Errorf("%w: %s requires a subject", ErrInvalidLocator, l.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLocator, l.Kind)
	}
}

// Window is a resolved slice of the board.
type Window struct {
	// StartRank is the 1-based rank of Rows[0].
	StartRank int64               `json:"start_rank"`
	Rows      []counter.Aggregate `json:"rows"`
}

// Resolve loads the window for loc. It has no side effects.
func Resolve(ctx context.Context, r Reader, stat counter.Statistic, scope counter.ScopeID, loc Locator, limit int64) (Window, error) {
	if limit < 0 {
		return Window{}, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if err := loc.Validate(); err != nil {
		return Window{}, err
	}
	if limit == 0 {
		return Window{StartRank: 1, Rows: []counter.Aggregate{}}, nil
	}

	switch loc.Kind {
	case KindTop:
		return window(ctx, r, stat, scope, 0, limit)

	case KindBottom:
		count, err := r.Count(ctx, stat, scope)
		if err != nil {
			return Window{}, err
		}
		rows, err := r.LoadWindow(ctx, stat, scope, 0, limit, counter.FromBottom)
		if err != nil {
			return Window{}, err
		}
		reverse(rows)
		return Window{StartRank: count - int64(len(rows)) + 1, Rows: nonNil(rows)}, nil

	case KindRank:
		return window(ctx, r, stat, scope, loc.Rank, limit)

	default: // KindMe, KindSomeone
		rank, err := r.RankOf(ctx, counter.Key{Statistic: stat, Scope: scope, Subject: loc.Subject})
		if err != nil {
			return Window{}, err
		}
		start := rank - limit/2
		if start < 0 {
			start = 0
		}
		return window(ctx, r, stat, scope, start, limit)
	}
}

func window(ctx context.Context, r Reader, stat counter.Statistic, scope counter.ScopeID, offset, limit int64) (Window, error) {
	rows, err := r.LoadWindow(ctx, stat, scope, offset, limit, counter.FromTop)
	if err != nil {
		return Window{}, err
	}
	return Window{StartRank: offset + 1, Rows: nonNil(rows)}, nil
}

func reverse(rows []counter.Aggregate) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func nonNil(rows []counter.Aggregate) []counter.Aggregate {
	if rows == nil {
		return []counter.Aggregate{}
	}
	return rows
}
