package counter

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOARD ORDER
// =============================================================================
//
// Board order (rank 1 first):   total DESC, updated_at ASC, id ASC
// Reverse order (bottom first): total ASC,  updated_at DESC, id DESC
//
// Ties on total go to the subject that reached it first. The surrogate id
// only separates rows whose total and timestamp are both equal.
//
// The reverse order is the exact reverse relation. Loading the top N rows
// and reversing them is NOT the same as loading the bottom N.

// Order selects the direction of a window load.
type Order int

const (
	// FromTop loads in board order.
	FromTop Order = iota
	// FromBottom loads in reverse board order.
	FromBottom
)

func (o Order) String() string {
	if o == FromBottom {
		return "bottom"
	}
	return "top"
}

// AbsentLead is how far in the future an absent subject's synthetic
// updated_at is placed when computing its rank. A subject with no
// Aggregate ranks as total 0 updated "just after now", which puts it after
// every real subject tied at zero. Real subjects at zero must outrank it.
const AbsentLead = 100 * time.Millisecond

// Precedes reports whether a sorts strictly before b in board order.
func Precedes(a, b Aggregate) bool {
	if c := a.Total.Cmp(b.Total); c != 0 {
		return c > 0
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// AbsentProbe returns the synthetic row used to rank a subject that has no
// Aggregate. Its ID sorts after every real row.
func AbsentProbe(key Key, now time.Time) Aggregate {
	return Aggregate{
		ID:        AggregateID(1<<63 - 1),
		Statistic: key.Statistic,
		Scope:     key.Scope,
		Subject:   key.Subject,
		Total:     decimal.Zero,
		UpdatedAt: now.Add(AbsentLead),
	}
}
