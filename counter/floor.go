package counter

import "github.com/shopspring/decimal"

// =============================================================================
// FLOOR-AT-ZERO RATCHET
// =============================================================================
//
// A total is clamped to zero after EACH adjustment, not after summing all
// adjustments. Starting from zero, the deltas [+1, -5, +10] give:
//
//   ratchet:  0 -> 1 -> 0 -> 10      = 10
//   sum:      max(0, 1 - 5 + 10)     = 6
//
// Aggregate.Total always follows the ratchet, so it is derived from the
// Ledger by Ratchet, never by Sum.

// ApplyDelta returns max(0, total + delta).
func ApplyDelta(total, delta decimal.Decimal) decimal.Decimal {
	next := total.Add(delta)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// Ratchet folds ApplyDelta over deltas starting from zero.
func Ratchet(deltas ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deltas {
		total = ApplyDelta(total, d)
	}
	return total
}

// Sum is the unclamped sum of deltas. Only audits use it, to show how far
// the ratchet has diverged from plain arithmetic.
func Sum(deltas ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deltas {
		total = total.Add(d)
	}
	return total
}
