package sqlite

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SortKey encodes a non-negative total so that BINARY string comparison
// matches numeric comparison:
//
//	<len(integer digits) as 3 digits><integer digits>[.<fraction, trailing zeros trimmed>]
//
//	0      -> "0010"
//	0.5    -> "0010.5"
//	7      -> "0017"
//	12.25  -> "00212.25"
//	100    -> "003100"
//
// Equal values always encode identically, so 1.50 and 1.5 tie.
func SortKey(total decimal.Decimal) string {
	s := total.Abs().String()
	intPart, frac, _ := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	frac = strings.TrimRight(frac, "0")

	key := fmt.Sprintf("%03d%s", len(intPart), intPart)
	if frac != "" {
		key += "." + frac
	}
	return key
}
