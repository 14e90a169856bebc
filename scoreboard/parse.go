package scoreboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlterionX/auric-regia/counter"
)

const (
	// DefaultLimit is used when no limit is given.
	DefaultLimit = 10
	// MaxLimit bounds a single window.
	MaxLimit = 50
)

// Query is the raw form of a scoreboard request. Empty strings mean
// "not supplied".
type Query struct {
	At      string
	Rank    string
	Someone string
	Limit   string
}

// Parse builds a locator and limit from q. A supplied rank or someone
// overrides At. caller is the requesting subject and is required for "me".
func Parse(q Query, caller counter.SubjectID) (Locator, int64, error) {
	limit, err := parseLimit(q.Limit)
	if err != nil {
		return Locator{}, 0, err
	}

	at := strings.ToLower(strings.TrimSpace(q.At))
	switch {
	case q.Someone != "":
		at = "someone"
	case q.Rank != "":
		at = "rank"
	case at == "":
		at = "top"
	}

	var loc Locator
	switch at {
	case "top":
		loc = Top()
	case "bottom":
		loc = Bottom()
	case "me":
		loc = Me(caller)
	case "rank":
		if q.Rank == "" {
			return Locator{}, 0, fmt.Errorf("%w: rank requires a rank", ErrInvalidLocator)
		}
		r, err := strconv.ParseInt(strings.TrimSpace(q.Rank), 10, 64)
		if err != nil {
			return Locator{}, 0, fmt.Errorf("%w: %q", ErrInvalidRank, q.Rank)
		}
		loc = Rank(r)
	case "someone":
		if q.Someone == "" {
			return Locator{}, 0, fmt.Errorf("%w: someone requires a subject", ErrInvalidLocator)
		}
		subject, err := counter.ParseSubjectID(q.Someone)
		if err != nil {
			return Locator{}, 0, err
		}
		loc = Someone(subject)
	default:
		return Locator{}, 0, fmt.Errorf("%w: unknown position %q", ErrInvalidLocator, q.At)
	}

	if err := loc.Validate(); err != nil {
		return Locator{}, 0, err
	}
	return loc, limit, nil
}

func parseLimit(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 || n > MaxLimit {
		return 0, fmt.Errorf("%w: %q (0-%d)", ErrInvalidLimit, raw, MaxLimit)
	}
	return n, nil
}
