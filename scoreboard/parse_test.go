package scoreboard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/scoreboard"
)

func TestParse(t *testing.T) {
	const caller counter.SubjectID = 55

	cases := []struct {
		name  string
		q     scoreboard.Query
		want  scoreboard.Locator
		limit int64
	}{
		{"defaults", scoreboard.Query{}, scoreboard.Top(), scoreboard.DefaultLimit},
		{"bottom", scoreboard.Query{At: "Bottom", Limit: "3"}, scoreboard.Bottom(), 3},
		{"me", scoreboard.Query{At: "me"}, scoreboard.Me(caller), scoreboard.DefaultLimit},
		{"rank", scoreboard.Query{At: "rank", Rank: "4"}, scoreboard.Rank(4), scoreboard.DefaultLimit},
		{"rank overrides at", scoreboard.Query{At: "top", Rank: "7"}, scoreboard.Rank(7), scoreboard.DefaultLimit},
		{"someone overrides at", scoreboard.Query{At: "bottom", Someone: "900"}, scoreboard.Someone(900), scoreboard.DefaultLimit},
		{"zero limit", scoreboard.Query{Limit: "0"}, scoreboard.Top(), 0},
		{"max limit", scoreboard.Query{Limit: "50"}, scoreboard.Top(), scoreboard.MaxLimit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc, limit, err := scoreboard.Parse(tc.q, caller)
			require.NoError(t, err)
			assert.Equal(t, tc.want, loc)
			assert.Equal(t, tc.limit, limit)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name   string
		q      scoreboard.Query
		caller counter.SubjectID
		want   error
	}{
		{"unknown position", scoreboard.Query{At: "middle"}, 1, scoreboard.ErrInvalidLocator},
		{"rank without value", scoreboard.Query{At: "rank"}, 1, scoreboard.ErrInvalidLocator},
		{"someone without value", scoreboard.Query{At: "someone"}, 1, scoreboard.ErrInvalidLocator},
		{"me without caller", scoreboard.Query{At: "me"}, 0, scoreboard.ErrInvalidLocator},
		{"negative rank", scoreboard.Query{Rank: "-1"}, 1, scoreboard.ErrInvalidRank},
		{"garbage rank", scoreboard.Query{Rank: "first"}, 1, scoreboard.ErrInvalidRank},
		{"negative limit", scoreboard.Query{Limit: "-1"}, 1, scoreboard.ErrInvalidLimit},
		{"limit too large", scoreboard.Query{Limit: "51"}, 1, scoreboard.ErrInvalidLimit},
		{"bad subject", scoreboard.Query{Someone: "0"}, 1, counter.ErrInvalidSubject},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := scoreboard.Parse(tc.q, tc.caller)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "someone", scoreboard.KindSomeone.String())
	assert.Equal(t, "top", scoreboard.Top().Kind.String())
}
