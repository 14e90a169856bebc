/*
Package goals tracks monthly community goals and their progress.

PURPOSE:
  A goal is a short named objective for one branch of a community, with a
  progress percentage that officers update through the month. At month
  end every active goal is deactivated and a new set is written.

KEY CONCEPTS:
  - Goal: One objective, unique per (scope, shortname)
  - Summary: Progress rolled up for a branch, or for the whole community
    when the branch is main

SUMMARY RULES:
  branch != main: progress = sum(goal progress), possible = 100 per goal
  branch == main: main goals count 100 each, and every other branch with
                  active goals contributes its own progress/possible pair

SEE ALSO:
  - service.go: Validation and summaries
  - store/sqlite/goals.go, store/postgres/goals.go: Persistence
*/
package goals

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/AlterionX/auric-regia/counter"
)

var (
	// ErrInvalidGoal is returned when a goal fails validation.
	ErrInvalidGoal = errors.New("invalid goal")

	// ErrGoalNotFound is returned when no goal has the requested shortname.
	ErrGoalNotFound = errors.New("goal not found")
)

// Field limits.
const (
	MaxHeaderLength    = 256
	MaxBodyLength      = 4096
	MaxShortnameLength = 50
	MaxProgress        = 100
)

var shortnameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Goal is one monthly objective.
type Goal struct {
	ID        int64             `json:"id"`
	Scope     counter.ScopeID   `json:"guild_id"`
	Updater   counter.SubjectID `json:"updater_id"`
	Branch    counter.Branch    `json:"branch"`
	Shortname string            `json:"shortname"`
	Header    string            `json:"header"`
	Body      string            `json:"body"`
	Progress  int16             `json:"progress"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Validate checks the goal's fields against their limits.
func (g Goal) Validate() error {
	switch {
	case g.Scope == 0:
		return fmt.Errorf("%w: scope is required", ErrInvalidGoal)
	case g.Updater == 0:
		return fmt.Errorf("%w: updater is required", ErrInvalidGoal)
	case !g.Branch.Valid():
		return fmt.Errorf("%w: unknown branch %q", ErrInvalidGoal, g.Branch)
	case len(g.Shortname) > MaxShortnameLength || !shortnameRE.MatchString(g.Shortname):
		return fmt.Errorf("%w: bad shortname %q", ErrInvalidGoal, g.Shortname)
	case g.Header == "" || len(g.Header) > MaxHeaderLength:
		return fmt.Errorf("%w: header must be 1-%d characters", ErrInvalidGoal, MaxHeaderLength)
	case len(g.Body) > MaxBodyLength:
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalidGoal, MaxBodyLength)
	case g.Progress < 0 || g.Progress > MaxProgress:
		return fmt.Errorf("%w: progress must be within 0-%d", ErrInvalidGoal, MaxProgress)
	}
	return nil
}

// Store persists goals.
type Store interface {
	// UpsertGoal inserts g or replaces the goal with the same
	// (scope, shortname). The stored goal is always active.
	UpsertGoal(ctx context.Context, g Goal) (Goal, error)

	// GetGoal returns the goal with shortname in scope.
	GetGoal(ctx context.Context, scope counter.ScopeID, shortname string) (Goal, bool, error)

	// ListGoals returns goals in scope ordered by creation. An empty
	// branch matches all branches.
	ListGoals(ctx context.Context, scope counter.ScopeID, branch counter.Branch, activeOnly bool) ([]Goal, error)

	// DeactivateGoals marks every active goal in scope inactive and
	// returns how many changed.
	DeactivateGoals(ctx context.Context, scope counter.ScopeID) (int, error)

	// ActiveScopes returns every scope with at least one active goal.
	ActiveScopes(ctx context.Context) ([]counter.ScopeID, error)
}
