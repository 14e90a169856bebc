package goals

import (
	"context"
	"fmt"

	"github.com/AlterionX/auric-regia/counter"
)

// SetRequest creates or updates a goal. Nil fields keep the stored value
// on update; Header and Body are required on create.
type SetRequest struct {
	Scope     counter.ScopeID
	Updater   counter.SubjectID
	Branch    counter.Branch
	Shortname string
	Header    *string
	Body      *string
	Progress  *int16
}

// Progress is achieved versus possible progress points.
type Progress struct {
	Branch   counter.Branch `json:"branch"`
	Achieved int64          `json:"achieved"`
	Possible int64          `json:"possible"`
}

// Percent is Achieved/Possible as a whole percentage. Zero possible gives
// zero.
func (p Progress) Percent() int64 {
	if p.Possible <= 0 {
		return 0
	}
	return p.Achieved * 100 / p.Possible
}

func (p *Progress) add(g Goal) {
	p.Achieved += int64(g.Progress)
	p.Possible += MaxProgress
}

// Summary is the rolled-up progress for one branch.
type Summary struct {
	Overall  Progress   `json:"overall"`
	Branches []Progress `json:"branches,omitempty"`
	Goals    []Goal     `json:"goals"`
}

// Service validates goal changes and computes summaries.
type Service struct {
	Store Store
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

// Set creates the goal or merges the request into the existing one.
// Setting a goal always reactivates it.
func (s *Service) Set(ctx context.Context, req SetRequest) (Goal, error) {
	existing, ok, err := s.Store.GetGoal(ctx, req.Scope, req.Shortname)
	if err != nil {
		return Goal{}, err
	}

	g := existing
	if !ok {
		if req.Header == nil || req.Body == nil {
			return Goal{}, fmt.Errorf("%w: header and body are required for a new goal", ErrInvalidGoal)
		}
		g = Goal{Scope: req.Scope, Shortname: req.Shortname, Branch: counter.BranchMain}
	}
	g.Updater = req.Updater
	if req.Branch != "" {
		g.Branch = req.Branch
	}
	if req.Header != nil {
		g.Header = *req.Header
	}
	if req.Body != nil {
		g.Body = *req.Body
	}
	if req.Progress != nil {
		g.Progress = *req.Progress
	}
	g.Active = true

	if err := g.Validate(); err != nil {
		return Goal{}, err
	}
	return s.Store.UpsertGoal(ctx, g)
}

// Get returns one goal, active or not.
func (s *Service) Get(ctx context.Context, scope counter.ScopeID, shortname string) (Goal, error) {
	g, ok, err := s.Store.GetGoal(ctx, scope, shortname)
	if err != nil {
		return Goal{}, err
	}
	if !ok {
		return Goal{}, fmt.Errorf("%w: %q", ErrGoalNotFound, shortname)
	}
	return g, nil
}

// List returns the active goals of a scope, optionally for one branch.
func (s *Service) List(ctx context.Context, scope counter.ScopeID, branch counter.Branch) ([]Goal, error) {
	if branch != "" && !branch.Valid() {
		return nil, fmt.Errorf("%w: unknown branch %q", ErrInvalidGoal, branch)
	}
	return s.Store.ListGoals(ctx, scope, branch, true)
}

// Clear deactivates every active goal in scope.
func (s *Service) Clear(ctx context.Context, scope counter.ScopeID) (int, error) {
	return s.Store.DeactivateGoals(ctx, scope)
}

// Summary rolls up the active goals of scope for branch.
func (s *Service) Summary(ctx context.Context, scope counter.ScopeID, branch counter.Branch) (Summary, error) {
	if branch == "" {
		branch = counter.BranchMain
	}
	if !branch.Valid() {
		return Summary{}, fmt.Errorf("%w: unknown branch %q", ErrInvalidGoal, branch)
	}
	active, err := s.Store.ListGoals(ctx, scope, "", true)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(branch, active), nil
}

// Summarize computes a Summary from a scope's active goals.
func Summarize(branch counter.Branch, active []Goal) Summary {
	sum := Summary{Overall: Progress{Branch: branch}, Goals: []Goal{}}

	perBranch := make(map[counter.Branch]*Progress)
	for _, g := range active {
		if g.Branch == branch {
			sum.Goals = append(sum.Goals, g)
			sum.Overall.add(g)
			continue
		}
		if branch != counter.BranchMain {
			continue
		}
		p, ok := perBranch[g.Branch]
		if !ok {
			p = &Progress{Branch: g.Branch}
			perBranch[g.Branch] = p
		}
		p.add(g)
	}

	for _, b := range counter.Branches() {
		p, ok := perBranch[b]
		if !ok {
			continue
		}
		sum.Branches = append(sum.Branches, *p)
		sum.Overall.Achieved += p.Achieved
		sum.Overall.Possible += p.Possible
	}
	return sum
}

// ActiveScopes lists scopes that currently have active goals.
func (s *Service) ActiveScopes(ctx context.Context) ([]counter.ScopeID, error) {
	return s.Store.ActiveScopes(ctx)
}
