package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
)

// =============================================================================
// GOAL STORE (goals.Store interface)
// =============================================================================

const selectGoal = `
	SELECT id, guild_id, updater, branch, shortname, header, body, progress, active, created_at, updated_at
	FROM monthly_goals`

// UpsertGoal inserts or replaces the goal with the same (guild, shortname).
func (s *Store) UpsertGoal(ctx context.Context, g goals.Goal) (goals.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monthly_goals
		(guild_id, updater, branch, shortname, header, body, progress, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		ON CONFLICT(guild_id, shortname) DO UPDATE SET
			updater = excluded.updater,
			branch = excluded.branch,
			header = excluded.header,
			body = excluded.body,
			progress = excluded.progress,
			active = TRUE,
			updated_at = excluded.updated_at
	`,
		g.Scope.String(),
		g.Updater.String(),
		string(g.Branch),
		g.Shortname,
		g.Header,
		g.Body,
		g.Progress,
		now, now,
	)
	if err != nil {
		return goals.Goal{}, fmt.Errorf("failed to save goal: %w", err)
	}

	out, _, err := s.getGoal(ctx, g.Scope, g.Shortname)
	return out, err
}

// GetGoal returns the goal with shortname in scope.
func (s *Store) GetGoal(ctx context.Context, scope counter.ScopeID, shortname string) (goals.Goal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getGoal(ctx, scope, shortname)
}

func (s *Store) getGoal(ctx context.Context, scope counter.ScopeID, shortname string) (goals.Goal, bool, error) {
	row := s.db.QueryRowContext(ctx, selectGoal+` WHERE guild_id = ? AND shortname = ?`,
		scope.String(), shortname)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return goals.Goal{}, false, nil
	}
	if err != nil {
		return goals.Goal{}, false, err
	}
	return g, true, nil
}

// ListGoals returns goals in scope in creation order.
func (s *Store) ListGoals(ctx context.Context, scope counter.ScopeID, branch counter.Branch, activeOnly bool) ([]goals.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectGoal + ` WHERE guild_id = ?`
	args := []any{scope.String()}
	if branch != "" {
		query += ` AND branch = ?`
		args = append(args, string(branch))
	}
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var out []goals.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeactivateGoals marks every active goal in scope inactive.
func (s *Store) DeactivateGoals(ctx context.Context, scope counter.ScopeID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE monthly_goals SET active = FALSE, updated_at = ? WHERE guild_id = ? AND active`,
		formatTime(s.now()), scope.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear goals: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ActiveScopes returns every guild with an active goal.
func (s *Store) ActiveScopes(ctx context.Context) ([]counter.ScopeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT guild_id FROM monthly_goals WHERE active ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal scopes: %w", err)
	}
	defer rows.Close()

	var out []counter.ScopeID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := counter.ParseScopeID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanGoal(row scanner) (goals.Goal, error) {
	var (
		g                    goals.Goal
		guild, updater       string
		branch               string
		createdAt, updatedAt string
	)
	err := row.Scan(&g.ID, &guild, &updater, &branch, &g.Shortname, &g.Header, &g.Body,
		&g.Progress, &g.Active, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return g, err
		}
		return g, fmt.Errorf("failed to scan goal: %w", err)
	}

	g.Branch = counter.Branch(branch)
	if g.Scope, err = counter.ParseScopeID(guild); err != nil {
		return g, err
	}
	if g.Updater, err = counter.ParseSubjectID(updater); err != nil {
		return g, err
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return g, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return g, err
	}
	return g, nil
}
