package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
)

const goalColumns = `id, guild_id, updater, branch, shortname, header, body, progress, active, created_at, updated_at`

func (s *Store) UpsertGoal(ctx context.Context, g goals.Goal) (goals.Goal, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO monthly_goals (guild_id, updater, branch, shortname, header, body, progress, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (guild_id, shortname) DO UPDATE SET
			updater = EXCLUDED.updater,
			branch = EXCLUDED.branch,
			header = EXCLUDED.header,
			body = EXCLUDED.body,
			progress = EXCLUDED.progress,
			active = TRUE,
			updated_at = clock_timestamp()
		RETURNING `+goalColumns,
		idNumeric(uint64(g.Scope)),
		idNumeric(uint64(g.Updater)),
		string(g.Branch),
		g.Shortname,
		g.Header,
		g.Body,
		g.Progress,
	)
	out, err := scanGoal(row)
	if err != nil {
		return goals.Goal{}, fmt.Errorf("save goal: %w", err)
	}
	return out, nil
}

func (s *Store) GetGoal(ctx context.Context, scope counter.ScopeID, shortname string) (goals.Goal, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM monthly_goals
		WHERE guild_id = $1 AND shortname = $2`,
		idNumeric(uint64(scope)), shortname)
	g, err := scanGoal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return goals.Goal{}, false, nil
	}
	if err != nil {
		return goals.Goal{}, false, fmt.Errorf("load goal: %w", err)
	}
	return g, true, nil
}

func (s *Store) ListGoals(ctx context.Context, scope counter.ScopeID, branch counter.Branch, activeOnly bool) ([]goals.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM monthly_goals
		WHERE guild_id = $1
		  AND ($2 = '' OR branch = $2)
		  AND (NOT $3 OR active)
		ORDER BY created_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, idNumeric(uint64(scope)), string(branch), activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var out []goals.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateGoals(ctx context.Context, scope counter.ScopeID) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE monthly_goals SET active = FALSE, updated_at = clock_timestamp()
		WHERE guild_id = $1 AND active`,
		idNumeric(uint64(scope)))
	if err != nil {
		return 0, fmt.Errorf("clear goals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ActiveScopes(ctx context.Context) ([]counter.ScopeID, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT guild_id FROM monthly_goals WHERE active ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("query goal scopes: %w", err)
	}
	defer rows.Close()

	var out []counter.ScopeID
	for rows.Next() {
		var id numericID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan goal scope: %w", err)
		}
		out = append(out, counter.ScopeID(id))
	}
	return out, rows.Err()
}

func scanGoal(row pgx.Row) (goals.Goal, error) {
	var (
		g              goals.Goal
		guild, updater numericID
		branch         string
	)
	err := row.Scan(&g.ID, &guild, &updater, &branch, &g.Shortname, &g.Header, &g.Body,
		&g.Progress, &g.Active, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return goals.Goal{}, err
	}
	g.Scope = counter.ScopeID(guild)
	g.Updater = counter.SubjectID(updater)
	g.Branch = counter.Branch(branch)
	return g, nil
}
