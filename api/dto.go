/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the counter model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

IDENTITIES AND AMOUNTS:
  Guild and subject ids are JSON strings (snowflakes exceed 2^53).
  Totals and deltas are decimal strings; requests also accept numbers.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
)

// =============================================================================
// COUNTERS
// =============================================================================

// AggregateDTO is one subject's total.
type AggregateDTO struct {
	ID        counter.AggregateID `json:"id"`
	Statistic counter.Statistic   `json:"statistic"`
	GuildID   counter.ScopeID     `json:"guild_id"`
	SubjectID counter.SubjectID   `json:"subject_id"`
	Total     decimal.Decimal     `json:"total"`
	Display   decimal.Decimal     `json:"display"`
	Unit      string              `json:"unit,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// AdjustmentRequest records or removes an amount for a subject.
type AdjustmentRequest struct {
	UpdaterID counter.SubjectID `json:"updater_id"`
	SubjectID counter.SubjectID `json:"subject_id"`
	Delta     decimal.Decimal   `json:"delta"`
	Note      string            `json:"note,omitempty"`
}

// CountResponse is the number of subjects on a board.
type CountResponse struct {
	Count int64 `json:"count"`
}

// RankResponse is a subject's place on a board.
type RankResponse struct {
	SubjectID counter.SubjectID `json:"subject_id"`
	// Rank is 0-based: the number of subjects ahead.
	Rank int64 `json:"rank"`
	// Position is 1-based.
	Position int64 `json:"position"`
	Present  bool  `json:"present"`
}

// ScoreboardRowDTO is one ranked row.
type ScoreboardRowDTO struct {
	Position  int64             `json:"position"`
	SubjectID counter.SubjectID `json:"subject_id"`
	Total     decimal.Decimal   `json:"total"`
	Display   decimal.Decimal   `json:"display"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ScoreboardResponse is a resolved scoreboard window.
type ScoreboardResponse struct {
	Statistic counter.Statistic  `json:"statistic"`
	GuildID   counter.ScopeID    `json:"guild_id"`
	At        string             `json:"at"`
	Limit     int64              `json:"limit"`
	StartRank int64              `json:"start_rank"`
	Rows      []ScoreboardRowDTO `json:"rows"`
}

// PurgeRequest deletes the named subjects' totals.
type PurgeRequest struct {
	DeleterID  counter.SubjectID   `json:"deleter_id"`
	SubjectIDs []counter.SubjectID `json:"subject_ids"`
}

// PruneRequest deletes every total on a board except the kept subjects.
type PruneRequest struct {
	DeleterID counter.SubjectID   `json:"deleter_id"`
	Keep      []counter.SubjectID `json:"keep"`
}

// PurgeResponse reports how many totals were deleted.
type PurgeResponse struct {
	Deleted int `json:"deleted"`
}

// AuditDTO compares a stored total with its ledger replay.
type AuditDTO struct {
	counter.Audit
	Consistent bool `json:"consistent"`
	Clamped    bool `json:"clamped"`
}

// =============================================================================
// GOALS
// =============================================================================

// GoalRequest sets a goal. Omitted fields keep their stored value.
type GoalRequest struct {
	UpdaterID counter.SubjectID `json:"updater_id"`
	Branch    counter.Branch    `json:"branch,omitempty"`
	Header    *string           `json:"header,omitempty"`
	Body      *string           `json:"body,omitempty"`
	Progress  *int16            `json:"progress,omitempty"`
}

// GoalSummaryDTO is a summary with its percentage precomputed.
type GoalSummaryDTO struct {
	goals.Summary
	Percent int64 `json:"percent"`
}

// ClearGoalsResponse reports how many goals were deactivated.
type ClearGoalsResponse struct {
	Cleared int `json:"cleared"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "counters" or "goals"
}

// LoadScenarioRequest names the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAggregateDTO(a counter.Aggregate) AggregateDTO {
	info, _ := counter.LookupStatistic(a.Statistic)
	return AggregateDTO{
		ID:        a.ID,
		Statistic: a.Statistic,
		GuildID:   a.Scope,
		SubjectID: a.Subject,
		Total:     a.Total,
		Display:   info.Display(a.Total),
		Unit:      info.Unit,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
