/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with boards
	and goals that demonstrate specific behaviors. Every adjustment goes
	through the engine, so the ledger and totals stay consistent.

AVAILABLE SCENARIOS:

	tied-board:       Equal totals ordered by who got there first
	floor-ratchet:    Removals that hit the floor and later additions
	large-identities: Snowflake ids above 2^63 and fractional amounts
	monthly-goals:    Goals across every branch with a main summary

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Apply adjustments in a fixed order for guild DemoGuild
 3. Optionally set goals

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tied-board"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the database. The routes only respond when a
	Resetter is configured (AURIC_SCENARIOS_ENABLED).

SEE ALSO:
  - handlers.go: Handler and error helpers
  - scoreboard/scoreboard.go: How the loaded boards are read
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
)

// Demo identities used by every scenario.
const (
	DemoGuild     counter.ScopeID   = 1000
	DemoModerator counter.SubjectID = 1
)

// Resetter clears all stored data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "tied-board",
		Name:        "Tied Board",
		Description: "Industry profit with equal totals broken by earliest update",
		Category:    "counters",
	},
	{
		ID:          "floor-ratchet",
		Name:        "Floor Ratchet",
		Description: "Legion kills where removals hit zero before later additions",
		Category:    "counters",
	},
	{
		ID:          "large-identities",
		Name:        "Large Identities",
		Description: "Naval victories for snowflake ids with fractional amounts",
		Category:    "counters",
	},
	{
		ID:          "monthly-goals",
		Name:        "Monthly Goals",
		Description: "Active goals in every branch rolled up into the main summary",
		Category:    "goals",
	},
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"tied-board":       h.loadTiedBoardScenario,
		"floor-ratchet":    h.loadFloorRatchetScenario,
		"large-identities": h.loadLargeIdentitiesScenario,
		"monthly-goals":    h.loadMonthlyGoalsScenario,
	}
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if !h.scenariosEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if !h.scenariosEnabled(w) {
		return
	}
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !h.scenariosEnabled(w) {
		return
	}
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Resetter.Reset(ctx); err != nil {
		h.writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Sprintf("Failed to load scenario %q", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info("loaded scenario", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) scenariosEnabled(w http.ResponseWriter) bool {
	if h.Resetter == nil {
		writeError(w, http.StatusNotFound, "Scenarios are disabled", nil)
		return false
	}
	return true
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoAdjustment struct {
	stat    counter.Statistic
	subject counter.SubjectID
	delta   string
	note    string
}

func (h *Handler) applyDemo(ctx context.Context, adjs []demoAdjustment) error {
	for _, a := range adjs {
		_, err := h.Engine.Adjust(ctx, counter.Adjustment{
			Key:     counter.Key{Statistic: a.stat, Scope: DemoGuild, Subject: a.subject},
			Updater: DemoModerator,
			Delta:   decimal.RequireFromString(a.delta),
			Note:    a.note,
		})
		if err != nil {
			return fmt.Errorf("adjust %s by %s: %w", a.subject, a.delta, err)
		}
	}
	return nil
}

func (h *Handler) loadTiedBoardScenario(ctx context.Context) error {
	// 11, 12 and 13 all end at 500; 12 reaches it first, then 13, then 11.
	return h.applyDemo(ctx, []demoAdjustment{
		{counter.StatIndustryProfit, 10, "1200", "salvage run"},
		{counter.StatIndustryProfit, 11, "300", ""},
		{counter.StatIndustryProfit, 12, "500", "quantanium haul"},
		{counter.StatIndustryProfit, 13, "250", ""},
		{counter.StatIndustryProfit, 13, "250", ""},
		{counter.StatIndustryProfit, 11, "200", ""},
		{counter.StatIndustryProfit, 14, "75", ""},
		{counter.StatIndustryProfit, 15, "-40", "correction before any profit"},
	})
}

func (h *Handler) loadFloorRatchetScenario(ctx context.Context) error {
	// 20 ends at 10 (a plain sum would be 6); 21 ends at 2 (clamping
	// the sum would give 0).
	return h.applyDemo(ctx, []demoAdjustment{
		{counter.StatLegionKills, 20, "1", ""},
		{counter.StatLegionKills, 20, "-5", "disputed"},
		{counter.StatLegionKills, 20, "10", ""},
		{counter.StatLegionKills, 21, "-5", ""},
		{counter.StatLegionKills, 21, "3", ""},
		{counter.StatLegionKills, 21, "-1", ""},
		{counter.StatLegionKills, 22, "4", ""},
	})
}

func (h *Handler) loadLargeIdentitiesScenario(ctx context.Context) error {
	return h.applyDemo(ctx, []demoAdjustment{
		{counter.StatNavalVictories, 18446744073709551615, "2.25", ""},
		{counter.StatNavalVictories, 9223372036854775808, "2.25", ""},
		{counter.StatNavalVictories, 9223372036854775807, "0.5", ""},
		{counter.StatNavalVictories, 1, "3", ""},
		{counter.StatNavalTackleAssists, 18446744073709551615, "7", ""},
	})
}

func (h *Handler) loadMonthlyGoalsScenario(ctx context.Context) error {
	demo := []struct {
		branch    counter.Branch
		shortname string
		header    string
		progress  int16
	}{
		{counter.BranchMain, "recruit", "Recruit ten members", 40},
		{counter.BranchMain, "event-night", "Host a community event", 100},
		{counter.BranchNavy, "fleet-drill", "Run two fleet drills", 50},
		{counter.BranchLegion, "hold-the-line", "Win three ground engagements", 33},
		{counter.BranchIndustry, "refinery", "Refine 1M aUEC of ore", 0},
	}
	for _, g := range demo {
		header, body, progress := g.header, "", g.progress
		_, err := h.Goals.Set(ctx, goals.SetRequest{
			Scope:     DemoGuild,
			Updater:   DemoModerator,
			Branch:    g.branch,
			Shortname: g.shortname,
			Header:    &header,
			Body:      &body,
			Progress:  &progress,
		})
		if err != nil {
			return fmt.Errorf("set goal %q: %w", g.shortname, err)
		}
	}
	return nil
}
