/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Boards are ordered as described
	- Ledger replays match stored totals
	- Goals roll up into the main summary

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
	"github.com/AlterionX/auric-regia/store/sqlite"
)

func setupScenarioHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}

	h := NewHandler(counter.NewEngine(store), goals.NewService(store), nil)
	h.Resetter = store
	return h, NewRouter(h, nil)
}

func boardSubjects(t *testing.T, h *Handler, stat counter.Statistic) []counter.SubjectID {
	t.Helper()
	rows, err := h.Engine.LoadWindow(context.Background(), stat, DemoGuild, 0, 100, counter.FromTop)
	require.NoError(t, err)
	out := make([]counter.SubjectID, len(rows))
	for i, r := range rows {
		out[i] = r.Subject
	}
	return out
}

func TestScenario_TiedBoard(t *testing.T) {
	// GIVEN: The tied-board scenario
	// WHEN: Loading it
	// THEN: Subjects tied at 500 are ordered by who reached it first

	h, _ := setupScenarioHandler(t)
	require.NoError(t, h.loadTiedBoardScenario(context.Background()))

	assert.Equal(t,
		[]counter.SubjectID{10, 12, 13, 11, 14, 15},
		boardSubjects(t, h, counter.StatIndustryProfit))
}

func TestScenario_FloorRatchet(t *testing.T) {
	h, _ := setupScenarioHandler(t)
	ctx := context.Background()
	require.NoError(t, h.loadFloorRatchetScenario(ctx))

	audit, err := h.Engine.Ledger.Audit(ctx, counter.Key{Statistic: counter.StatLegionKills, Scope: DemoGuild, Subject: 20})
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
	assert.Equal(t, "10", audit.Stored.String())
	assert.Equal(t, "6", audit.Summed.String())

	audit, err = h.Engine.Ledger.Audit(ctx, counter.Key{Statistic: counter.StatLegionKills, Scope: DemoGuild, Subject: 21})
	require.NoError(t, err)
	assert.Equal(t, "2", audit.Stored.String())
	assert.True(t, audit.Clamped())
}

func TestScenario_LargeIdentities(t *testing.T) {
	h, _ := setupScenarioHandler(t)
	require.NoError(t, h.loadLargeIdentitiesScenario(context.Background()))

	assert.Equal(t,
		[]counter.SubjectID{1, 18446744073709551615, 9223372036854775808, 9223372036854775807},
		boardSubjects(t, h, counter.StatNavalVictories))
}

func TestScenario_MonthlyGoals(t *testing.T) {
	h, _ := setupScenarioHandler(t)
	ctx := context.Background()
	require.NoError(t, h.loadMonthlyGoalsScenario(ctx))

	sum, err := h.Goals.Summary(ctx, DemoGuild, counter.BranchMain)
	require.NoError(t, err)
	assert.Equal(t, int64(223), sum.Overall.Achieved)
	assert.Equal(t, int64(500), sum.Overall.Possible)
	assert.Equal(t, int64(44), sum.Overall.Percent())
	assert.Len(t, sum.Branches, 3)
}

func TestLoadScenario_ResetsBetweenLoads(t *testing.T) {
	_, router := setupScenarioHandler(t)

	rec := call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "tied-board"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "floor-ratchet"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodGet, "/api/guilds/1000/stats/industry_profit/count", nil)
	assert.Equal(t, int64(0), decode[CountResponse](t, rec).Count)

	rec = call(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "floor-ratchet", decode[ScenarioDTO](t, rec).ID)

	rec = call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_DisabledWithoutResetter(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodGet, "/api/scenarios", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		call(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "tied-board"}).Code)
}
