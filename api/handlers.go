/*
handlers.go - HTTP API handlers for counters and goals

PURPOSE:
  Exposes the counter engine, scoreboard and goals over REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Statistics:
    GET    /api/statistics                                    Known statistics

  Counters (under /api/guilds/{guild}/stats/{stat}):
    GET    /count                         Subjects on the board
    POST   /adjustments                   Record/remove an amount
    GET    /subjects/{subject}            Subject's total (404 if none)
    GET    /subjects/{subject}/rank       0-based rank (absent ranks last at zero)
    GET    /subjects/{subject}/audit      Stored total vs ledger replay
    GET    /scoreboard?at=&limit=&rank=&someone=
    GET    /events?subject=&limit=        Ledger entries
    POST   /purge                         Delete named subjects' totals
    POST   /prune                         Delete all totals except kept subjects

  Goals (under /api/guilds/{guild}/goals):
    GET    /?branch=                      Active goals
    GET    /summary?branch=               Progress summary
    POST   /clear                         Deactivate all active goals
    GET    /{shortname}                   One goal
    PUT    /{shortname}                   Create or update a goal

  Admin:
    POST   /api/admin/goals/rollover      Run the goal rollover now

  Scenarios (only with a Resetter):
    GET    /api/scenarios                 Available demo scenarios
    GET    /api/scenarios/current         Loaded scenario, or null
    POST   /api/scenarios/load            Reset and load a scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, scoreboard, goals)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Store failures (connect, ledger/aggregate write, query)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
	"github.com/AlterionX/auric-regia/scoreboard"
)

// SubjectHeader carries the caller's subject id for "me" scoreboards.
const SubjectHeader = "X-Subject-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *counter.Engine
	Goals    *goals.Service
	Rollover *GoalRolloverScheduler
	Logger   *zap.Logger

	// Resetter enables the demo scenario routes when set.
	Resetter Resetter

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *counter.Engine, goalSvc *goals.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Goals: goalSvc, Logger: logger}
}

// =============================================================================
// STATISTIC HANDLERS
// =============================================================================

// ListStatistics returns the known statistic catalog.
// GET /api/statistics
func (h *Handler) ListStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, counter.Statistics())
}

// =============================================================================
// COUNTER HANDLERS
// =============================================================================

// GetCount returns the number of subjects on a board.
// GET /api/guilds/{guild}/stats/{stat}/count
func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return
	}
	n, err := h.Engine.Count(r.Context(), stat, guild)
	if err != nil {
		h.writeDomainError(w, r, "Failed to count subjects", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// CreateAdjustment records a signed amount for a subject.
// POST /api/guilds/{guild}/stats/{stat}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	agg, err := h.Engine.Adjust(r.Context(), counter.Adjustment{
		Key:     counter.Key{Statistic: stat, Scope: guild, Subject: req.SubjectID},
		Updater: req.UpdaterID,
		Delta:   req.Delta,
		Note:    req.Note,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to apply adjustment", err)
		return
	}

	h.Logger.Info("adjusted counter",
		zap.String("statistic", string(stat)),
		zap.Stringer("guild_id", guild),
		zap.Stringer("subject_id", req.SubjectID),
		zap.Stringer("updater_id", req.UpdaterID),
		zap.Stringer("delta", req.Delta),
		zap.Stringer("total", agg.Total),
	)
	writeJSON(w, http.StatusCreated, toAggregateDTO(agg))
}

// GetAggregate returns one subject's total.
// GET /api/guilds/{guild}/stats/{stat}/subjects/{subject}
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	key, ok := h.subjectKey(w, r)
	if !ok {
		return
	}
	agg, found, err := h.Engine.Load(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, r, "Failed to load total", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "No total recorded for subject", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateDTO(agg))
}

// GetRank returns a subject's rank. Subjects without a total are ranked
// last among subjects at zero.
// GET /api/guilds/{guild}/stats/{stat}/subjects/{subject}/rank
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	key, ok := h.subjectKey(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	rank, err := h.Engine.RankOf(ctx, key)
	if err != nil {
		h.writeDomainError(w, r, "Failed to rank subject", err)
		return
	}
	_, present, err := h.Engine.Load(ctx, key)
	if err != nil {
		h.writeDomainError(w, r, "Failed to load total", err)
		return
	}
	writeJSON(w, http.StatusOK, RankResponse{
		SubjectID: key.Subject,
		Rank:      rank,
		Position:  rank + 1,
		Present:   present,
	})
}

// GetAudit replays a subject's ledger and compares it with the stored total.
// GET /api/guilds/{guild}/stats/{stat}/subjects/{subject}/audit
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	key, ok := h.subjectKey(w, r)
	if !ok {
		return
	}
	a, err := h.Engine.Ledger.Audit(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, r, "Failed to audit total", err)
		return
	}
	if !a.Consistent() {
		h.Logger.Warn("ledger drift",
			zap.Stringer("key", key),
			zap.Stringer("stored", a.Stored),
			zap.Stringer("replayed", a.Replayed),
		)
	}
	writeJSON(w, http.StatusOK, AuditDTO{Audit: a, Consistent: a.Consistent(), Clamped: a.Clamped()})
}

// GetScoreboard returns a window of the board.
// GET /api/guilds/{guild}/stats/{stat}/scoreboard?at=&limit=&rank=&someone=
func (h *Handler) GetScoreboard(w http.ResponseWriter, r *http.Request) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return
	}

	var caller counter.SubjectID
	if raw := r.Header.Get(SubjectHeader); raw != "" {
		id, err := counter.ParseSubjectID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+SubjectHeader+" header", err)
			return
		}
		caller = id
	}

	q := r.URL.Query()
	loc, limit, err := scoreboard.Parse(scoreboard.Query{
		At:      q.Get("at"),
		Rank:    q.Get("rank"),
		Someone: q.Get("someone"),
		Limit:   q.Get("limit"),
	}, caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scoreboard query", err)
		return
	}

	win, err := scoreboard.Resolve(r.Context(), h.Engine, stat, guild, loc, limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to load scoreboard", err)
		return
	}

	info, _ := counter.LookupStatistic(stat)
	rows := make([]ScoreboardRowDTO, len(win.Rows))
	for i, agg := range win.Rows {
		rows[i] = ScoreboardRowDTO{
			Position:  win.StartRank + int64(i),
			SubjectID: agg.Subject,
			Total:     agg.Total,
			Display:   info.Display(agg.Total),
			UpdatedAt: agg.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, ScoreboardResponse{
		Statistic: stat,
		GuildID:   guild,
		At:        loc.Kind.String(),
		Limit:     limit,
		StartRank: win.StartRank,
		Rows:      rows,
	})
}

// ListEvents returns ledger entries for a board, optionally one subject.
// GET /api/guilds/{guild}/stats/{stat}/events?subject=&limit=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return
	}
	filter := counter.EventFilter{Statistic: stat, Scope: guild}

	q := r.URL.Query()
	if raw := q.Get("subject"); raw != "" {
		id, err := counter.ParseSubjectID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid subject", err)
			return
		}
		filter.Target = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	evs, err := h.Engine.Ledger.Events(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list events", err)
		return
	}
	if evs == nil {
		evs = []counter.ChangeEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// Purge deletes the named subjects' totals with compensating ledger entries.
// POST /api/guilds/{guild}/stats/{stat}/purge
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return
	}
	var req PurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	// Resolve within this board so ids from another guild cannot be named.
	rows, err := h.Engine.Lookup(ctx, stat, guild, req.SubjectIDs)
	if err != nil {
		h.writeDomainError(w, r, "Failed to resolve subjects", err)
		return
	}
	ids := make([]counter.AggregateID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	n, err := h.Engine.Purge(ctx, req.DeleterID, ids)
	if err != nil {
		h.writeDomainError(w, r, "Failed to purge totals", err)
		return
	}
	h.Logger.Info("purged totals",
		zap.String("statistic", string(stat)),
		zap.Stringer("guild_id", guild),
		zap.Stringer("deleter_id", req.DeleterID),
		zap.Int("deleted", n),
	)
	writeJSON(w, http.StatusOK, PurgeResponse{Deleted: n})
}

// Prune deletes every total on the board except the kept subjects.
// POST /api/guilds/{guild}/stats/{stat}/prune
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return
	}
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	keep := make(map[counter.SubjectID]bool, len(req.Keep))
	for _, id := range req.Keep {
		keep[id] = true
	}
	n, err := h.Engine.Prune(r.Context(), stat, guild, req.DeleterID, func(a counter.Aggregate) bool {
		return keep[a.Subject]
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to prune totals", err)
		return
	}
	h.Logger.Info("pruned totals",
		zap.String("statistic", string(stat)),
		zap.Stringer("guild_id", guild),
		zap.Stringer("deleter_id", req.DeleterID),
		zap.Int("kept", len(keep)),
		zap.Int("deleted", n),
	)
	writeJSON(w, http.StatusOK, PurgeResponse{Deleted: n})
}

// =============================================================================
// GOAL HANDLERS
// =============================================================================

// ListGoals returns the active goals of a guild.
// GET /api/guilds/{guild}/goals?branch=
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	guild, ok := h.guild(w, r)
	if !ok {
		return
	}
	list, err := h.Goals.List(r.Context(), guild, counter.Branch(r.URL.Query().Get("branch")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list goals", err)
		return
	}
	if list == nil {
		list = []goals.Goal{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetGoal returns one goal.
// GET /api/guilds/{guild}/goals/{shortname}
func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	guild, ok := h.guild(w, r)
	if !ok {
		return
	}
	g, err := h.Goals.Get(r.Context(), guild, chi.URLParam(r, "shortname"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load goal", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// SetGoal creates or updates a goal.
// PUT /api/guilds/{guild}/goals/{shortname}
func (h *Handler) SetGoal(w http.ResponseWriter, r *http.Request) {
	guild, ok := h.guild(w, r)
	if !ok {
		return
	}
	var req GoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.Goals.Set(r.Context(), goals.SetRequest{
		Scope:     guild,
		Updater:   req.UpdaterID,
		Branch:    req.Branch,
		Shortname: chi.URLParam(r, "shortname"),
		Header:    req.Header,
		Body:      req.Body,
		Progress:  req.Progress,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to save goal", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetGoalSummary returns the progress summary for a branch.
// GET /api/guilds/{guild}/goals/summary?branch=
func (h *Handler) GetGoalSummary(w http.ResponseWriter, r *http.Request) {
	guild, ok := h.guild(w, r)
	if !ok {
		return
	}
	sum, err := h.Goals.Summary(r.Context(), guild, counter.Branch(r.URL.Query().Get("branch")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to summarize goals", err)
		return
	}
	writeJSON(w, http.StatusOK, GoalSummaryDTO{Summary: sum, Percent: sum.Overall.Percent()})
}

// ClearGoals deactivates all active goals of a guild.
// POST /api/guilds/{guild}/goals/clear
func (h *Handler) ClearGoals(w http.ResponseWriter, r *http.Request) {
	guild, ok := h.guild(w, r)
	if !ok {
		return
	}
	n, err := h.Goals.Clear(r.Context(), guild)
	if err != nil {
		h.writeDomainError(w, r, "Failed to clear goals", err)
		return
	}
	writeJSON(w, http.StatusOK, ClearGoalsResponse{Cleared: n})
}

// TriggerGoalRollover runs the monthly rollover immediately.
// POST /api/admin/goals/rollover
func (h *Handler) TriggerGoalRollover(w http.ResponseWriter, r *http.Request) {
	if h.Rollover == nil {
		writeError(w, http.StatusNotFound, "Goal rollover is not configured", nil)
		return
	}
	res, err := h.Rollover.RunNow(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Goal rollover failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) guild(w http.ResponseWriter, r *http.Request) (counter.ScopeID, bool) {
	guild, err := counter.ParseScopeID(chi.URLParam(r, "guild"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid guild id", err)
		return 0, false
	}
	return guild, true
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) (counter.Statistic, counter.ScopeID, bool) {
	guild, ok := h.guild(w, r)
	if !ok {
		return "", 0, false
	}
	stat := counter.Statistic(chi.URLParam(r, "stat"))
	if err := stat.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid statistic", err)
		return "", 0, false
	}
	return stat, guild, true
}

func (h *Handler) subjectKey(w http.ResponseWriter, r *http.Request) (counter.Key, bool) {
	stat, guild, ok := h.board(w, r)
	if !ok {
		return counter.Key{}, false
	}
	subject, err := counter.ParseSubjectID(chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subject id", err)
		return counter.Key{}, false
	}
	return counter.Key{Statistic: stat, Scope: guild, Subject: subject}, true
}

// writeDomainError maps engine, scoreboard and goal errors to a status.
// Store failures are logged and reported without their cause.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case counter.IsClientError(err),
		errors.Is(err, scoreboard.ErrInvalidLimit),
		errors.Is(err, scoreboard.ErrInvalidRank),
		errors.Is(err, scoreboard.ErrInvalidLocator),
		errors.Is(err, goals.ErrInvalidGoal):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, goals.ErrGoalNotFound):
		writeError(w, http.StatusNotFound, message, err)
	default:
		fields := []zap.Field{zap.String("path", r.URL.Path), zap.Error(err)}
		var serr *counter.Error
		if errors.As(err, &serr) {
			fields = append(fields, zap.Stringer("kind", serr.Kind), zap.String("op", serr.Op))
		}
		h.Logger.Error(message, fields...)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
