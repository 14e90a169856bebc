/*
scheduler.go - Monthly goal rollover scheduler

PURPOSE:
  At the start of each month, records the closing summary of every guild
  that has active goals and then deactivates those goals so the new month
  starts empty.

DESIGN:
  - Runs a background goroutine that sleeps until the next cron fire time
  - Each run walks the guilds with active goals, one at a time
  - A failing guild is logged and skipped; the others still roll over
  - Deactivated goals stay in the store and can be reactivated by setting
    them again

CONFIGURATION:
  - Spec: 5-field cron expression (default "0 0 1 * *", midnight on the 1st)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewGoalRolloverScheduler(goalSvc, "0 0 1 * *", logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerGoalRollover endpoint (manual rollover)
  - goals/service.go: Summary and Clear
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/AlterionX/auric-regia/config"
	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
)

// RolloverGuild is the outcome for one guild.
type RolloverGuild struct {
	GuildID counter.ScopeID `json:"guild_id"`
	Percent int64           `json:"percent"`
	Cleared int             `json:"cleared"`
	Error   string          `json:"error,omitempty"`
}

// RolloverResult is the outcome of one rollover run.
type RolloverResult struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Guilds     []RolloverGuild `json:"guilds"`
	Failed     int             `json:"failed"`
}

// GoalRolloverScheduler deactivates active goals on a cron schedule.
type GoalRolloverScheduler struct {
	Goals   *goals.Service
	Spec    string
	Enabled bool
	Logger  *zap.Logger

	// Now is the clock used to compute fire times.
	Now func() time.Time

	schedule cronlib.Schedule
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	runMu    sync.Mutex
	running  bool
}

// NewGoalRolloverScheduler creates a new scheduler.
func NewGoalRolloverScheduler(svc *goals.Service, spec string, logger *zap.Logger) *GoalRolloverScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoalRolloverScheduler{
		Goals:   svc,
		Spec:    spec,
		Enabled: true,
		Logger:  logger.Named("goal_rollover"),
		Now:     time.Now,
	}
}

// Start parses Spec and begins the scheduler. It is a no-op when disabled
// or already running.
func (s *GoalRolloverScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return nil
	}
	if s.running {
		return nil
	}

	sched, err := config.CronParser.Parse(s.Spec)
	if err != nil {
		return fmt.Errorf("parse rollover schedule %q: %w", s.Spec, err)
	}
	s.schedule = sched
	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("started", zap.String("spec", s.Spec), zap.Time("next_run", s.NextRunTime()))
	return nil
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *GoalRolloverScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.Logger.Info("stopped")
}

// NextRunTime returns when the next scheduled rollover will occur. It is
// the zero time when the scheduler has not been started.
func (s *GoalRolloverScheduler) NextRunTime() time.Time {
	if s.schedule == nil {
		return time.Time{}
	}
	return s.schedule.Next(s.Now())
}

func (s *GoalRolloverScheduler) run() {
	defer s.wg.Done()

	for {
		wait := time.Until(s.NextRunTime())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				s.Logger.Error("scheduled rollover failed", zap.Error(err))
			}
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// RunNow rolls over every guild with active goals immediately. Runs never
// overlap; a second caller waits for the first to finish.
func (s *GoalRolloverScheduler) RunNow(ctx context.Context) (RolloverResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res := RolloverResult{StartedAt: s.Now(), Guilds: []RolloverGuild{}}

	scopes, err := s.Goals.ActiveScopes(ctx)
	if err != nil {
		return res, fmt.Errorf("list guilds with active goals: %w", err)
	}

	for _, scope := range scopes {
		g := s.rollover(ctx, scope)
		if g.Error != "" {
			res.Failed++
		}
		res.Guilds = append(res.Guilds, g)
	}
	res.FinishedAt = s.Now()

	if len(res.Guilds) > 0 {
		s.Logger.Info("rollover completed",
			zap.Int("guilds", len(res.Guilds)),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (s *GoalRolloverScheduler) rollover(ctx context.Context, scope counter.ScopeID) RolloverGuild {
	g := RolloverGuild{GuildID: scope}

	sum, err := s.Goals.Summary(ctx, scope, counter.BranchMain)
	if err != nil {
		s.Logger.Error("summarize goals", zap.Stringer("guild_id", scope), zap.Error(err))
		g.Error = err.Error()
		return g
	}
	g.Percent = sum.Overall.Percent()

	n, err := s.Goals.Clear(ctx, scope)
	if err != nil {
		s.Logger.Error("clear goals", zap.Stringer("guild_id", scope), zap.Error(err))
		g.Error = err.Error()
		return g
	}
	g.Cleared = n

	s.Logger.Info("closed month",
		zap.Stringer("guild_id", scope),
		zap.Int64("achieved", sum.Overall.Achieved),
		zap.Int64("possible", sum.Overall.Possible),
		zap.Int64("percent", g.Percent),
		zap.Int("cleared", n),
	)
	return g
}
