// Command auricctl administers counters and goals directly against the
// configured store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AlterionX/auric-regia/config"
	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
	"github.com/AlterionX/auric-regia/logging"
	"github.com/AlterionX/auric-regia/scoreboard"
	"github.com/AlterionX/auric-regia/store"
)

// app is opened lazily by each command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	backend store.Backend
	engine  *counter.Engine
	goals   *goals.Service
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:          "auricctl",
		Short:        "Auric Regia counter administration",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.AddCommand(
		newMigrateCmd(a),
		newAdjustCmd(a),
		newScoreboardCmd(a),
		newPurgeCmd(a),
		newPruneCmd(a),
		newAuditCmd(a),
		newGoalsCmd(a),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	backend, kind, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Debug("store ready", zap.String("backend", kind))

	a.cfg = cfg
	a.logger = logger
	a.backend = backend
	a.engine = counter.NewEngine(backend)
	a.goals = goals.NewService(backend)
	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create any missing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.backend.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newAdjustCmd(a *app) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "adjust <guild> <statistic> <updater> <subject> <delta>",
		Short: "Record (positive delta) or remove (negative delta) an amount",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, guild, err := parseBoard(args[0], args[1])
			if err != nil {
				return err
			}
			updater, err := counter.ParseSubjectID(args[2])
			if err != nil {
				return err
			}
			subject, err := counter.ParseSubjectID(args[3])
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[4])
			if err != nil {
				return fmt.Errorf("invalid delta %q: %w", args[4], err)
			}

			info, _ := counter.LookupStatistic(stat)
			agg, err := a.engine.Adjust(cmd.Context(), counter.Adjustment{
				Key:     counter.Key{Statistic: stat, Scope: guild, Subject: subject},
				Updater: updater,
				Delta:   info.Store(amount),
				Note:    note,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now at %s %s\n", subject, info.Display(agg.Total), info.Unit)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note stored with the change")
	return cmd
}

func newScoreboardCmd(a *app) *cobra.Command {
	var q scoreboard.Query
	var caller string
	cmd := &cobra.Command{
		Use:   "scoreboard <guild> <statistic>",
		Short: "Print a window of the board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, guild, err := parseBoard(args[0], args[1])
			if err != nil {
				return err
			}
			var me counter.SubjectID
			if caller != "" {
				if me, err = counter.ParseSubjectID(caller); err != nil {
					return err
				}
			}
			loc, limit, err := scoreboard.Parse(q, me)
			if err != nil {
				return err
			}
			win, err := scoreboard.Resolve(cmd.Context(), a.engine, stat, guild, loc, limit)
			if err != nil {
				return err
			}

			info, _ := counter.LookupStatistic(stat)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "#\tSUBJECT\t%s\n", strings.ToUpper(info.Title))
			for i, row := range win.Rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", win.StartRank+int64(i), row.Subject, info.Display(row.Total))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&q.At, "at", "", "top, bottom, me, someone or rank")
	cmd.Flags().StringVar(&q.Rank, "rank", "", "rank to center on")
	cmd.Flags().StringVar(&q.Someone, "someone", "", "subject to center on")
	cmd.Flags().StringVar(&q.Limit, "limit", "", "rows to show (max 50)")
	cmd.Flags().StringVar(&caller, "me", "", "subject id used for --at=me")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <guild> <statistic> <deleter> <subject>...",
		Short: "Delete subjects' totals, recording compensating changes",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, guild, err := parseBoard(args[0], args[1])
			if err != nil {
				return err
			}
			deleter, err := counter.ParseSubjectID(args[2])
			if err != nil {
				return err
			}
			subjects, err := parseSubjects(args[3:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rows, err := a.engine.Lookup(ctx, stat, guild, subjects)
			if err != nil {
				return err
			}
			ids := make([]counter.AggregateID, len(rows))
			for i, row := range rows {
				ids[i] = row.ID
			}
			n, err := a.engine.Purge(ctx, deleter, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d totals\n", n)
			return nil
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	var keepFile string
	cmd := &cobra.Command{
		Use:   "prune <guild> <statistic> <deleter> [keep-subject]...",
		Short: "Delete every total except the kept subjects",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, guild, err := parseBoard(args[0], args[1])
			if err != nil {
				return err
			}
			deleter, err := counter.ParseSubjectID(args[2])
			if err != nil {
				return err
			}
			raw := args[3:]
			if keepFile != "" {
				b, err := os.ReadFile(keepFile)
				if err != nil {
					return err
				}
				raw = append(raw, strings.Fields(string(b))...)
			}
			kept, err := parseSubjects(raw)
			if err != nil {
				return err
			}

			keep := make(map[counter.SubjectID]bool, len(kept))
			for _, id := range kept {
				keep[id] = true
			}
			n, err := a.engine.Prune(cmd.Context(), stat, guild, deleter, func(agg counter.Aggregate) bool {
				return keep[agg.Subject]
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kept %d subjects, deleted %d totals\n", len(keep), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&keepFile, "keep-file", "", "file of whitespace-separated subject ids to keep")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <guild> <statistic> <subject>",
		Short: "Compare a stored total with its ledger replay",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, guild, err := parseBoard(args[0], args[1])
			if err != nil {
				return err
			}
			subject, err := counter.ParseSubjectID(args[2])
			if err != nil {
				return err
			}
			res, err := a.engine.Ledger.Audit(cmd.Context(), counter.Key{Statistic: stat, Scope: guild, Subject: subject})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Consistent() {
				return fmt.Errorf("stored total %s differs from replayed %s", res.Stored, res.Replayed)
			}
			return nil
		},
	}
}

func newGoalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Inspect or clear monthly goals",
	}

	var branch string
	summary := &cobra.Command{
		Use:   "summary <guild>",
		Short: "Print goal progress for a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := counter.ParseScopeID(args[0])
			if err != nil {
				return err
			}
			sum, err := a.goals.Summary(cmd.Context(), guild, counter.Branch(branch))
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
	summary.Flags().StringVar(&branch, "branch", "", "main, legion, navy or industry")

	clearCmd := &cobra.Command{
		Use:   "clear <guild>",
		Short: "Deactivate every active goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := counter.ParseScopeID(args[0])
			if err != nil {
				return err
			}
			n, err := a.goals.Clear(cmd.Context(), guild)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d goals\n", n)
			return nil
		},
	}

	cmd.AddCommand(summary, clearCmd)
	return cmd
}

func parseBoard(guildArg, statArg string) (counter.Statistic, counter.ScopeID, error) {
	guild, err := counter.ParseScopeID(guildArg)
	if err != nil {
		return "", 0, err
	}
	stat := counter.Statistic(strings.TrimSpace(statArg))
	if err := stat.Validate(); err != nil {
		return "", 0, err
	}
	return stat, guild, nil
}

func parseSubjects(args []string) ([]counter.SubjectID, error) {
	out := make([]counter.SubjectID, 0, len(args))
	for _, raw := range args {
		id, err := counter.ParseSubjectID(raw)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", strconv.Quote(raw), err)
		}
		out = append(out, id)
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
