package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/statistics"
)

var recomputeUser string

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild user statistics from their cards",
	Long: `Recompute rebuilds every rollup from the cards in chunks. An
interrupted run resumes after the last committed chunk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if recomputeUser != "" {
			r, err := a.aggregator.RecomputeUser(cmd.Context(), recomputeUser)
			if err != nil {
				return err
			}
			fmt.Printf("✅ %s: %d cards, %d mastered, %d points (%d this week)\n",
				r.UserID, r.TotalCards, r.MasteredCards, r.TotalPoints, r.WeeklyPoints)
			return nil
		}
		res, err := a.aggregator.RecomputeAll(cmd.Context())
		if err != nil {
			return resumeHint(err)
		}
		fmt.Printf("✅ Recomputed %d users in %d chunks\n", res.Written, res.Chunks)
		return nil
	},
}

var resetWeek string

var resetWeeklyCmd = &cobra.Command{
	Use:   "reset-weekly",
	Short: "Zero weekly points left over from previous weeks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		week, err := weekFlag(resetWeek, a.clock.Now())
		if err != nil {
			return err
		}
		res, err := a.aggregator.ResetWeekly(cmd.Context(), week)
		if err != nil {
			return resumeHint(err)
		}
		fmt.Printf("✅ Weekly points reset for %s: %d users checked\n", statistics.WeekID(week), res.Written)
		return nil
	},
}

var snapshotWeek string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save the weekly leaderboard",
	Long:  `Snapshot saves the leaderboard of a week, by default the previous one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		now := a.clock.Now()
		week := statistics.WeekStart(now).AddDate(0, 0, -7)
		if snapshotWeek != "" {
			if week, err = weekFlag(snapshotWeek, now); err != nil {
				return err
			}
		}
		snap, err := a.snapshots.Take(cmd.Context(), week, now)
		if err != nil {
			return resumeHint(err)
		}
		fmt.Printf("✅ Saved ranking %s: %d participants, top %d\n", snap.WeekID, snap.TotalParticipants, len(snap.Rankings))
		return nil
	},
}

var (
	auditUser      string
	auditTolerance float64
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare stored statistics with a full recompute",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ids := []string{auditUser}
		if auditUser == "" {
			if ids, err = allRollupIDs(cmd, a); err != nil {
				return err
			}
		}

		bad := 0
		for _, id := range ids {
			err := a.aggregator.Audit(cmd.Context(), id, auditTolerance)
			var inconsistent *errs.InconsistentAggregateError
			switch {
			case errors.As(err, &inconsistent):
				bad++
				fmt.Printf("⚠️ %v\n", inconsistent)
			case err != nil:
				return err
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d users inconsistent, run recompute to repair", bad, len(ids))
		}
		fmt.Printf("✅ %d users consistent\n", len(ids))
		return nil
	},
}

func allRollupIDs(cmd *cobra.Command, a *app) ([]string, error) {
	const page = 1000
	var ids []string
	after := ""
	for {
		batch, err := a.rollups.ListUserIDs(cmd.Context(), after, page)
		if err != nil {
			return nil, err
		}
		ids = append(ids, batch...)
		if len(batch) < page {
			return ids, nil
		}
		after = batch[len(batch)-1]
	}
}

// weekFlag parses a YYYY-MM-DD date into the start of its week, defaulting
// to the week of now.
func weekFlag(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return statistics.WeekStart(now), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --week %q, want YYYY-MM-DD: %w", value, err)
	}
	return statistics.WeekStart(t), nil
}

func resumeHint(err error) error {
	var partial *errs.PartialBatchFailure
	if errors.As(err, &partial) {
		return fmt.Errorf("%w (committed through %q, rerun to resume)", err, partial.Cursor)
	}
	return err
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeUser, "user", "", "recompute a single user")
	resetWeeklyCmd.Flags().StringVar(&resetWeek, "week", "", "any date of the week to reset to (YYYY-MM-DD), default current week")
	snapshotCmd.Flags().StringVar(&snapshotWeek, "week", "", "any date of the week to save (YYYY-MM-DD), default previous week")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "audit a single user, default all users")
	auditCmd.Flags().Float64Var(&auditTolerance, "tolerance", 1e-9, "allowed mastery rate difference")

	rootCmd.AddCommand(recomputeCmd, resetWeeklyCmd, snapshotCmd, auditCmd)
}
