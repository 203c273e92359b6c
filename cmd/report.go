package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cohort/internal/models"
	"cohort/internal/progress"
	"cohort/internal/store"
)

var reportCollect bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate weekly and monthly progress reports",
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Weekly summary with changes since the last snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportWeeklyRun(cmd)
	},
}

var reportMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Monthly report with full analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportMonthlyRun(cmd)
	},
}

func init() {
	reportCmd.PersistentFlags().BoolVar(&reportCollect, "collect", false, "take a fresh snapshot before reporting")
	reportCmd.AddCommand(reportWeeklyCmd)
	reportCmd.AddCommand(reportMonthlyCmd)
	rootCmd.AddCommand(reportCmd)
}

// currentSnapshot returns the snapshot to report on, collecting a fresh
// one when --collect is set.
func currentSnapshot(cmd *cobra.Command) (*models.Snapshot, error) {
	if reportCollect {
		records, err := loadRoster()
		if err != nil {
			return nil, err
		}
		col, err := getCollector()
		if err != nil {
			return nil, err
		}
		ui.Info("Collecting progress for %d projects", len(records))
		return col.Collect(cmd.Context(), records)
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no snapshots collected yet (run 'cohort progress collect' or use --collect)")
	}
	return snap, err
}

// snapshotHistory lists up to twelve stored snapshots, excluding the one
// being reported on.
func snapshotHistory(ctx context.Context, s store.Store, current *models.Snapshot) ([]*models.Snapshot, error) {
	all, err := s.ListSnapshots(ctx, 12)
	if err != nil {
		return nil, err
	}
	history := make([]*models.Snapshot, 0, len(all))
	for _, sn := range all {
		if sn.ID != current.ID {
			history = append(history, sn)
		}
	}
	return history, nil
}

func reportWeeklyRun(cmd *cobra.Command) error {
	snap, err := currentSnapshot(cmd)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	previous, err := s.PreviousSnapshot(cmd.Context(), snap.TakenAt)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	col := &progress.Collector{Store: s, Log: getLogger()}
	w, err := col.WeeklyReport(cmd.Context(), snap, previous)
	if err != nil {
		return err
	}
	printWeekly(w)
	return nil
}

func reportMonthlyRun(cmd *cobra.Command) error {
	snap, err := currentSnapshot(cmd)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	history, err := snapshotHistory(cmd.Context(), s, snap)
	if err != nil {
		return err
	}

	col := &progress.Collector{Store: s, Log: getLogger()}
	m, err := col.MonthlyReport(cmd.Context(), snap, history)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "# Monthly Report (%s)\n\n", m.Month)
	printAnalytics(m.Analytics)
	return nil
}

func printWeekly(w *progress.Weekly) {
	fmt.Fprintf(ui.Out, "# Weekly Progress Report\n\n")
	fmt.Fprintf(ui.Out, "Generated %s\n\n", w.GeneratedAt.Local().Format("2006-01-02 15:04"))

	fmt.Fprintln(ui.Out, "## Summary")
	fmt.Fprintf(ui.Out, "- Projects: %d\n", w.Summary.TotalProjects)
	fmt.Fprintf(ui.Out, "- Average progress: %.1f%%\n", w.Summary.AveragePercent)
	fmt.Fprintf(ui.Out, "- Completed: %d (%.1f%%)\n", w.Summary.Completed, w.Summary.CompletionRate)
	fmt.Fprintf(ui.Out, "- Needing attention: %d\n\n", w.Summary.NeedAttention)

	if ch := w.Changes; ch != nil {
		fmt.Fprintln(ui.Out, "## Changes Since Last Snapshot")
		fmt.Fprintf(ui.Out, "- Average progress: %+.1f points\n", ch.ProgressChange)
		fmt.Fprintf(ui.Out, "- New completions: %d\n", ch.NewCompletions)
		fmt.Fprintf(ui.Out, "- Improved: %d, declined: %d\n\n", ch.ProjectsImproved, ch.ProjectsDeclined)
	}

	printBullets("## Highlights", w.Highlights)
	printBullets("## Concerns", w.Concerns)
	printBullets("## Recommendations", w.Recommendations)
}

func printBullets(heading string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(ui.Out, heading)
	for _, line := range lines {
		fmt.Fprintf(ui.Out, "- %s\n", line)
	}
	fmt.Fprintln(ui.Out)
}
