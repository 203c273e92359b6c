package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cohort/internal/analytics"
	"cohort/internal/models"
	"cohort/internal/store"
)

var analyticsSave bool

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Run full analytics over the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyticsRun(cmd)
	},
}

func init() {
	analyticsCmd.Flags().BoolVar(&analyticsSave, "save", false, "persist the report for later export")
	rootCmd.AddCommand(analyticsCmd)
}

func analyticsRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no snapshots collected yet; run 'cohort progress collect' first")
	}
	if err != nil {
		return err
	}
	history, err := snapshotHistory(cmd.Context(), s, snap)
	if err != nil {
		return err
	}

	report := analytics.Generate(snap, history)
	printAnalytics(report)

	if analyticsSave {
		payload, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal analytics report: %w", err)
		}
		rec := &models.Report{Kind: models.ReportAnalytics, Payload: payload}
		if err := s.SaveReport(cmd.Context(), rec); err != nil {
			return fmt.Errorf("save analytics report: %w", err)
		}
		ui.Success("Report %s saved", rec.ID)
	}
	return nil
}

func printAnalytics(r *analytics.Report) {
	o := r.Overview
	ui.Info("%d projects, average progress %.1f%%, %d complete, %d at risk",
		o.TotalProjects, o.AverageProgress, o.Completed, o.AtRisk)

	if len(r.Milestones) > 0 {
		table := ui.Table([]string{"Milestone", "Not Started", "In Progress", "Completed", "Rate"})
		for _, m := range r.Milestones {
			table.Append([]string{
				m.Name,
				fmt.Sprintf("%d", m.NotStarted),
				fmt.Sprintf("%d", m.Started+m.InProgress),
				fmt.Sprintf("%d", m.Completed),
				fmt.Sprintf("%.1f%%", m.CompletionRate),
			})
		}
		table.Render()
	}

	st := r.Performance.Stats
	ui.Info("spread: mean %.1f, median %.1f, stddev %.1f, q1 %.1f, q3 %.1f",
		st.Mean, st.Median, st.StdDev, st.Q1, st.Q3)
	if len(r.Performance.TopPerformers) > 0 {
		ui.Info("top performers: %s", performerLine(r.Performance.TopPerformers))
	}
	if len(r.Performance.BottomPerformers) > 0 {
		ui.Info("bottom performers: %s", performerLine(r.Performance.BottomPerformers))
	}

	ui.Info("risk tiers: %d high, %d medium, %d low",
		len(r.Risk.High), len(r.Risk.Medium), len(r.Risk.Low))
	for _, e := range r.Risk.High {
		ui.Warning("%s (score %d): %s", e.IndexNo, e.Score, strings.Join(e.Factors, ", "))
	}

	e := r.Engagement
	ui.Info("engagement: %d commits, %d active last week (%.1f%%), %d inactive over two weeks",
		e.TotalCommits, e.ActiveLast7, e.EngagementRate, e.InactiveOver14)
	ui.Info("issues: %d open, %d closed", e.OpenIssues, e.ClosedIssues)

	if t := r.Trend; t != nil {
		ui.Info("trend: %s (%+.1f points total, %+.1f per week)",
			t.Direction, t.TotalChange, t.AverageWeeklyChange)
	}

	for _, rec := range r.Recommendations {
		ui.Info("recommendation: %s", rec)
	}
}

func performerLine(performers []analytics.Performer) string {
	parts := make([]string, 0, len(performers))
	for _, p := range performers {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", p.IndexNo, p.Percent))
	}
	return strings.Join(parts, ", ")
}
