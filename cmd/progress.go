package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cohort/internal/models"
	"cohort/internal/output"
	"cohort/internal/progress"
	"cohort/internal/store"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Collect and inspect project progress",
}

var progressCollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Take a progress snapshot of every project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return progressCollectRun(cmd)
	},
}

var progressShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return progressShowRun(cmd)
	},
}

var progressAttentionCmd = &cobra.Command{
	Use:   "attention",
	Short: "List projects flagged for supervisor attention",
	RunE: func(cmd *cobra.Command, args []string) error {
		return progressAttentionRun(cmd)
	},
}

func init() {
	progressCmd.AddCommand(progressCollectCmd)
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressAttentionCmd)
	rootCmd.AddCommand(progressCmd)
}

// getCollector builds the progress collector from config.
func getCollector() (*progress.Collector, error) {
	client, err := getGitHub()
	if err != nil {
		return nil, err
	}
	repo, err := repoName()
	if err != nil {
		return nil, err
	}
	p, err := getPlan()
	if err != nil {
		return nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return &progress.Collector{
		Client: client,
		Repo:   repo,
		Plan:   p,
		Store:  s,
		Log:    getLogger(),
	}, nil
}

func progressCollectRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would collect progress for %d projects", len(records))
		return nil
	}

	col, err := getCollector()
	if err != nil {
		return err
	}

	ui.Info("Collecting progress for %d projects", len(records))
	snap, err := col.Collect(cmd.Context(), records)
	if err != nil {
		return err
	}
	ui.Success("Snapshot %s saved", snap.ID)
	printSnapshotSummary(snap)
	return nil
}

func progressShowRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		ui.Info("No snapshots collected yet. Run 'cohort progress collect' first.")
		return nil
	}
	if err != nil {
		return err
	}

	printSnapshotTable(snap.Projects)
	printSnapshotSummary(snap)
	return nil
}

func progressAttentionRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		ui.Info("No snapshots collected yet. Run 'cohort progress collect' first.")
		return nil
	}
	if err != nil {
		return err
	}

	flagged := progress.NeedingAttention(snap)
	if len(flagged) == 0 {
		ui.Success("No projects need attention")
		return nil
	}

	table := ui.Table([]string{"Index", "Student", "Progress", "Reasons"})
	for _, p := range flagged {
		table.Append([]string{
			p.IndexNo,
			p.StudentName,
			output.PercentColor(p.Percent),
			strings.Join(p.AttentionReasons, "; "),
		})
	}
	table.Render()
	ui.Warning("%d projects need attention", len(flagged))
	return nil
}

func printSnapshotTable(projects []models.ProjectProgress) {
	table := ui.Table([]string{"Index", "Student", "Progress", "Status", "Commits", "Last Activity"})
	for _, p := range projects {
		activity := "never"
		if p.LastActivity != nil {
			activity = timeAgo(*p.LastActivity)
		}
		table.Append([]string{
			p.IndexNo,
			p.StudentName,
			output.PercentColor(p.Percent),
			output.StatusColor(string(p.Status)),
			fmt.Sprintf("%d", p.CommitCount),
			activity,
		})
	}
	table.Render()
}

func printSnapshotSummary(snap *models.Snapshot) {
	s := snap.Summary
	ui.Info("Snapshot %s taken %s", snap.ID, snap.TakenAt.Local().Format("2006-01-02 15:04"))
	ui.Info("%d projects, average progress %.1f%%, %d complete (%.1f%%)",
		s.TotalProjects, s.AveragePercent, s.Completed, s.CompletionRate)
	ui.Info("not started %d, early %d, active %d, late %d, completed %d",
		s.Distribution.NotStarted, s.Distribution.Early, s.Distribution.Active,
		s.Distribution.Late, s.Distribution.Completed)
	if s.NeedAttention > 0 {
		ui.Warning("%d projects need attention", s.NeedAttention)
	}
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1d ago"
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
