package cmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cohort/internal/analytics"
	"cohort/internal/models"
	"cohort/internal/store"
)

var (
	exportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON or CSV",
	Long:  "Export analytics, progress, or roster data to stdout in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv")
	exportCmd.Flags().StringVar(&exportType, "type", "progress", "Data type: analytics, progress, roster")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(cmd *cobra.Command) error {
	switch exportType {
	case "analytics":
		return exportAnalytics(cmd)
	case "progress":
		return exportProgress(cmd)
	case "roster":
		return exportRoster(cmd)
	default:
		return fmt.Errorf("unknown export type: %s (use: analytics, progress, roster)", exportType)
	}
}

func latestOrErr(cmd *cobra.Command) (*models.Snapshot, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no snapshots collected yet; run 'cohort progress collect' first")
	}
	return snap, err
}

func exportAnalytics(cmd *cobra.Command) error {
	snap, err := latestOrErr(cmd)
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
	report := analytics.Generate(snap, history)

	switch exportFormat {
	case "json":
		return analytics.ExportJSON(ui.Out, report)
	case "csv":
		return analytics.ExportCSV(ui.Out, report)
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv)", exportFormat)
	}
}

func exportProgress(cmd *cobra.Command) error {
	snap, err := latestOrErr(cmd)
	if err != nil {
		return err
	}

	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"Index", "Student", "Research Area", "Percent", "Status", "Open", "Closed", "Commits", "Last Activity", "Needs Attention"})
		for _, p := range snap.Projects {
			activity := ""
			if p.LastActivity != nil {
				activity = p.LastActivity.Format(time.RFC3339)
			}
			w.Write([]string{
				p.IndexNo,
				p.StudentName,
				p.ResearchArea,
				fmt.Sprintf("%.2f", p.Percent),
				string(p.Status),
				fmt.Sprintf("%d", p.OpenIssues),
				fmt.Sprintf("%d", p.ClosedIssues),
				fmt.Sprintf("%d", p.CommitCount),
				activity,
				fmt.Sprintf("%t", p.NeedsAttention),
			})
		}
		w.Flush()
		return w.Error()
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv)", exportFormat)
	}
}

func exportRoster(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"Index", "Student", "Research Area", "GitHub", "Email", "Folder"})
		for _, rec := range records {
			w.Write([]string{rec.IndexNo, rec.StudentName, rec.ResearchArea, rec.GitHubUser, rec.Email, rec.FolderName})
		}
		w.Flush()
		return w.Error()
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv)", exportFormat)
	}
}
