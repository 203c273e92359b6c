package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cohort/internal/models"
	"cohort/internal/scaffold"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Manage milestone issues",
}

var issuesCreateCmd = &cobra.Command{
	Use:   "create [index...]",
	Short: "Open the milestone issues for each student",
	Long: `Open one labeled issue per plan milestone for every roster record, or
only the index numbers given as arguments. Issues that already exist are
skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issuesCreateRun(cmd, args)
	},
}

func init() {
	issuesCmd.AddCommand(issuesCreateCmd)
	rootCmd.AddCommand(issuesCmd)
}

func issuesCreateRun(cmd *cobra.Command, args []string) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}
	selected, err := selectRecords(records, args)
	if err != nil {
		return err
	}

	sc, err := getScaffolder()
	if err != nil {
		return err
	}

	if dryRun {
		for _, rec := range selected {
			ui.DryRunMsg("Would open %d milestone issues for %s", len(sc.Plan.Milestones), rec.IndexNo)
		}
		return nil
	}
	return createIssues(cmd.Context(), sc, selected)
}

// createIssues opens each record's milestone issues, reporting per
// student.
func createIssues(ctx context.Context, sc *scaffold.Scaffolder, records []models.ProjectRecord) error {
	var created, skipped int
	for i, rec := range records {
		issues, skip, err := sc.CreateStudentIssues(ctx, rec)
		if err != nil {
			return fmt.Errorf("create issues for %s: %w", rec.IndexNo, err)
		}
		created += len(issues)
		skipped += len(skip)
		ui.Info("[%d/%d] %s: %d created, %d already open", i+1, len(records), rec.IndexNo, len(issues), len(skip))
	}
	ui.Success("Opened %d milestone issues (%d already existed)", created, skipped)
	return nil
}
