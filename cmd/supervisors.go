package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cohort/internal/roster"
)

var supervisorsPerProject int

var supervisorsCmd = &cobra.Command{
	Use:   "supervisors",
	Short: "Manage supervisor assignments",
}

var supervisorsAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign supervisors to projects round-robin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorsAssignRun(cmd)
	},
}

var supervisorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured supervisors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervisorsListRun(cmd)
	},
}

func init() {
	supervisorsAssignCmd.Flags().IntVar(&supervisorsPerProject, "per-project", 1, "supervisors per project")
	supervisorsCmd.AddCommand(supervisorsAssignCmd)
	supervisorsCmd.AddCommand(supervisorsListCmd)
	rootCmd.AddCommand(supervisorsCmd)
}

func supervisorsAssignRun(cmd *cobra.Command) error {
	sups := supervisors()
	if len(sups) == 0 {
		return fmt.Errorf("no supervisors configured (set roster.supervisors)")
	}

	records, err := loadRoster()
	if err != nil {
		return err
	}

	assigned := roster.AssignSupervisors(records, sups, supervisorsPerProject)
	table := ui.Table([]string{"Index", "Student", "Supervisors"})
	for _, rec := range records {
		table.Append([]string{rec.IndexNo, rec.StudentName, strings.Join(assigned[rec.IndexNo], ", ")})
	}
	table.Render()
	ui.Success("%d supervisors spread across %d projects", len(sups), len(records))
	return nil
}

func supervisorsListRun(cmd *cobra.Command) error {
	sups := supervisors()
	if len(sups) == 0 {
		ui.Info("No supervisors configured. Add them under roster.supervisors in the config file.")
		return nil
	}

	table := ui.Table([]string{"Name", "GitHub", "Email"})
	for _, sup := range sups {
		gh := sup.GitHubUser
		if gh == "" {
			gh = "-"
		}
		table.Append([]string{sup.Name, gh, sup.Email})
	}
	table.Render()
	return nil
}
