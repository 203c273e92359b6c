package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/models"
	"cohort/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect the student roster",
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return rosterListRun()
	},
}

var rosterValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the roster for duplicates and missing fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		return rosterValidateRun()
	},
}

func init() {
	rosterCmd.AddCommand(rosterListCmd)
	rosterCmd.AddCommand(rosterValidateCmd)
	rootCmd.AddCommand(rosterCmd)
}

// rosterPath resolves the roster CSV path honoring the --roster flag.
func rosterPath() string {
	if path, _ := rootCmd.PersistentFlags().GetString("roster"); path != "" {
		return path
	}
	return viper.GetString("roster.path")
}

// loadRoster reads the roster CSV, prints parse warnings, and assigns
// supervisors round-robin when any are configured.
func loadRoster() ([]models.ProjectRecord, error) {
	path := rosterPath()
	records, warnings, err := roster.Load(path, viper.GetString("repository.folder_pattern"))
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		ui.Warning("%s", w)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no student records in %s", path)
	}

	if sups := supervisors(); len(sups) > 0 {
		assigned := roster.AssignSupervisors(records, sups, 1)
		for i := range records {
			records[i].Supervisors = assigned[records[i].IndexNo]
		}
	}
	return records, nil
}

// selectRecords filters the roster down to the index numbers given as
// args. No args selects everything.
func selectRecords(records []models.ProjectRecord, args []string) ([]models.ProjectRecord, error) {
	if len(args) == 0 {
		return records, nil
	}
	byIndex := make(map[string]models.ProjectRecord, len(records))
	for _, rec := range records {
		byIndex[rec.IndexNo] = rec
	}
	out := make([]models.ProjectRecord, 0, len(args))
	for _, arg := range args {
		rec, ok := byIndex[arg]
		if !ok {
			return nil, fmt.Errorf("index %s not in roster", arg)
		}
		out = append(out, rec)
	}
	return out, nil
}

func rosterListRun() error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Index", "Student", "Research Area", "GitHub", "Email", "Supervisors"})
	for _, rec := range records {
		github := rec.GitHubUser
		if github == "" {
			github = "-"
		}
		table.Append([]string{
			rec.IndexNo,
			rec.StudentName,
			rec.ResearchArea,
			github,
			rec.Email,
			strings.Join(rec.Supervisors, ", "),
		})
	}
	table.Render()
	ui.Info("%d records from %s", len(records), rosterPath())
	return nil
}

func rosterValidateRun() error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	findings := roster.Validate(records)
	if len(findings) == 0 {
		ui.Success("Roster is valid (%d records)", len(records))
		return nil
	}
	for _, f := range findings {
		ui.Warning("%s", f)
	}
	return fmt.Errorf("roster has %d findings", len(findings))
}
