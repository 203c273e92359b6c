package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/models"
	"cohort/internal/output"
	"cohort/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the course status at a glance",
	Long: `Show the course configuration, the latest progress snapshot, and
the invitation state of every student.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(cmd *cobra.Command) error {
	course := courseInfo()
	ui.Info("Course: %s - %s (%s, semester %s)", course.Code, course.Name, course.AcademicYear, course.Semester)
	ui.Info("Repository: %s/%s", viper.GetString("github.organization"), viper.GetString("github.repository"))

	s, err := getStore()
	if err != nil {
		return err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	switch {
	case errors.Is(err, store.ErrNotFound):
		ui.Info("No progress snapshots yet. Run 'cohort progress collect'.")
	case err != nil:
		return err
	default:
		printSnapshotSummary(snap)
	}

	records, err := loadRoster()
	if err != nil {
		ui.VerboseLog("skipping invitation status: %v", err)
		return nil
	}
	inv, err := getInviter()
	if err != nil {
		ui.VerboseLog("skipping invitation status: %v", err)
		return nil
	}
	statuses, err := inv.Status(cmd.Context(), records)
	if err != nil {
		ui.VerboseLog("skipping invitation status: %v", err)
		return nil
	}

	counts := map[models.InviteStatus]int{}
	for _, st := range statuses {
		counts[st.Status]++
	}
	table := ui.Table([]string{"Invitations", "Count"})
	for _, status := range []models.InviteStatus{
		models.InviteAccepted, models.InvitePending, models.InviteNotInvited, models.InviteInvalidUsername,
	} {
		table.Append([]string{output.InviteColor(string(status)), fmt.Sprintf("%d", counts[status])})
	}
	table.Render()
	return nil
}
