package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/bulk"
	"cohort/internal/invite"
	"cohort/internal/models"
	"cohort/internal/output"
	"cohort/internal/store"
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Send and track collaborator invitations",
}

var inviteStudentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Invite every student as a repository collaborator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inviteStudentsRun(cmd)
	},
}

var inviteSupervisorsCmd = &cobra.Command{
	Use:   "supervisors",
	Short: "Invite the configured supervisors with admin access",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inviteSupervisorsRun(cmd)
	},
}

var inviteOrgCmd = &cobra.Command{
	Use:   "org",
	Short: "Send organization membership invitations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inviteOrgRun(cmd)
	},
}

var inviteStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show each student's invitation state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inviteStatusRun(cmd)
	},
}

var inviteRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-send the failures of the latest invitation run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inviteRetryRun(cmd)
	},
}

func init() {
	inviteCmd.AddCommand(inviteStudentsCmd)
	inviteCmd.AddCommand(inviteSupervisorsCmd)
	inviteCmd.AddCommand(inviteOrgCmd)
	inviteCmd.AddCommand(inviteStatusCmd)
	inviteCmd.AddCommand(inviteRetryCmd)
	rootCmd.AddCommand(inviteCmd)
}

// getInviter builds the invitation manager from config.
func getInviter() (*invite.Manager, error) {
	client, err := getGitHub()
	if err != nil {
		return nil, err
	}
	repo, err := repoName()
	if err != nil {
		return nil, err
	}
	return &invite.Manager{
		Client:               client,
		Repo:                 repo,
		StudentPermission:    viper.GetString("invitations.student_permission"),
		SupervisorPermission: viper.GetString("invitations.supervisor_permission"),
		Pace:                 invite.DefaultPace,
		RetryPace:            invite.DefaultRetryPace,
		Log:                  getLogger(),
	}, nil
}

func printInviteResults(results []invite.Result) {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
			continue
		}
		ui.Warning("%s: %s", r.Key, r.Error)
	}
	ui.Success("%d of %d invitations sent", ok, len(results))
}

func inviteStudentsRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would invite %d students with %s access",
			len(records), viper.GetString("invitations.student_permission"))
		return nil
	}

	inv, err := getInviter()
	if err != nil {
		return err
	}

	// Weed out unusable usernames before sending anything.
	v, err := inv.ValidateUsernames(cmd.Context(), records)
	if err != nil {
		return err
	}
	for _, rec := range v.Missing {
		ui.Warning("%s: no GitHub username in roster", rec.IndexNo)
	}
	for _, rec := range v.Invalid {
		ui.Warning("%s: GitHub user %q does not exist", rec.IndexNo, rec.GitHubUser)
	}
	if len(v.Valid) == 0 {
		return fmt.Errorf("no records with a usable GitHub username")
	}

	results, err := inv.Students(cmd.Context(), v.Valid)
	if err != nil {
		return err
	}
	printInviteResults(results)
	return nil
}

func inviteSupervisorsRun(cmd *cobra.Command) error {
	sups := supervisors()
	if len(sups) == 0 {
		return fmt.Errorf("no supervisors configured (set roster.supervisors)")
	}

	if dryRun {
		ui.DryRunMsg("Would invite %d supervisors with %s access",
			len(sups), viper.GetString("invitations.supervisor_permission"))
		return nil
	}

	inv, err := getInviter()
	if err != nil {
		return err
	}
	results, err := inv.Supervisors(cmd.Context(), sups)
	if err != nil {
		return err
	}
	printInviteResults(results)
	return nil
}

func inviteOrgRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would send %d organization invitations", len(records))
		return nil
	}

	inv, err := getInviter()
	if err != nil {
		return err
	}
	results, err := inv.OrgInvites(cmd.Context(), records)
	if err != nil {
		return err
	}
	printInviteResults(results)
	return nil
}

func inviteStatusRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}
	inv, err := getInviter()
	if err != nil {
		return err
	}

	statuses, err := inv.Status(cmd.Context(), records)
	if err != nil {
		return err
	}

	counts := map[models.InviteStatus]int{}
	table := ui.Table([]string{"Index", "GitHub", "Status"})
	for _, st := range statuses {
		counts[st.Status]++
		user := st.Record.GitHubUser
		if user == "" {
			user = "-"
		}
		table.Append([]string{st.Record.IndexNo, user, output.InviteColor(string(st.Status))})
	}
	table.Render()
	ui.Info("accepted %d, pending %d, not invited %d, invalid %d",
		counts[models.InviteAccepted], counts[models.InvitePending],
		counts[models.InviteNotInvited], counts[models.InviteInvalidUsername])
	return nil
}

func inviteRetryRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	run, err := s.LatestBulkRun(cmd.Context(), bulk.OpInvitations)
	if errors.Is(err, store.ErrNotFound) {
		ui.Info("No previous invitation run to retry")
		return nil
	}
	if err != nil {
		return err
	}
	failed := run.FailedKeys()
	if len(failed) == 0 {
		ui.Success("Latest invitation run had no failures")
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would retry %d failed invitations from run %s", len(failed), run.ID)
		return nil
	}

	records, err := loadRoster()
	if err != nil {
		return err
	}
	inv, err := getInviter()
	if err != nil {
		return err
	}

	results, err := inv.RetryFailed(cmd.Context(), run, records)
	if err != nil {
		return err
	}
	printInviteResults(results)
	return nil
}
