package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var setupUseExisting bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the full course setup sequence",
	Long: `Provision the course repository, create the dashboard, student
folders and milestone issues, send invitations, and protect the student
folders, in one pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setupRun(cmd)
	},
}

func init() {
	setupCmd.Flags().BoolVar(&setupUseExisting, "use-existing", false, "adopt the repository if it already exists")
	rootCmd.AddCommand(setupCmd)
}

func setupRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	course := courseInfo()
	ui.Info("Course: %s - %s (%s, semester %s)", course.Code, course.Name, course.AcademicYear, course.Semester)
	ui.Info("Repository: %s/%s", viper.GetString("github.organization"), viper.GetString("github.repository"))
	ui.Info("Students: %d", len(records))

	if dryRun {
		ui.DryRunMsg("Would provision the repository, dashboard, %d folders and issue sets, and send invitations", len(records))
		return nil
	}
	if !confirm("Run the full setup sequence?") {
		ui.Info("Aborted")
		return nil
	}

	sc, err := getScaffolder()
	if err != nil {
		return err
	}

	res, err := sc.ProvisionCourseRepo(cmd.Context(), setupUseExisting)
	if err != nil {
		return err
	}
	if res.Created {
		ui.Success("Created repository %s", res.Repo.FullName)
	} else {
		ui.Info("Using existing repository %s", res.Repo.FullName)
	}

	mgr, err := getBoardManager()
	if err != nil {
		return err
	}
	b, err := mgr.Ensure(cmd.Context())
	if err != nil {
		return err
	}
	created, skipped, err := mgr.SeedCards(cmd.Context(), b, records)
	if err != nil {
		return err
	}
	ui.Success("Dashboard ready (%d cards created, %d existing)", len(created), len(skipped))

	if err := createFolders(cmd.Context(), sc, records); err != nil {
		return err
	}
	if err := createIssues(cmd.Context(), sc, records); err != nil {
		return err
	}

	inv, err := getInviter()
	if err != nil {
		return err
	}
	if sups := supervisors(); len(sups) > 0 {
		results, err := inv.Supervisors(cmd.Context(), sups)
		if err != nil {
			return err
		}
		printInviteResults(results)
	}
	results, err := inv.Students(cmd.Context(), records)
	if err != nil {
		return err
	}
	printInviteResults(results)

	if err := sc.SetupFolderProtection(cmd.Context(), records); err != nil {
		return err
	}
	ui.Success("Course setup complete")
	return nil
}
