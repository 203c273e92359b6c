package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/scaffold"
	"cohort/internal/templates"
)

var (
	repoPrivate bool
	repoPublic  bool
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Provision the course repository",
}

var repoCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the course repository and deploy its documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoProvisionRun(cmd, false)
	},
}

var repoSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Deploy documents and milestones into an existing repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoProvisionRun(cmd, true)
	},
}

func init() {
	repoCreateCmd.Flags().BoolVar(&repoPrivate, "private", false, "Create the repository as private (default from config)")
	repoCreateCmd.Flags().BoolVar(&repoPublic, "public", false, "Create the repository as public")
	repoCmd.AddCommand(repoCreateCmd)
	repoCmd.AddCommand(repoSetupCmd)
	rootCmd.AddCommand(repoCmd)
}

// repoVisibility resolves the private/public flags against the config.
func repoVisibility() bool {
	private := viper.GetBool("repository.private")
	if repoPublic {
		private = false
	}
	if repoPrivate {
		private = true
	}
	return private
}

// getScaffolder builds the provisioning scaffolder from config. In dry-run
// mode the GitHub client is left nil; render-only paths never touch it.
func getScaffolder() (*scaffold.Scaffolder, error) {
	p, err := getPlan()
	if err != nil {
		return nil, err
	}
	start, err := courseStartDate()
	if err != nil {
		return nil, err
	}

	sc := &scaffold.Scaffolder{
		Templates: templates.NewStore(viper.GetString("templates.dir"), getLogger()),
		Plan:      p,
		Course:    courseInfo(),
		StartDate: start,
		Private:   repoVisibility(),
		Log:       getLogger(),
	}
	if dryRun {
		return sc, nil
	}

	client, err := getGitHub()
	if err != nil {
		return nil, err
	}
	if _, err := repoName(); err != nil {
		return nil, err
	}
	sc.Client = client
	return sc, nil
}

func repoProvisionRun(cmd *cobra.Command, adoptExisting bool) error {
	sc, err := getScaffolder()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would provision repository %s/%s (private: %t)",
			sc.Course.Organization, sc.Course.Repository, sc.Private)
		return nil
	}
	if !confirm(fmt.Sprintf("Provision repository %s/%s?", sc.Course.Organization, sc.Course.Repository)) {
		ui.Info("Aborted")
		return nil
	}

	result, err := sc.ProvisionCourseRepo(cmd.Context(), adoptExisting)
	if err != nil {
		return err
	}

	if result.Created {
		ui.Success("Created repository %s", result.Repo.FullName)
	} else {
		ui.Info("Using existing repository %s", result.Repo.FullName)
	}
	for _, doc := range result.Docs {
		ui.VerboseLog("deployed %s", doc)
	}
	ui.Success("Deployed %d course documents and %d issue templates",
		len(result.Docs), len(result.IssueTemplates))
	ui.Success("Created %d milestones", len(result.Milestones))
	return nil
}
