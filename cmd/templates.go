package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Deploy and verify course templates",
}

var templatesDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy course documents to the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return templatesDeployRun(cmd)
	},
}

var templatesIssuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Deploy issue templates to .github/ISSUE_TEMPLATE/",
	RunE: func(cmd *cobra.Command, args []string) error {
		return templatesIssuesRun(cmd)
	},
}

var templatesReadmesCmd = &cobra.Command{
	Use:   "readmes [index...]",
	Short: "Refresh per-student README files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return templatesReadmesRun(cmd, args)
	},
}

var templatesVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report unresolved placeholders per template",
	RunE: func(cmd *cobra.Command, args []string) error {
		return templatesVerifyRun()
	},
}

func init() {
	templatesCmd.AddCommand(templatesDeployCmd)
	templatesCmd.AddCommand(templatesIssuesCmd)
	templatesCmd.AddCommand(templatesReadmesCmd)
	templatesCmd.AddCommand(templatesVerifyCmd)
	rootCmd.AddCommand(templatesCmd)
}

// getTemplates returns the template store honoring templates.dir
// overrides.
func getTemplates() *templates.Store {
	return templates.NewStore(viper.GetString("templates.dir"), getLogger())
}

func templatesDeployRun(cmd *cobra.Command) error {
	ts := getTemplates()
	vars := templates.CourseVars(courseInfo())

	if dryRun {
		ui.DryRunMsg("Would deploy the course documents to %s", viper.GetString("github.repository"))
		return nil
	}

	client, err := getGitHub()
	if err != nil {
		return err
	}
	repo, err := repoName()
	if err != nil {
		return err
	}

	docs, err := ts.DeployCourseDocs(cmd.Context(), client, repo, vars)
	if err != nil {
		return err
	}
	for _, d := range docs {
		ui.VerboseLog("deployed %s", d)
	}
	ui.Success("Deployed %d course documents", len(docs))
	return nil
}

func templatesIssuesRun(cmd *cobra.Command) error {
	ts := getTemplates()
	vars := templates.CourseVars(courseInfo())

	if dryRun {
		ui.DryRunMsg("Would deploy the issue templates to %s", viper.GetString("github.repository"))
		return nil
	}

	client, err := getGitHub()
	if err != nil {
		return err
	}
	repo, err := repoName()
	if err != nil {
		return err
	}

	paths, err := ts.DeployIssueTemplates(cmd.Context(), client, repo, vars)
	if err != nil {
		return err
	}
	for _, p := range paths {
		ui.VerboseLog("deployed %s", p)
	}
	ui.Success("Deployed %d issue templates", len(paths))
	return nil
}

func templatesReadmesRun(cmd *cobra.Command, args []string) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}
	selected, err := selectRecords(records, args)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would refresh %d student README files", len(selected))
		return nil
	}

	client, err := getGitHub()
	if err != nil {
		return err
	}
	repo, err := repoName()
	if err != nil {
		return err
	}

	ts := getTemplates()
	vars := templates.CourseVars(courseInfo())
	for i, rec := range selected {
		path, err := ts.DeployStudentReadme(cmd.Context(), client, repo, rec, vars)
		if err != nil {
			return err
		}
		ui.Info("[%d/%d] %s", i+1, len(selected), path)
	}
	ui.Success("Refreshed %d student README files", len(selected))
	return nil
}

func templatesVerifyRun() error {
	ts := getTemplates()

	// Student tokens resolve against the first roster record when the
	// roster is readable.
	vars := templates.CourseVars(courseInfo())
	if records, err := loadRoster(); err == nil {
		vars = vars.Merge(templates.StudentVars(records[0]))
	}

	results, err := ts.Verify(vars)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Template", "Unresolved"})
	dirty := 0
	for _, r := range results {
		if len(r.Unresolved) == 0 {
			continue
		}
		dirty++
		table.Append([]string{r.Name, strings.Join(r.Unresolved, ", ")})
	}
	if dirty == 0 {
		ui.Success("All %d templates render without unresolved placeholders", len(results))
		return nil
	}
	table.Render()
	ui.Warning("%d of %d templates have unresolved placeholders", dirty, len(results))
	return nil
}
