package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cohort/internal/models"
	"cohort/internal/scaffold"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage student project folders",
}

var foldersCreateCmd = &cobra.Command{
	Use:   "create [index...]",
	Short: "Scaffold student folders in the course repository",
	Long: `Create the projects/{index}-{area}/ scaffold for every roster record,
or only the index numbers given as arguments. Existing files are updated
in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return foldersCreateRun(cmd, args)
	},
}

var foldersProtectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Deploy CODEOWNERS and branch protection for student folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return foldersProtectRun(cmd)
	},
}

func init() {
	foldersCmd.AddCommand(foldersCreateCmd)
	foldersCmd.AddCommand(foldersProtectCmd)
	rootCmd.AddCommand(foldersCmd)
}

func foldersCreateRun(cmd *cobra.Command, args []string) error {
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
			files, err := sc.StudentFolderFiles(rec)
			if err != nil {
				return err
			}
			ui.DryRunMsg("Would create projects/%s/ with %d files", rec.FolderName, len(files))
		}
		return nil
	}
	return createFolders(cmd.Context(), sc, selected)
}

// createFolders scaffolds each record's folder, reporting per student.
func createFolders(ctx context.Context, sc *scaffold.Scaffolder, records []models.ProjectRecord) error {
	for i, rec := range records {
		paths, err := sc.CreateStudentFolder(ctx, rec)
		if err != nil {
			return fmt.Errorf("create folder for %s: %w", rec.IndexNo, err)
		}
		ui.Info("[%d/%d] projects/%s/ (%d files)", i+1, len(records), rec.FolderName, len(paths))
	}
	ui.Success("Created %d student folders", len(records))
	return nil
}

func foldersProtectRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	sc, err := getScaffolder()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would deploy CODEOWNERS for %d folders and protect the default branch", len(records))
		fmt.Fprint(ui.Out, sc.Codeowners(records))
		return nil
	}

	if err := sc.SetupFolderProtection(cmd.Context(), records); err != nil {
		return err
	}
	ui.Success("CODEOWNERS deployed and default branch protected")
	return nil
}
