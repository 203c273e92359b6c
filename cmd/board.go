package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/board"
	"cohort/internal/store"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Manage the research projects dashboard",
}

var boardCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the dashboard and seed one card per project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return boardCreateRun(cmd)
	},
}

var boardUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Move cards to match the latest progress snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return boardUpdateRun(cmd)
	},
}

var boardSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show card counts per column",
	RunE: func(cmd *cobra.Command, args []string) error {
		return boardSummaryRun(cmd)
	},
}

var boardAttentionCmd = &cobra.Command{
	Use:   "attention",
	Short: "List projects sitting in the risk columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return boardAttentionRun(cmd)
	},
}

func init() {
	boardCmd.AddCommand(boardCreateCmd)
	boardCmd.AddCommand(boardUpdateCmd)
	boardCmd.AddCommand(boardSummaryCmd)
	boardCmd.AddCommand(boardAttentionCmd)
	rootCmd.AddCommand(boardCmd)
}

// getBoardManager builds the dashboard manager from config.
func getBoardManager() (*board.Manager, error) {
	client, err := getGitHub()
	if err != nil {
		return nil, err
	}
	repo, err := repoName()
	if err != nil {
		return nil, err
	}
	p, err := getPlan()
	if err != nil {
		return nil, err
	}
	return &board.Manager{
		Client:      client,
		Repo:        repo,
		Name:        viper.GetString("board.name"),
		Columns:     viper.GetStringSlice("board.columns"),
		Plan:        p,
		Course:      courseInfo(),
		Supervisors: supervisors(),
		Log:         getLogger(),
	}, nil
}

func boardCreateRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create dashboard %q with cards for %d projects",
			viper.GetString("board.name"), len(records))
		return nil
	}

	mgr, err := getBoardManager()
	if err != nil {
		return err
	}
	b, err := mgr.Ensure(cmd.Context())
	if err != nil {
		return err
	}
	ui.Info("Dashboard ready (project %d, %d columns)", b.ProjectID, len(b.Columns))

	created, skipped, err := mgr.SeedCards(cmd.Context(), b, records)
	if err != nil {
		return err
	}
	ui.Success("%d cards created, %d already on the board", len(created), len(skipped))
	return nil
}

func boardUpdateRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	snap, err := s.LatestSnapshot(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no progress snapshots yet; run 'cohort progress collect' first")
	}
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would sync %d project cards against snapshot %s", len(snap.Projects), snap.ID)
		return nil
	}

	mgr, err := getBoardManager()
	if err != nil {
		return err
	}
	b, err := mgr.Ensure(cmd.Context())
	if err != nil {
		return err
	}

	res, err := mgr.Sync(cmd.Context(), b, snap)
	if err != nil {
		return err
	}
	for _, msg := range res.Errors {
		ui.Warning("%s", msg)
	}
	ui.Success("%d cards moved, %d created", res.Moved, res.Created)
	return nil
}

func boardSummaryRun(cmd *cobra.Command) error {
	mgr, err := getBoardManager()
	if err != nil {
		return err
	}
	b, err := mgr.Ensure(cmd.Context())
	if err != nil {
		return err
	}
	sum, err := mgr.Summarize(cmd.Context(), b)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Column", "Cards", "Share"})
	for _, col := range sum.Columns {
		table.Append([]string{col.Name, fmt.Sprintf("%d", col.Count), fmt.Sprintf("%.1f%%", col.Percent)})
	}
	table.Render()
	ui.Info("%d cards total, completion rate %.1f%%", sum.Total, sum.CompletionRate)
	if sum.NeedAttention > 0 {
		ui.Warning("%d projects need attention", sum.NeedAttention)
	}
	return nil
}

func boardAttentionRun(cmd *cobra.Command) error {
	mgr, err := getBoardManager()
	if err != nil {
		return err
	}
	b, err := mgr.Ensure(cmd.Context())
	if err != nil {
		return err
	}
	cards, err := mgr.Attention(cmd.Context(), b)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		ui.Success("No projects in the risk columns")
		return nil
	}

	table := ui.Table([]string{"Index", "Research Area", "Column", "Reason"})
	for _, c := range cards {
		table.Append([]string{c.IndexNo, c.ResearchArea, c.Column, c.Reason})
	}
	table.Render()
	ui.Warning("%d projects need review", len(cards))
	return nil
}
