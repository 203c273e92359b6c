package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cohort/internal/analytics"
	"cohort/internal/bulk"
	"cohort/internal/models"
	"cohort/internal/progress"
	"cohort/internal/store"
)

var (
	bulkBatchSize    int
	bulkDelay        time.Duration
	bulkWorkers      int
	bulkHistoryLimit int
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Run paced batch operations over the whole roster",
}

var bulkFoldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Create every student folder in paced batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOpRun(cmd, bulk.OpFolders)
	},
}

var bulkIssuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Open every milestone issue in paced batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOpRun(cmd, bulk.OpIssues)
	},
}

var bulkInvitesCmd = &cobra.Command{
	Use:     "invites",
	Aliases: []string{"invitations"},
	Short:   "Send every collaborator invitation in paced batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOpRun(cmd, bulk.OpInvitations)
	},
}

var bulkProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Collect a progress snapshot with concurrent workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkProgressRun(cmd)
	},
}

var bulkReportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Generate the weekly, monthly, and analytics reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOpRun(cmd, bulk.OpReports)
	},
}

var bulkValidateCmd = &cobra.Command{
	Use:   "validate <operation>",
	Short: "Check the prerequisites of a bulk operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkValidateRun(cmd, args)
	},
}

var bulkStatsCmd = &cobra.Command{
	Use:   "stats <operation>",
	Short: "Summarize recent runs of an operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkStatsRun(cmd, args)
	},
}

var bulkHistoryCmd = &cobra.Command{
	Use:   "history [operation]",
	Short: "List stored bulk runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkHistoryRun(cmd, args)
	},
}

var bulkEstimateCmd = &cobra.Command{
	Use:   "estimate <operation>",
	Short: "Predict how long an operation will take",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkEstimateRun(cmd, args)
	},
}

var bulkRetryCmd = &cobra.Command{
	Use:   "retry <operation>",
	Short: "Re-run the failed items of the latest run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkRetryRun(cmd, args)
	},
}

func init() {
	bulkCmd.PersistentFlags().IntVar(&bulkBatchSize, "batch-size", bulk.DefaultBatchSize, "items per batch")
	bulkCmd.PersistentFlags().DurationVar(&bulkDelay, "delay", bulk.DefaultDelay, "pause between batches")
	bulkCmd.PersistentFlags().IntVar(&bulkWorkers, "workers", bulk.DefaultMaxWorkers, "concurrent workers per batch")
	viper.BindPFlag("bulk.batch_size", bulkCmd.PersistentFlags().Lookup("batch-size"))
	viper.BindPFlag("bulk.delay", bulkCmd.PersistentFlags().Lookup("delay"))
	viper.BindPFlag("bulk.max_workers", bulkCmd.PersistentFlags().Lookup("workers"))

	bulkHistoryCmd.Flags().IntVar(&bulkHistoryLimit, "limit", 10, "maximum runs to list")

	bulkCmd.AddCommand(bulkFoldersCmd)
	bulkCmd.AddCommand(bulkIssuesCmd)
	bulkCmd.AddCommand(bulkInvitesCmd)
	bulkCmd.AddCommand(bulkProgressCmd)
	bulkCmd.AddCommand(bulkReportsCmd)
	bulkCmd.AddCommand(bulkValidateCmd)
	bulkCmd.AddCommand(bulkStatsCmd)
	bulkCmd.AddCommand(bulkHistoryCmd)
	bulkCmd.AddCommand(bulkEstimateCmd)
	bulkCmd.AddCommand(bulkRetryCmd)
	rootCmd.AddCommand(bulkCmd)
}

// largeRosterWarn is the roster size above which bulk commands warn about
// operation time.
const largeRosterWarn = 200

func normalizeOp(arg string) (string, error) {
	switch arg {
	case bulk.OpFolders, bulk.OpIssues, bulk.OpProgress, bulk.OpReports:
		return arg, nil
	case "invites", bulk.OpInvitations:
		return bulk.OpInvitations, nil
	}
	return "", fmt.Errorf("unknown operation: %s (use: folders, issues, invites, progress, reports)", arg)
}

// bulkPacing reads the effective pacing, flags taking precedence over the
// config file.
func bulkPacing() (batch int, delay time.Duration, workers int) {
	return viper.GetInt("bulk.batch_size"), viper.GetDuration("bulk.delay"), viper.GetInt("bulk.max_workers")
}

func getRunner() (*bulk.Runner, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	batch, delay, workers := bulkPacing()
	return &bulk.Runner{
		BatchSize:  batch,
		MaxWorkers: workers,
		Delay:      delay,
		Store:      s,
		Log:        getLogger(),
	}, nil
}

func keysOf(records []models.ProjectRecord) []string {
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.IndexNo)
	}
	return keys
}

func recordIndex(records []models.ProjectRecord) map[string]models.ProjectRecord {
	byIndex := make(map[string]models.ProjectRecord, len(records))
	for _, rec := range records {
		byIndex[rec.IndexNo] = rec
	}
	return byIndex
}

// bulkTarget resolves the keys of an operation and a deferred item
// function factory. The factory is not called until after the dry-run
// check, so dry runs never need a GitHub token.
func bulkTarget(op string) ([]string, func() (bulk.ItemFunc, error), error) {
	if op == bulk.OpReports {
		return []string{"weekly", "monthly", "analytics"}, reportItemFunc, nil
	}
	if op == bulk.OpProgress {
		return nil, nil, fmt.Errorf("progress runs through 'cohort bulk progress'")
	}

	records, err := loadRoster()
	if err != nil {
		return nil, nil, err
	}
	keys := keysOf(records)
	byIndex := recordIndex(records)

	lookup := func(key string) (models.ProjectRecord, error) {
		rec, ok := byIndex[key]
		if !ok {
			return rec, fmt.Errorf("index %s not in roster", key)
		}
		return rec, nil
	}

	switch op {
	case bulk.OpFolders:
		return keys, func() (bulk.ItemFunc, error) {
			sc, err := getScaffolder()
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, key string) error {
				rec, err := lookup(key)
				if err != nil {
					return err
				}
				_, err = sc.CreateStudentFolder(ctx, rec)
				return err
			}, nil
		}, nil
	case bulk.OpIssues:
		return keys, func() (bulk.ItemFunc, error) {
			sc, err := getScaffolder()
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, key string) error {
				rec, err := lookup(key)
				if err != nil {
					return err
				}
				_, _, err = sc.CreateStudentIssues(ctx, rec)
				return err
			}, nil
		}, nil
	case bulk.OpInvitations:
		return keys, func() (bulk.ItemFunc, error) {
			inv, err := getInviter()
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, key string) error {
				rec, err := lookup(key)
				if err != nil {
					return err
				}
				if res := inv.Send(ctx, rec); !res.Success {
					return errors.New(res.Error)
				}
				return nil
			}, nil
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown operation: %s (use: folders, issues, invites, progress, reports)", op)
}

// reportItemFunc generates one stored report per key: weekly, monthly, or
// analytics.
func reportItemFunc() (bulk.ItemFunc, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	log := getLogger()
	return func(ctx context.Context, key string) error {
		snap, err := s.LatestSnapshot(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("no snapshots collected yet")
		}
		if err != nil {
			return err
		}
		col := &progress.Collector{Store: s, Log: log}
		switch key {
		case "weekly":
			previous, err := s.PreviousSnapshot(ctx, snap.TakenAt)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			_, err = col.WeeklyReport(ctx, snap, previous)
			return err
		case "monthly":
			history, err := snapshotHistory(ctx, s, snap)
			if err != nil {
				return err
			}
			_, err = col.MonthlyReport(ctx, snap, history)
			return err
		case "analytics":
			history, err := snapshotHistory(ctx, s, snap)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(analytics.Generate(snap, history))
			if err != nil {
				return err
			}
			return s.SaveReport(ctx, &models.Report{Kind: models.ReportAnalytics, Payload: payload})
		}
		return fmt.Errorf("unknown report kind: %s", key)
	}, nil
}

func bulkOpRun(cmd *cobra.Command, op string) error {
	keys, makeFn, err := bulkTarget(op)
	if err != nil {
		return err
	}
	_, err = runBulk(cmd, op, keys, makeFn)
	return err
}

// runBulk drives one paced run end to end. Interrupts cancel the run
// cleanly; the partial outcome is still printed and recorded.
func runBulk(cmd *cobra.Command, op string, keys []string, makeFn func() (bulk.ItemFunc, error)) (*models.BulkRun, error) {
	batch, delay, workers := bulkPacing()
	if len(keys) > largeRosterWarn {
		ui.Warning("Large number of students (%d) - operation may take significant time", len(keys))
	}

	if dryRun {
		est := (&bulk.Runner{BatchSize: batch, Delay: delay, MaxWorkers: workers}).Estimate(op, len(keys))
		ui.DryRunMsg("Would process %d items in batches of %d with %d workers (about %s)",
			len(keys), batch, workers, est.Round(time.Second))
		return nil, nil
	}

	fn, err := makeFn()
	if err != nil {
		return nil, err
	}
	r, err := getRunner()
	if err != nil {
		return nil, err
	}
	ui.Info("Processing %d items in batches of %d, estimated time %s",
		len(keys), batch, r.Estimate(op, len(keys)).Round(time.Second))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	run, err := r.Run(ctx, op, keys, fn, printBulkProgress)
	fmt.Fprintln(ui.Out)
	if run != nil {
		printBulkOutcome(run)
	}
	if err != nil && errors.Is(err, context.Canceled) {
		return run, nil
	}
	return run, err
}

func printBulkProgress(p bulk.Progress) {
	fmt.Fprintf(ui.Out, "\r%s: %d/%d (%.0f%%)  ok %d  failed %d",
		p.Operation, p.Processed, p.Total, p.Percent, p.Succeeded, p.Failed)
}

func printBulkOutcome(run *models.BulkRun) {
	switch run.Status {
	case models.BulkCompleted:
		ui.Success("%s completed: %d items in %s", run.Operation, run.Processed, runDuration(run))
	case models.BulkCompletedWithFails:
		ui.Warning("%s completed with %d failures (%d of %d succeeded)",
			run.Operation, run.Failed, run.Succeeded, run.Processed)
		for _, it := range run.Items {
			if !it.Success {
				ui.Warning("%s: %s", it.Key, it.Error)
			}
		}
	case models.BulkCancelled:
		ui.Warning("%s cancelled after %d of %d items", run.Operation, run.Processed, run.Total)
	}
	for _, rec := range run.Recommendations {
		ui.Info("%s", rec)
	}
}

func runDuration(run *models.BulkRun) time.Duration {
	if run.EndedAt == nil {
		return 0
	}
	return run.EndedAt.Sub(run.StartedAt).Round(time.Second)
}

// bulkProgressRun collects every project concurrently and assembles the
// results into one snapshot.
func bulkProgressRun(cmd *cobra.Command) error {
	records, err := loadRoster()
	if err != nil {
		return err
	}
	keys := keysOf(records)
	byIndex := recordIndex(records)

	var mu sync.Mutex
	var projects []models.ProjectProgress

	makeFn := func() (bulk.ItemFunc, error) {
		col, err := getCollector()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, key string) error {
			rec, ok := byIndex[key]
			if !ok {
				return fmt.Errorf("index %s not in roster", key)
			}
			p, err := col.CollectOne(ctx, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			projects = append(projects, p)
			mu.Unlock()
			return nil
		}, nil
	}

	run, err := runBulk(cmd, bulk.OpProgress, keys, makeFn)
	if err != nil || run == nil {
		return err
	}
	if run.Status == models.BulkCancelled {
		ui.Info("Snapshot not saved (run cancelled)")
		return nil
	}
	if len(projects) == 0 {
		return nil
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].IndexNo < projects[j].IndexNo })
	snap := &models.Snapshot{
		TakenAt:  time.Now().UTC(),
		Projects: projects,
		Summary:  progress.Summarize(projects),
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.SaveSnapshot(cmd.Context(), snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	ui.Success("Snapshot %s saved (%d projects)", snap.ID, len(projects))
	return nil
}

// checkOrder fixes the display order of validation checks.
var checkOrder = []string{"roster", "configuration", "repository_access", "rate_limit", "supervisors", "state_dir"}

func bulkValidateRun(cmd *cobra.Command, args []string) error {
	op, err := normalizeOp(args[0])
	if err != nil {
		return err
	}

	pre := bulk.Prereqs{
		RosterPath:    rosterPath(),
		FolderPattern: viper.GetString("repository.folder_pattern"),
		Token:         viper.GetString("github.token"),
		Organization:  viper.GetString("github.organization"),
		Repository:    viper.GetString("github.repository"),
		Supervisors:   supervisors(),
		StateDir:      viper.GetString("state_dir"),
	}
	if client, err := getGitHub(); err == nil {
		pre.Client = client
	}

	v := bulk.ValidatePrerequisites(cmd.Context(), op, pre)

	table := ui.Table([]string{"Check", "Result"})
	for _, name := range checkOrder {
		if result, ok := v.Checks[name]; ok {
			table.Append([]string{name, result})
		}
	}
	table.Render()

	for _, w := range v.Warnings {
		ui.Warning("%s", w)
	}
	for _, e := range v.Errors {
		ui.Error("%s", e)
	}
	if !v.Valid {
		return fmt.Errorf("%d blocking issues found", len(v.Errors))
	}
	ui.Success("All prerequisites for %s are satisfied", op)
	return nil
}

func bulkStatsRun(cmd *cobra.Command, args []string) error {
	op, err := normalizeOp(args[0])
	if err != nil {
		return err
	}
	r, err := getRunner()
	if err != nil {
		return err
	}
	st, err := r.Stats(cmd.Context(), op)
	if err != nil {
		return err
	}
	if st.Runs == 0 {
		ui.Info("No %s runs recorded", op)
		return nil
	}

	ui.Info("%d runs, %d items, %.1f%% success, latest status %s",
		st.Runs, st.TotalItems, st.SuccessRate, st.LatestStatus)
	if st.AverageItem > 0 {
		ui.Info("average item duration %s", st.AverageItem.Round(time.Millisecond))
	}
	if len(st.Failures) > 0 {
		table := ui.Table([]string{"Failure", "Count"})
		for _, msg := range sortedKeys(st.Failures) {
			table.Append([]string{msg, fmt.Sprintf("%d", st.Failures[msg])})
		}
		table.Render()
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bulkHistoryRun(cmd *cobra.Command, args []string) error {
	op := ""
	if len(args) > 0 {
		var err error
		op, err = normalizeOp(args[0])
		if err != nil {
			return err
		}
	}
	r, err := getRunner()
	if err != nil {
		return err
	}
	runs, err := r.History(cmd.Context(), op, bulkHistoryLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No bulk runs recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Operation", "Status", "Items", "OK", "Failed", "Started", "Duration"})
	for _, run := range runs {
		table.Append([]string{
			run.ID,
			run.Operation,
			string(run.Status),
			fmt.Sprintf("%d", run.Total),
			fmt.Sprintf("%d", run.Succeeded),
			fmt.Sprintf("%d", run.Failed),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			runDuration(run).String(),
		})
	}
	table.Render()
	return nil
}

func bulkEstimateRun(cmd *cobra.Command, args []string) error {
	op, err := normalizeOp(args[0])
	if err != nil {
		return err
	}

	n := 3
	if op != bulk.OpReports {
		records, err := loadRoster()
		if err != nil {
			return err
		}
		n = len(records)
	}

	batch, delay, workers := bulkPacing()
	r := &bulk.Runner{BatchSize: batch, Delay: delay, MaxWorkers: workers}
	ui.Info("Estimated time for %s over %d items: %s", op, n, r.Estimate(op, n).Round(time.Second))
	return nil
}

func bulkRetryRun(cmd *cobra.Command, args []string) error {
	op, err := normalizeOp(args[0])
	if err != nil {
		return err
	}
	if op == bulk.OpProgress {
		return fmt.Errorf("progress retry is not supported; run 'cohort bulk progress' again instead")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	last, err := s.LatestBulkRun(cmd.Context(), op)
	if errors.Is(err, store.ErrNotFound) {
		ui.Info("No previous %s run to retry", op)
		return nil
	}
	if err != nil {
		return err
	}
	failed := last.FailedKeys()
	if len(failed) == 0 {
		ui.Success("Latest %s run had no failures", op)
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would retry %d failed items from run %s", len(failed), last.ID)
		return nil
	}

	_, makeFn, err := bulkTarget(op)
	if err != nil {
		return err
	}
	fn, err := makeFn()
	if err != nil {
		return err
	}
	r, err := getRunner()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	run, err := r.RetryFailed(ctx, op, fn, printBulkProgress)
	fmt.Fprintln(ui.Out)
	if run != nil {
		printBulkOutcome(run)
	}
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
