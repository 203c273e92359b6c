package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cohort/internal/board"
	"cohort/internal/bulk"
	"cohort/internal/gh"
	"cohort/internal/logging"
	"cohort/internal/models"
	"cohort/internal/output"
	"cohort/internal/plan"
	"cohort/internal/store"
	"cohort/internal/templates"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	ghClient  gh.Client
	zlog      *zap.Logger

	verbose   bool
	dryRun    bool
	assumeYes bool
)

var rootCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Administer a GitHub-hosted research project course",
	Long: `cohort administers a university research-project course hosted in a
single GitHub organization repository. It provisions the course repo,
scaffolds student folders, opens milestone issues, invites students and
supervisors, tracks progress, and keeps the shared dashboard current.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if zlog != nil {
		_ = zlog.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().BoolVar(&assumeYes, "yes", false, "Skip confirmation prompts")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/cohort/config.yaml)")
	rootCmd.PersistentFlags().String("roster", "", "Roster CSV path (overrides roster.path)")
}

func initConfig() {
	// A .env file may carry GITHUB_TOKEN; load it before viper reads the
	// environment.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "cohort")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("COHORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// The token usually lives in the plain GITHUB_TOKEN variable.
	_ = viper.BindEnv("github.token", "COHORT_GITHUB_TOKEN", "GITHUB_TOKEN")

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "cohort")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "cohort.db"))
	viper.SetDefault("github.organization", "")
	viper.SetDefault("github.repository", "")
	viper.SetDefault("github.token", "")
	viper.SetDefault("course.code", "CS4681")
	viper.SetDefault("course.name", "Advanced Machine Learning")
	viper.SetDefault("course.academic_year", "2024/2025")
	viper.SetDefault("course.semester", "7")
	viper.SetDefault("course.start_date", "")
	viper.SetDefault("roster.path", "projects.csv")
	viper.SetDefault("roster.supervisors", []any{})
	viper.SetDefault("repository.private", true)
	viper.SetDefault("repository.folder_pattern", "{index}-{area}")
	viper.SetDefault("board.name", board.DefaultName)
	viper.SetDefault("board.columns", []string{})
	viper.SetDefault("bulk.batch_size", bulk.DefaultBatchSize)
	viper.SetDefault("bulk.delay", bulk.DefaultDelay)
	viper.SetDefault("bulk.max_workers", bulk.DefaultMaxWorkers)
	viper.SetDefault("plan.path", "")
	viper.SetDefault("templates.dir", "")
	viper.SetDefault("invitations.student_permission", "push")
	viper.SetDefault("invitations.supervisor_permission", "admin")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store, GitHub client, and logger initialize lazily so config and
	// version commands run without a db or token.
}

// rootRun handles `cohort` with no subcommand: show the latest snapshot
// summary when one exists.
func rootRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return cmd.Help()
	}

	snap, err := s.LatestSnapshot(cmd.Context())
	if err != nil {
		return cmd.Help()
	}

	printSnapshotSummary(snap)
	return nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLogger returns the shared operational logger, initializing it on
// first call. Logging failures degrade to a no-op logger.
func getLogger() *zap.Logger {
	if zlog != nil {
		return zlog
	}
	l, err := logging.New(verbose, viper.GetString("state_dir"))
	if err != nil {
		l = logging.Nop()
	}
	zlog = l
	return zlog
}

// getGitHub returns the shared GitHub client. Requires github.token and
// github.organization.
func getGitHub() (gh.Client, error) {
	if ghClient != nil {
		return ghClient, nil
	}

	token := viper.GetString("github.token")
	if token == "" {
		return nil, fmt.Errorf("github.token is not set (export GITHUB_TOKEN or add it to .env)")
	}
	org := viper.GetString("github.organization")
	if org == "" {
		return nil, fmt.Errorf("github.organization is not set")
	}

	ghClient = gh.NewRESTClient(token, org, getLogger())
	return ghClient, nil
}

// repoName returns the configured course repository name.
func repoName() (string, error) {
	repo := viper.GetString("github.repository")
	if repo == "" {
		return "", fmt.Errorf("github.repository is not set")
	}
	return repo, nil
}

func courseInfo() templates.CourseInfo {
	return templates.CourseInfo{
		Organization: viper.GetString("github.organization"),
		Repository:   viper.GetString("github.repository"),
		Code:         viper.GetString("course.code"),
		Name:         viper.GetString("course.name"),
		AcademicYear: viper.GetString("course.academic_year"),
		Semester:     viper.GetString("course.semester"),
	}
}

// supervisors reads the configured supervisor list.
func supervisors() []models.Supervisor {
	var sups []models.Supervisor
	if err := viper.UnmarshalKey("roster.supervisors", &sups); err != nil {
		ui.Warning("Cannot parse roster.supervisors: %v", err)
		return nil
	}
	return sups
}

// getPlan loads the milestone plan, embedded default unless plan.path is
// set.
func getPlan() (*plan.Plan, error) {
	p, err := plan.Load(viper.GetString("plan.path"))
	if err != nil {
		return nil, fmt.Errorf("load milestone plan: %w", err)
	}
	return p, nil
}

// courseStartDate parses course.start_date, defaulting to today.
func courseStartDate() (time.Time, error) {
	raw := viper.GetString("course.start_date")
	if raw == "" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse course.start_date %q: %w", raw, err)
	}
	return t, nil
}

// confirm prompts before a mutating operation. --yes and --dry-run skip
// the prompt.
func confirm(prompt string) bool {
	if assumeYes || dryRun {
		return true
	}
	fmt.Fprintf(ui.Out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
