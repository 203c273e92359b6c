package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cohort"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage cohort configuration.

Running bare 'cohort config' is the same as 'cohort config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# cohort configuration
# See: cohort config show (for effective values and sources)

# State/data directory (default: ~/.config/cohort)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/cohort/cohort.db)
# db_path: {{ .DBPath }}

# GitHub
github:
  # Organization that hosts the course repository
  organization: "{{ .Organization }}"

  # Course repository name
  repository: "{{ .Repository }}"

  # The API token is read from the GITHUB_TOKEN environment variable
  # (a .env file next to the binary works too). Avoid writing it here.
  # token: ""

# Course identity used in rendered documents
course:
  code: "{{ .CourseCode }}"
  name: "{{ .CourseName }}"
  academic_year: "{{ .AcademicYear }}"
  semester: "{{ .Semester }}"

  # Semester start date (YYYY-MM-DD); milestone due dates count from it
  # start_date: ""

# Roster
roster:
  # Roster CSV path (default: projects.csv)
  path: {{ .RosterPath }}

  # Supervisors get admin access and are assigned to projects round-robin
  supervisors: []
  #   - name: "Dr. Jane Smith"
  #     github: "janesmith"
  #     email: "jane@example.edu"

repository:
  # Create the course repository as private (default: true)
  private: {{ .RepoPrivate }}

  # Student folder naming pattern
  folder_pattern: "{{ .FolderPattern }}"

bulk:
  # Items per batch (default: 10)
  batch_size: {{ .BulkBatchSize }}

  # Pause between batches (default: 2s)
  delay: {{ .BulkDelay }}

  # Concurrent workers within a batch (default: 5)
  max_workers: {{ .BulkMaxWorkers }}

# Dashboard project board
# board:
#   name: "{{ .BoardName }}"
#   columns: []   # empty uses the standard eight columns

# Milestone plan YAML override (empty uses the embedded four milestones)
# plan:
#   path: ""

# Directory of template overrides (empty uses the embedded templates)
# templates:
#   dir: ""

# Collaborator permission levels
# invitations:
#   student_permission: push
#   supervisor_permission: admin
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	Organization   string
	Repository     string
	CourseCode     string
	CourseName     string
	AcademicYear   string
	Semester       string
	RosterPath     string
	RepoPrivate    bool
	FolderPattern  string
	BulkBatchSize  int
	BulkDelay      string
	BulkMaxWorkers int
	BoardName      string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		Organization:   viper.GetString("github.organization"),
		Repository:     viper.GetString("github.repository"),
		CourseCode:     viper.GetString("course.code"),
		CourseName:     viper.GetString("course.name"),
		AcademicYear:   viper.GetString("course.academic_year"),
		Semester:       viper.GetString("course.semester"),
		RosterPath:     viper.GetString("roster.path"),
		RepoPrivate:    viper.GetBool("repository.private"),
		FolderPattern:  viper.GetString("repository.folder_pattern"),
		BulkBatchSize:  viper.GetInt("bulk.batch_size"),
		BulkDelay:      viper.GetDuration("bulk.delay").String(),
		BulkMaxWorkers: viper.GetInt("bulk.max_workers"),
		BoardName:      viper.GetString("board.name"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "COHORT_STATE_DIR"},
	{Key: "db_path", EnvVar: "COHORT_DB_PATH"},
	{Key: "github.organization", EnvVar: "COHORT_GITHUB_ORGANIZATION"},
	{Key: "github.repository", EnvVar: "COHORT_GITHUB_REPOSITORY"},
	{Key: "github.token", EnvVar: "GITHUB_TOKEN"},
	{Key: "course.code", EnvVar: "COHORT_COURSE_CODE"},
	{Key: "course.name", EnvVar: "COHORT_COURSE_NAME"},
	{Key: "course.academic_year", EnvVar: "COHORT_COURSE_ACADEMIC_YEAR"},
	{Key: "course.semester", EnvVar: "COHORT_COURSE_SEMESTER"},
	{Key: "course.start_date", EnvVar: "COHORT_COURSE_START_DATE"},
	{Key: "roster.path", EnvVar: "COHORT_ROSTER_PATH"},
	{Key: "repository.private", EnvVar: "COHORT_REPOSITORY_PRIVATE"},
	{Key: "repository.folder_pattern", EnvVar: "COHORT_REPOSITORY_FOLDER_PATTERN"},
	{Key: "board.name", EnvVar: "COHORT_BOARD_NAME"},
	{Key: "bulk.batch_size", EnvVar: "COHORT_BULK_BATCH_SIZE"},
	{Key: "bulk.delay", EnvVar: "COHORT_BULK_DELAY"},
	{Key: "bulk.max_workers", EnvVar: "COHORT_BULK_MAX_WORKERS"},
	{Key: "plan.path", EnvVar: "COHORT_PLAN_PATH"},
	{Key: "templates.dir", EnvVar: "COHORT_TEMPLATES_DIR"},
	{Key: "invitations.student_permission", EnvVar: "COHORT_INVITATIONS_STUDENT_PERMISSION"},
	{Key: "invitations.supervisor_permission", EnvVar: "COHORT_INVITATIONS_SUPERVISOR_PERMISSION"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		// Never print the token itself.
		if k.Key == "github.token" && val != "" {
			val = "(set)"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-34s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'cohort config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
