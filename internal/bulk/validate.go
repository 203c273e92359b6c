package bulk

import (
	"context"
	"fmt"
	"os"

	"cohort/internal/gh"
	"cohort/internal/models"
	"cohort/internal/roster"
)

// largeRoster is the record count above which validation warns about
// operation time.
const largeRoster = 200

// rateWarnFloor is the remaining-request count below which validation
// warns about the GitHub rate limit.
const rateWarnFloor = 100

// Prereqs carries the environment a bulk run depends on.
type Prereqs struct {
	RosterPath    string
	FolderPattern string

	Token        string
	Organization string
	Repository   string

	Supervisors []models.Supervisor
	StateDir    string

	Client gh.Client
}

// Validation is the outcome of a prerequisite check. Errors make the
// result invalid; warnings are informational.
type Validation struct {
	Valid    bool              `json:"valid"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Checks   map[string]string `json:"checks"`
}

// ValidatePrerequisites checks that op can plausibly run: the roster is
// readable and populated, configuration is complete, the target repository
// is reachable, rate limit headroom remains and the state directory
// accepts writes.
func ValidatePrerequisites(ctx context.Context, op string, pre Prereqs) Validation {
	v := Validation{Valid: true, Checks: make(map[string]string)}

	records, _, err := roster.Load(pre.RosterPath, pre.FolderPattern)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Cannot read roster: %v", err))
		v.Checks["roster"] = "FAILED"
		v.Valid = false
		return v
	}
	if len(records) == 0 {
		v.Errors = append(v.Errors, "No students found in roster")
		v.Checks["roster"] = "FAILED"
		v.Valid = false
	} else {
		v.Checks["roster"] = fmt.Sprintf("OK (%d students)", len(records))
		if len(records) > largeRoster {
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("Large number of students (%d) - operation may take significant time", len(records)))
		}
	}

	for _, rec := range records {
		if rec.Email == "" {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Student %s: missing or empty field 'email'", rec.IndexNo))
		}
		if op == OpInvitations && rec.GitHubUser == "" {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Student %s: no GitHub username provided", rec.IndexNo))
		}
	}

	if missing := missingConfig(pre); len(missing) == 0 {
		v.Checks["configuration"] = "OK"
	} else {
		for _, key := range missing {
			v.Errors = append(v.Errors, "Configuration missing: "+key)
		}
		v.Checks["configuration"] = "FAILED"
		v.Valid = false
	}

	if needsRepository(op) {
		switch {
		case pre.Client == nil:
			v.Errors = append(v.Errors, "GitHub client not configured")
			v.Checks["repository_access"] = "FAILED"
			v.Valid = false
		default:
			if _, err := pre.Client.GetRepo(ctx, pre.Repository); err != nil {
				v.Errors = append(v.Errors,
					fmt.Sprintf("Repository %s/%s does not exist", pre.Organization, pre.Repository))
				v.Checks["repository_access"] = "FAILED"
				v.Valid = false
			} else {
				v.Checks["repository_access"] = "OK"
			}
		}
	}

	if pre.Client != nil {
		remaining, _, err := pre.Client.RateRemaining(ctx)
		switch {
		case err != nil:
			v.Warnings = append(v.Warnings, fmt.Sprintf("Could not check rate limit: %v", err))
			v.Checks["rate_limit"] = "WARNING"
		case remaining < rateWarnFloor:
			v.Warnings = append(v.Warnings, fmt.Sprintf("Low GitHub rate limit: %d requests remaining", remaining))
			v.Checks["rate_limit"] = "WARNING"
		default:
			v.Checks["rate_limit"] = fmt.Sprintf("OK (%d requests remaining)", remaining)
		}
	}

	if op == OpInvitations {
		if len(pre.Supervisors) == 0 {
			v.Warnings = append(v.Warnings, "No supervisors configured")
			v.Checks["supervisors"] = "WARNING"
		} else {
			v.Checks["supervisors"] = fmt.Sprintf("OK (%d supervisors)", len(pre.Supervisors))
		}
	}

	if pre.StateDir != "" {
		if err := writable(pre.StateDir); err != nil {
			v.Warnings = append(v.Warnings, fmt.Sprintf("State directory not writable: %v", err))
			v.Checks["state_dir"] = "WARNING"
		} else {
			v.Checks["state_dir"] = "OK"
		}
	}

	return v
}

func needsRepository(op string) bool {
	switch op {
	case OpFolders, OpIssues, OpInvitations:
		return true
	}
	return false
}

func missingConfig(pre Prereqs) []string {
	var missing []string
	if pre.Token == "" {
		missing = append(missing, "github.token")
	}
	if pre.Organization == "" {
		missing = append(missing, "github.organization")
	}
	if pre.Repository == "" {
		missing = append(missing, "github.repository")
	}
	return missing
}

// writable verifies dir exists and accepts a new file.
func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".cohort-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
