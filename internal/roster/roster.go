// Package roster loads and validates the course roster CSV.
//
// The roster is one row per student project with columns Student_Name,
// Student_ID, Research_Area, GitHub_User_Name and Mail. GitHub_User_Name
// accepts either a bare username or a github.com profile URL.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"cohort/internal/models"
)

// Column headers expected in the roster CSV.
const (
	colStudentName  = "Student_Name"
	colStudentID    = "Student_ID"
	colResearchArea = "Research_Area"
	colGitHubUser   = "GitHub_User_Name"
	colMail         = "Mail"
)

var (
	githubURLRe  = regexp.MustCompile(`(?i)(?:https?://)?github\.com/([^/?#\s]+)`)
	usernameRe   = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,38})$`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
	multiDashRe  = regexp.MustCompile(`-{2,}`)
	placeholderA = "{index}"
	placeholderB = "{area}"
)

// Load reads the roster CSV. Rows missing an index number or research area
// are skipped; a warning string per skipped or suspicious row is returned
// alongside the records.
func Load(path, folderPattern string) ([]models.ProjectRecord, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	return Parse(f, folderPattern)
}

// Parse reads roster records from r. See Load.
func Parse(r io.Reader, folderPattern string) ([]models.ProjectRecord, []string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("roster is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read roster header: %w", err)
	}

	// Strip a UTF-8 BOM from exported spreadsheets.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{colStudentID, colResearchArea} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("roster missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []models.ProjectRecord
	var warnings []string
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("read roster row %d: %w", line, err)
		}

		rec := models.ProjectRecord{
			IndexNo:      field(row, colStudentID),
			StudentName:  field(row, colStudentName),
			ResearchArea: field(row, colResearchArea),
			GitHubUser:   ExtractGitHubUsername(field(row, colGitHubUser)),
			Email:        field(row, colMail),
		}
		if rec.IndexNo == "" || rec.ResearchArea == "" {
			warnings = append(warnings, fmt.Sprintf("row %d: missing index number or research area, skipped", line))
			continue
		}
		if rec.GitHubUser == "" {
			warnings = append(warnings, fmt.Sprintf("row %d: no GitHub username for %s", line, rec.IndexNo))
		}

		rec.ResearchAreaClean = CleanFolderName(rec.ResearchArea)
		rec.FolderName = FolderName(rec, folderPattern)
		records = append(records, rec)
	}

	return records, warnings, nil
}

// ExtractGitHubUsername returns the username from a bare value or a
// github.com profile URL. Unparsable URLs return the trimmed input.
func ExtractGitHubUsername(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	v = strings.TrimPrefix(v, "@")

	lower := strings.ToLower(v)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "github.com") {
		return v
	}
	if m := githubURLRe.FindStringSubmatch(v); m != nil {
		return strings.TrimRight(m[1], "/")
	}
	return v
}

// ValidUsername reports whether s is a plausible GitHub username.
func ValidUsername(s string) bool {
	return usernameRe.MatchString(s)
}

// CleanFolderName lowercases s and collapses every non-alphanumeric run
// into a single hyphen, suitable for folder and label names.
func CleanFolderName(s string) string {
	cleaned := nonAlnumRe.ReplaceAllString(strings.ToLower(s), "-")
	cleaned = multiDashRe.ReplaceAllString(cleaned, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "project"
	}
	return cleaned
}

// FolderName renders the folder naming pattern for a record. The pattern
// understands {index} and {area}; the default is "{index}-{area}".
func FolderName(rec models.ProjectRecord, pattern string) string {
	if pattern == "" {
		pattern = placeholderA + "-" + placeholderB
	}
	out := strings.ReplaceAll(pattern, placeholderA, rec.IndexNo)
	out = strings.ReplaceAll(out, placeholderB, rec.ResearchAreaClean)
	return out
}

// Validate checks a loaded roster for duplicate indices, invalid usernames
// and missing emails. Findings are informational, not fatal.
func Validate(records []models.ProjectRecord) []string {
	var findings []string
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.IndexNo] {
			findings = append(findings, fmt.Sprintf("%s: duplicate index number", rec.IndexNo))
		}
		seen[rec.IndexNo] = true

		switch {
		case rec.GitHubUser == "":
			findings = append(findings, fmt.Sprintf("%s: missing GitHub username", rec.IndexNo))
		case !ValidUsername(rec.GitHubUser):
			findings = append(findings, fmt.Sprintf("%s: invalid GitHub username %q", rec.IndexNo, rec.GitHubUser))
		}
		if rec.Email == "" {
			findings = append(findings, fmt.Sprintf("%s: missing email", rec.IndexNo))
		}
	}
	return findings
}

// AssignSupervisors distributes supervisors over records round-robin,
// perProject supervisors each. The assignment is deterministic in roster
// order.
func AssignSupervisors(records []models.ProjectRecord, supervisors []models.Supervisor, perProject int) map[string][]string {
	assignments := make(map[string][]string, len(records))
	if len(supervisors) == 0 || perProject <= 0 {
		return assignments
	}
	if perProject > len(supervisors) {
		perProject = len(supervisors)
	}

	next := 0
	for _, rec := range records {
		assigned := make([]string, 0, perProject)
		for i := 0; i < perProject; i++ {
			assigned = append(assigned, supervisors[(next+i)%len(supervisors)].GitHubUser)
		}
		next = (next + perProject) % len(supervisors)
		assignments[rec.IndexNo] = assigned
	}
	return assignments
}
