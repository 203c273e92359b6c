// Package templates loads and renders the markdown templates deployed to
// the course repository. Templates ship embedded; a directory on disk can
// override any of them by relative name.
package templates

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cohort/internal/gh"
	"cohort/internal/models"
)

//go:embed defaults
var defaultFS embed.FS

// tokenRe matches {TOKEN} placeholders left in rendered content.
var tokenRe = regexp.MustCompile(`\{([A-Z][A-Z0-9_]*)\}`)

// Vars maps placeholder names to replacement values.
type Vars map[string]string

// Merge returns a copy of v with extra applied on top.
func (v Vars) Merge(extra Vars) Vars {
	out := make(Vars, len(v)+len(extra))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range extra {
		out[k] = val
	}
	return out
}

// StudentVars returns the per-student placeholder set.
func StudentVars(rec models.ProjectRecord) Vars {
	github := rec.GitHubUser
	if github == "" {
		github = "Not provided"
	}
	email := rec.Email
	if email == "" {
		email = "Not provided"
	}
	mentions := "@supervisor"
	if len(rec.Supervisors) > 0 {
		tags := make([]string, len(rec.Supervisors))
		for i, u := range rec.Supervisors {
			tags[i] = "@" + u
		}
		mentions = strings.Join(tags, " ")
	}
	return Vars{
		"STUDENT_INDEX":       rec.IndexNo,
		"STUDENT_NAME":        rec.StudentName,
		"RESEARCH_AREA":       rec.ResearchArea,
		"GITHUB_USERNAME":     github,
		"STUDENT_EMAIL":       email,
		"FOLDER_NAME":         rec.FolderName,
		"SUPERVISORS":         strings.Join(rec.Supervisors, ", "),
		"SUPERVISOR_MENTIONS": mentions,
		"START_DATE":          time.Now().Format("2006-01-02"),
	}
}

// CourseInfo carries the course-level template values.
type CourseInfo struct {
	Organization string
	Repository   string
	Code         string
	Name         string
	AcademicYear string
	Semester     string
}

// CourseVars returns the course-level placeholder set.
func CourseVars(c CourseInfo) Vars {
	return Vars{
		"ORGANIZATION":   c.Organization,
		"MAIN_REPO_NAME": c.Repository,
		"COURSE_CODE":    c.Code,
		"COURSE_NAME":    c.Name,
		"ACADEMIC_YEAR":  c.AcademicYear,
		"SEMESTER":       c.Semester,
		"CURRENT_DATE":   time.Now().Format("2006-01-02"),
	}
}

// Render substitutes {TOKEN} placeholders in content.
func Render(content string, vars Vars) string {
	for k, v := range vars {
		content = strings.ReplaceAll(content, "{"+k+"}", v)
	}
	return content
}

// Unresolved returns the distinct placeholder names still present in
// content, sorted.
func Unresolved(content string) []string {
	seen := map[string]bool{}
	for _, m := range tokenRe.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Store resolves template names to content, preferring files under dir
// (when set) over the embedded defaults.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore returns a Store. dir may be empty to use only embedded
// templates.
func NewStore(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, log: log}
}

// Load returns the content of the named template, e.g.
// "project/research_proposal.md".
func (s *Store) Load(name string) (string, error) {
	if s.dir != "" {
		override := filepath.Join(s.dir, filepath.FromSlash(name))
		if b, err := os.ReadFile(override); err == nil {
			s.log.Debug("loaded template override", zap.String("name", name), zap.String("path", override))
			return string(b), nil
		}
	}
	b, err := defaultFS.ReadFile("defaults/" + name)
	if err != nil {
		return "", fmt.Errorf("load template %s: %w", name, err)
	}
	return string(b), nil
}

// Names lists every embedded template name, sorted.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := fs.WalkDir(defaultFS, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, strings.TrimPrefix(path, "defaults/"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk templates: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// VerifyResult reports the render outcome for one template.
type VerifyResult struct {
	Name       string   `json:"name"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Verify renders every embedded template with vars and reports the
// placeholders that remain unresolved per template.
func (s *Store) Verify(vars Vars) ([]VerifyResult, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	out := make([]VerifyResult, 0, len(names))
	for _, name := range names {
		content, err := s.Load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, VerifyResult{
			Name:       name,
			Unresolved: Unresolved(Render(content, vars)),
		})
	}
	return out, nil
}

// IssueTemplateMeta is the YAML front matter GitHub reads from files under
// .github/ISSUE_TEMPLATE.
type IssueTemplateMeta struct {
	Name      string   `yaml:"name"`
	About     string   `yaml:"about"`
	Title     string   `yaml:"title"`
	Labels    []string `yaml:"labels,omitempty"`
	Assignees []string `yaml:"assignees,omitempty"`
}

// WithFrontMatter prepends meta as fenced YAML front matter to body.
func WithFrontMatter(meta IssueTemplateMeta, body string) (string, error) {
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal front matter: %w", err)
	}
	return "---\n" + string(fm) + "---\n\n" + body, nil
}

// courseDocs maps repository destinations to embedded template names, in
// deploy order.
var courseDocs = []struct {
	Dst string
	Src string
}{
	{"README.md", "repository/main_readme.md"},
	{".gitignore", "repository/gitignore"},
	{"requirements.txt", "repository/requirements.txt"},
	{"docs/project_overview.md", "repository/project_overview.md"},
	{"docs/project_guidelines.md", "repository/project_guidelines.md"},
	{"docs/supervisor_guide.md", "repository/supervisor_guide.md"},
	{"projects/README.md", "repository/projects_readme.md"},
	{"templates/project_readme_template.md", "project/student_readme.md"},
}

// issueTemplates are the files deployed to .github/ISSUE_TEMPLATE.
var issueTemplates = []struct {
	File string
	Src  string
	Meta IssueTemplateMeta
}{
	{
		File: "progress_report.md",
		Src:  "issues/progress_report.md",
		Meta: IssueTemplateMeta{
			Name:   "Progress Report",
			About:  "Weekly progress report for your research project",
			Title:  "📝 Progress Report - Week ",
			Labels: []string{"progress-report"},
		},
	},
	{
		File: "milestone_submission.md",
		Src:  "issues/milestone_submission.md",
		Meta: IssueTemplateMeta{
			Name:   "Milestone Submission",
			About:  "Submit a completed milestone for supervisor review",
			Title:  "Milestone Submission - ",
			Labels: []string{"submission"},
		},
	},
	{
		File: "literature_review.md",
		Src:  "issues/literature_review.md",
		Meta: IssueTemplateMeta{
			Name:   "Literature Review Check-in",
			About:  "Interim check-in on literature survey progress",
			Title:  "📚 Literature Review Check-in - ",
			Labels: []string{"literature-review"},
		},
	},
	{
		File: "methodology.md",
		Src:  "issues/methodology.md",
		Meta: IssueTemplateMeta{
			Name:   "Methodology Review",
			About:  "Request supervisor review of methodology decisions",
			Title:  "🔧 Methodology Review - ",
			Labels: []string{"implementation"},
		},
	},
	{
		File: "mid_evaluation.md",
		Src:  "issues/mid_evaluation.md",
		Meta: IssueTemplateMeta{
			Name:   "Mid Evaluation",
			About:  "Mid-course progress evaluation",
			Title:  "Mid Evaluation - ",
			Labels: []string{"mid-evaluation"},
		},
	},
	{
		File: "final_evaluation.md",
		Src:  "issues/final_evaluation.md",
		Meta: IssueTemplateMeta{
			Name:   "Final Evaluation",
			About:  "Final submission and evaluation",
			Title:  "📊 Final Evaluation - ",
			Labels: []string{"final-evaluation"},
		},
	},
}

// DeployCourseDocs renders and pushes the course-wide documents. It
// returns the repository paths written so far, also on error.
func (s *Store) DeployCourseDocs(ctx context.Context, client gh.Client, repo string, vars Vars) ([]string, error) {
	var deployed []string
	for _, doc := range courseDocs {
		content, err := s.Load(doc.Src)
		if err != nil {
			return deployed, err
		}
		msg := fmt.Sprintf("Initialize %s", doc.Dst)
		if err := client.PutFile(ctx, repo, doc.Dst, msg, Render(content, vars)); err != nil {
			return deployed, fmt.Errorf("deploy %s: %w", doc.Dst, err)
		}
		deployed = append(deployed, doc.Dst)
		s.log.Debug("deployed course doc", zap.String("path", doc.Dst))
	}
	return deployed, nil
}

// DeployIssueTemplates pushes the issue templates with front matter to
// .github/ISSUE_TEMPLATE.
func (s *Store) DeployIssueTemplates(ctx context.Context, client gh.Client, repo string, vars Vars) ([]string, error) {
	var deployed []string
	for _, t := range issueTemplates {
		body, err := s.Load(t.Src)
		if err != nil {
			return deployed, err
		}
		content, err := WithFrontMatter(t.Meta, Render(body, vars))
		if err != nil {
			return deployed, err
		}
		dst := ".github/ISSUE_TEMPLATE/" + t.File
		msg := fmt.Sprintf("Add %s issue template", strings.TrimSuffix(t.File, ".md"))
		if err := client.PutFile(ctx, repo, dst, msg, content); err != nil {
			return deployed, fmt.Errorf("deploy %s: %w", dst, err)
		}
		deployed = append(deployed, dst)
		s.log.Debug("deployed issue template", zap.String("path", dst))
	}
	return deployed, nil
}

// DeployStudentReadme renders and pushes one student's folder README.
func (s *Store) DeployStudentReadme(ctx context.Context, client gh.Client, repo string, rec models.ProjectRecord, vars Vars) (string, error) {
	content, err := s.Load("project/student_readme.md")
	if err != nil {
		return "", err
	}
	dst := "projects/" + rec.FolderName + "/README.md"
	msg := fmt.Sprintf("Add README template for %s", rec.IndexNo)
	if err := client.PutFile(ctx, repo, dst, msg, Render(content, vars.Merge(StudentVars(rec)))); err != nil {
		return "", fmt.Errorf("deploy %s: %w", dst, err)
	}
	return dst, nil
}
