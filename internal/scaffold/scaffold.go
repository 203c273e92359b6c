// Package scaffold provisions the course repository: the repository
// itself, course documents, per-student folders, milestone issues, and
// folder-level access control.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"cohort/internal/gh"
	"cohort/internal/models"
	"cohort/internal/plan"
	"cohort/internal/templates"
)

// gitkeepContent is placed in empty directories so git tracks them.
const gitkeepContent = "# This file keeps the directory in git\n" +
	"# You can delete this file once you add other files to this directory\n"

// Scaffolder provisions the course repository and student workspaces.
type Scaffolder struct {
	Client    gh.Client
	Templates *templates.Store
	Plan      *plan.Plan
	Course    templates.CourseInfo
	StartDate time.Time
	Private   bool
	Log       *zap.Logger
}

func (s *Scaffolder) repo() string { return s.Course.Repository }

func (s *Scaffolder) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ProvisionResult reports what ProvisionCourseRepo did.
type ProvisionResult struct {
	Repo           *gh.Repo
	Created        bool
	Docs           []string
	IssueTemplates []string
	Milestones     []string
}

// ProvisionCourseRepo creates the course repository (or adopts an existing
// one), deploys the course documents and issue templates, and creates one
// repository milestone per plan milestone with due dates counted from the
// course start.
func (s *Scaffolder) ProvisionCourseRepo(ctx context.Context, adoptExisting bool) (*ProvisionResult, error) {
	result := &ProvisionResult{}

	repo, err := s.Client.GetRepo(ctx, s.repo())
	switch {
	case err == nil:
		s.logger().Info("using existing repository", zap.String("repo", s.repo()))
	case errors.Is(err, gh.ErrNotFound):
		if adoptExisting {
			return nil, fmt.Errorf("repository %s does not exist", s.repo())
		}
		description := fmt.Sprintf("Research Projects Repository - %s", s.Course.Name)
		repo, err = s.Client.CreateOrgRepo(ctx, s.repo(), description, s.Private)
		if err != nil {
			return nil, fmt.Errorf("create repository: %w", err)
		}
		result.Created = true
		s.logger().Info("created repository", zap.String("repo", s.repo()), zap.Bool("private", s.Private))
	default:
		return nil, err
	}
	result.Repo = repo

	vars := templates.CourseVars(s.Course)
	result.Docs, err = s.Templates.DeployCourseDocs(ctx, s.Client, s.repo(), vars)
	if err != nil {
		return result, err
	}
	result.IssueTemplates, err = s.Templates.DeployIssueTemplates(ctx, s.Client, s.repo(), vars)
	if err != nil {
		return result, err
	}

	for _, m := range s.Plan.Milestones {
		description := fmt.Sprintf("%s milestone for all projects", m.Name)
		if err := s.Client.CreateMilestone(ctx, s.repo(), m.Name, description, m.DueDate(s.StartDate)); err != nil {
			return result, fmt.Errorf("create milestone %q: %w", m.Name, err)
		}
		result.Milestones = append(result.Milestones, m.Name)
	}

	return result, nil
}

// studentTemplates maps file names inside a student folder to their
// templates. Paths are relative to the folder root.
var studentTemplates = []struct {
	Path string
	Src  string
}{
	{"README.md", "project/student_readme.md"},
	{"docs/research_proposal.md", "project/research_proposal.md"},
	{"docs/literature_review.md", "project/literature_review.md"},
	{"docs/methodology.md", "project/methodology.md"},
	{"docs/usage_instructions.md", "project/usage_instructions.md"},
	{"requirements.txt", "project/requirements.txt"},
}

// keptDirs are the empty directories tracked with a .gitkeep.
var keptDirs = []string{"docs/progress_reports", "src", "data", "experiments", "results"}

// StudentFolderFiles renders the full file set for one student folder,
// keyed by repository path.
func (s *Scaffolder) StudentFolderFiles(rec models.ProjectRecord) (map[string]string, error) {
	vars := templates.CourseVars(s.Course).Merge(templates.StudentVars(rec))
	base := "projects/" + rec.FolderName

	files := make(map[string]string, len(studentTemplates)+len(keptDirs))
	for _, t := range studentTemplates {
		content, err := s.Templates.Load(t.Src)
		if err != nil {
			return nil, err
		}
		files[base+"/"+t.Path] = templates.Render(content, vars)
	}
	for _, dir := range keptDirs {
		files[base+"/"+dir+"/.gitkeep"] = gitkeepContent
	}
	return files, nil
}

// CreateStudentFolder pushes the student folder file set. Existing files
// are updated in place, so the call is safe to repeat.
func (s *Scaffolder) CreateStudentFolder(ctx context.Context, rec models.ProjectRecord) ([]string, error) {
	files, err := s.StudentFolderFiles(rec)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var created []string
	for _, p := range paths {
		msg := fmt.Sprintf("Initialize %s for %s", p, rec.IndexNo)
		if err := s.Client.PutFile(ctx, s.repo(), p, msg, files[p]); err != nil {
			return created, fmt.Errorf("create %s: %w", p, err)
		}
		created = append(created, p)
	}
	s.logger().Info("created student folder",
		zap.String("index", rec.IndexNo),
		zap.String("folder", rec.FolderName),
		zap.Int("files", len(created)))
	return created, nil
}

// CreateStudentIssues opens one milestone issue per plan milestone for the
// record. Milestones that already have an issue for this student are
// skipped, so the call is safe to repeat.
func (s *Scaffolder) CreateStudentIssues(ctx context.Context, rec models.ProjectRecord) (created []gh.Issue, skipped []string, err error) {
	existing, err := s.Client.ListRepoIssues(ctx, s.repo(), "all", []string{rec.Label()})
	if err != nil {
		return nil, nil, fmt.Errorf("list issues for %s: %w", rec.IndexNo, err)
	}
	have := make(map[string]bool, len(existing))
	for _, is := range existing {
		have[is.Title] = true
	}

	vars := templates.CourseVars(s.Course).Merge(templates.StudentVars(rec))
	for _, m := range s.Plan.Milestones {
		title := m.IssueTitle(rec.IndexNo)
		if have[title] {
			skipped = append(skipped, title)
			continue
		}
		body, err := s.Templates.Load("issues/" + m.Template)
		if err != nil {
			return created, skipped, err
		}
		issue, err := s.Client.CreateIssue(ctx, s.repo(), title, templates.Render(body, vars), m.IssueLabels(rec), nil)
		if err != nil {
			return created, skipped, fmt.Errorf("create issue %q: %w", title, err)
		}
		created = append(created, *issue)
		s.logger().Debug("created milestone issue", zap.String("title", title))
	}
	return created, skipped, nil
}

// Codeowners builds the CODEOWNERS content: one rule per student folder
// (owner plus assigned supervisors) and admin-team rules for the
// repository root.
func (s *Scaffolder) Codeowners(records []models.ProjectRecord) string {
	content := "# CODEOWNERS file for folder-level access control\n"
	content += "# Each student can only modify their own folder via pull requests\n"
	content += "# Direct pushes to main branch require code owner approval\n\n"

	for _, rec := range records {
		if rec.GitHubUser == "" {
			continue
		}
		owners := "@" + rec.GitHubUser
		for _, sup := range rec.Supervisors {
			owners += " @" + sup
		}
		content += fmt.Sprintf("projects/%s/* %s\n", rec.FolderName, owners)
	}

	admin := fmt.Sprintf("@%s/admin", s.Course.Organization)
	content += "\n# Root files - only repository admins can modify\n"
	content += fmt.Sprintf("*.md %s\n", admin)
	content += fmt.Sprintf(".github/* %s\n", admin)
	content += fmt.Sprintf("docs/* %s\n", admin)
	return content
}

// SetupFolderProtection deploys CODEOWNERS and protects the default branch
// so folder changes need a code-owner approval.
func (s *Scaffolder) SetupFolderProtection(ctx context.Context, records []models.ProjectRecord) error {
	content := s.Codeowners(records)
	msg := "Setup CODEOWNERS for student folder access control"
	if err := s.Client.PutFile(ctx, s.repo(), ".github/CODEOWNERS", msg, content); err != nil {
		return fmt.Errorf("deploy CODEOWNERS: %w", err)
	}
	if err := s.Client.ProtectBranch(ctx, s.repo(), "main", true, 1); err != nil {
		return fmt.Errorf("protect main: %w", err)
	}
	s.logger().Info("folder protection enabled", zap.Int("records", len(records)))
	return nil
}
