package templates

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/gh"
	"cohort/internal/models"
)

func testRecord() models.ProjectRecord {
	return models.ProjectRecord{
		IndexNo:           "2024001",
		StudentName:       "Alice Perera",
		ResearchArea:      "Machine Learning",
		ResearchAreaClean: "Machine-Learning",
		GitHubUser:        "aliceperera",
		Email:             "alice@uni.example",
		FolderName:        "2024001-Machine-Learning",
		Supervisors:       []string{"drsmith", "drjones"},
	}
}

func testCourseVars() Vars {
	return CourseVars(CourseInfo{
		Organization: "research-org",
		Repository:   "cs4681-projects",
		Code:         "CS4681",
		Name:         "Advanced Machine Learning",
		AcademicYear: "2025/2026",
		Semester:     "1",
	})
}

func TestStudentVars(t *testing.T) {
	vars := StudentVars(testRecord())
	assert.Equal(t, "2024001", vars["STUDENT_INDEX"])
	assert.Equal(t, "aliceperera", vars["GITHUB_USERNAME"])
	assert.Equal(t, "drsmith, drjones", vars["SUPERVISORS"])
	assert.Equal(t, "@drsmith @drjones", vars["SUPERVISOR_MENTIONS"])
	assert.NotEmpty(t, vars["START_DATE"])
}

func TestStudentVars_Fallbacks(t *testing.T) {
	rec := testRecord()
	rec.GitHubUser = ""
	rec.Email = ""
	rec.Supervisors = nil

	vars := StudentVars(rec)
	assert.Equal(t, "Not provided", vars["GITHUB_USERNAME"])
	assert.Equal(t, "Not provided", vars["STUDENT_EMAIL"])
	assert.Equal(t, "@supervisor", vars["SUPERVISOR_MENTIONS"])
	assert.Equal(t, "", vars["SUPERVISORS"])
}

func TestRender_LeavesUnknownTokens(t *testing.T) {
	out := Render("Hello {STUDENT_NAME}, fill in {YOUR_TITLE}", Vars{"STUDENT_NAME": "Alice"})
	assert.Equal(t, "Hello Alice, fill in {YOUR_TITLE}", out)
}

func TestUnresolved(t *testing.T) {
	left := Unresolved("a {FOO} b {BAR} c {FOO} d {not_a_token} e {x}")
	assert.Equal(t, []string{"BAR", "FOO"}, left)

	assert.Empty(t, Unresolved("nothing here"))
}

func TestMerge(t *testing.T) {
	base := Vars{"A": "1", "B": "2"}
	merged := base.Merge(Vars{"B": "3", "C": "4"})
	assert.Equal(t, Vars{"A": "1", "B": "3", "C": "4"}, merged)
	// Original untouched
	assert.Equal(t, "2", base["B"])
}

func TestStoreLoad_EmbeddedAndOverride(t *testing.T) {
	s := NewStore("", nil)
	content, err := s.Load("repository/main_readme.md")
	require.NoError(t, err)
	assert.Contains(t, content, "{COURSE_CODE}")

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "repository"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repository", "main_readme.md"), []byte("# Custom\n"), 0644))

	s = NewStore(dir, nil)
	content, err = s.Load("repository/main_readme.md")
	require.NoError(t, err)
	assert.Equal(t, "# Custom\n", content)

	// Names not present on disk still resolve from the embedded set
	content, err = s.Load("repository/projects_readme.md")
	require.NoError(t, err)
	assert.Contains(t, content, "Student Projects")
}

func TestStoreLoad_Unknown(t *testing.T) {
	s := NewStore("", nil)
	_, err := s.Load("repository/nope.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository/nope.md")
}

func TestStoreNames(t *testing.T) {
	s := NewStore("", nil)
	names, err := s.Names()
	require.NoError(t, err)

	for _, want := range []string{
		"repository/main_readme.md",
		"repository/project_guidelines.md",
		"repository/supervisor_guide.md",
		"project/student_readme.md",
		"project/research_proposal.md",
		"issues/issue_final_evaluation.md",
		"issues/progress_report.md",
	} {
		assert.Contains(t, names, want)
	}
}

func TestVerify_AllTokensResolvable(t *testing.T) {
	s := NewStore("", nil)
	vars := testCourseVars().Merge(StudentVars(testRecord()))

	results, err := s.Verify(vars)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Emptyf(t, r.Unresolved, "template %s has unresolved tokens %v", r.Name, r.Unresolved)
	}
}

func TestWithFrontMatter(t *testing.T) {
	out, err := WithFrontMatter(IssueTemplateMeta{
		Name:   "Progress Report",
		About:  "Weekly progress report",
		Title:  "📝 Progress Report - Week ",
		Labels: []string{"progress-report"},
	}, "**Index number:**\n")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "---\n"))
	assert.Contains(t, out, "name: Progress Report")
	assert.Contains(t, out, "labels:")
	assert.Contains(t, out, "- progress-report")
	assert.NotContains(t, out, "assignees")
	assert.True(t, strings.HasSuffix(out, "---\n\n**Index number:**\n"))
}

func TestDeployCourseDocs(t *testing.T) {
	fake := &gh.Fake{}
	s := NewStore("", nil)

	deployed, err := s.DeployCourseDocs(context.Background(), fake, "cs4681-projects", testCourseVars())
	require.NoError(t, err)
	assert.Contains(t, deployed, "README.md")
	assert.Contains(t, deployed, "docs/supervisor_guide.md")
	assert.Contains(t, deployed, "projects/README.md")

	readme := fake.Files["cs4681-projects"]["README.md"]
	assert.Contains(t, readme, "CS4681")
	assert.Contains(t, readme, "2025/2026")
	assert.NotContains(t, readme, "{COURSE_CODE}")
}

func TestDeployIssueTemplates(t *testing.T) {
	fake := &gh.Fake{}
	s := NewStore("", nil)

	deployed, err := s.DeployIssueTemplates(context.Background(), fake, "cs4681-projects", testCourseVars())
	require.NoError(t, err)
	assert.Len(t, deployed, 6)

	content := fake.Files["cs4681-projects"][".github/ISSUE_TEMPLATE/progress_report.md"]
	require.NotEmpty(t, content)
	assert.True(t, strings.HasPrefix(content, "---\n"))
	assert.Contains(t, content, "name: Progress Report")
	assert.Contains(t, content, "**Index number:**")
}

func TestDeployStudentReadme(t *testing.T) {
	fake := &gh.Fake{}
	s := NewStore("", nil)

	dst, err := s.DeployStudentReadme(context.Background(), fake, "cs4681-projects", testRecord(), testCourseVars())
	require.NoError(t, err)
	assert.Equal(t, "projects/2024001-Machine-Learning/README.md", dst)

	content := fake.Files["cs4681-projects"][dst]
	assert.Contains(t, content, "Alice Perera")
	assert.Contains(t, content, "student-2024001")
}
