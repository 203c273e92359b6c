package roster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/models"
)

const sampleCSV = `Student_Name,Student_ID,Research_Area,GitHub_User_Name,Mail
Amara Silva,210001X,Natural Language Processing,amarasilva,amara@uni.edu
Bimal Perera,210002A,Computer Vision,https://github.com/bimalp,bimal@uni.edu
Chathu Fernando,210003B,Time Series Forecasting,github.com/chathuf/,chathu@uni.edu
,210004C,,nobody,missing@uni.edu
Dilan Jay,210005D,Graph  Neural Networks!,,dilan@uni.edu
`

func TestParse(t *testing.T) {
	records, warnings, err := Parse(strings.NewReader(sampleCSV), "")
	require.NoError(t, err)
	require.Len(t, records, 4) // row 5 skipped: no research area

	assert.Equal(t, "210001X", records[0].IndexNo)
	assert.Equal(t, "Amara Silva", records[0].StudentName)
	assert.Equal(t, "amarasilva", records[0].GitHubUser)
	assert.Equal(t, "natural-language-processing", records[0].ResearchAreaClean)
	assert.Equal(t, "210001X-natural-language-processing", records[0].FolderName)

	// URL forms resolve to bare usernames
	assert.Equal(t, "bimalp", records[1].GitHubUser)
	assert.Equal(t, "chathuf", records[2].GitHubUser)

	// Skipped row and missing username both warn
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "skipped")
	assert.Contains(t, warnings[1], "210005D")
}

func TestParse_BOMHeader(t *testing.T) {
	csv := "\uFEFFStudent_Name,Student_ID,Research_Area,GitHub_User_Name,Mail\nA,1,NLP,a,a@x\n"
	records, _, err := Parse(strings.NewReader(csv), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].IndexNo)
}

func TestParse_HeaderOnly(t *testing.T) {
	records, warnings, err := Parse(strings.NewReader("Student_ID,Research_Area\n"), "")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, warnings)
}

func TestParse_Empty(t *testing.T) {
	_, _, err := Parse(strings.NewReader(""), "")
	assert.Error(t, err)
}

func TestParse_MissingRequiredColumn(t *testing.T) {
	_, _, err := Parse(strings.NewReader("Student_Name,Mail\nA,a@x\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Student_ID")
}

func TestExtractGitHubUsername(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"octocat", "octocat"},
		{"@octocat", "octocat"},
		{"  octocat  ", "octocat"},
		{"https://github.com/octocat", "octocat"},
		{"https://github.com/octocat/", "octocat"},
		{"http://github.com/octocat?tab=repos", "octocat"},
		{"github.com/octocat#readme", "octocat"},
		{"HTTPS://GITHUB.COM/OctoCat", "OctoCat"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExtractGitHubUsername(c.in), "input %q", c.in)
	}
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("octocat"))
	assert.True(t, ValidUsername("a-b-c1"))
	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername("-leading"))
	assert.False(t, ValidUsername("has space"))
	assert.False(t, ValidUsername(strings.Repeat("x", 40)))
}

func TestCleanFolderName(t *testing.T) {
	assert.Equal(t, "natural-language-processing", CleanFolderName("Natural Language Processing"))
	assert.Equal(t, "graph-neural-networks", CleanFolderName("Graph  Neural Networks!"))
	assert.Equal(t, "ml-ai", CleanFolderName("ML / AI"))
	assert.Equal(t, "project", CleanFolderName("!!!"))
}

func TestFolderName_CustomPattern(t *testing.T) {
	rec := models.ProjectRecord{IndexNo: "210001X", ResearchAreaClean: "nlp"}
	assert.Equal(t, "210001X-nlp", FolderName(rec, ""))
	assert.Equal(t, "nlp_210001X", FolderName(rec, "{area}_{index}"))
}

func TestValidate(t *testing.T) {
	records := []models.ProjectRecord{
		{IndexNo: "1", GitHubUser: "ok", Email: "a@x"},
		{IndexNo: "1", GitHubUser: "ok2", Email: "b@x"},
		{IndexNo: "2", GitHubUser: "", Email: ""},
		{IndexNo: "3", GitHubUser: "-bad-", Email: "c@x"},
	}
	findings := Validate(records)
	require.Len(t, findings, 4)
	assert.Contains(t, findings[0], "duplicate")
	assert.Contains(t, findings[1], "missing GitHub username")
	assert.Contains(t, findings[2], "missing email")
	assert.Contains(t, findings[3], "invalid GitHub username")
}

func TestAssignSupervisors(t *testing.T) {
	records := []models.ProjectRecord{
		{IndexNo: "1"}, {IndexNo: "2"}, {IndexNo: "3"},
	}
	supervisors := []models.Supervisor{
		{Name: "Dr. A", GitHubUser: "dra"},
		{Name: "Dr. B", GitHubUser: "drb"},
	}

	got := AssignSupervisors(records, supervisors, 1)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"dra"}, got["1"])
	assert.Equal(t, []string{"drb"}, got["2"])
	assert.Equal(t, []string{"dra"}, got["3"])
}

func TestAssignSupervisors_PerProjectCapped(t *testing.T) {
	records := []models.ProjectRecord{{IndexNo: "1"}}
	supervisors := []models.Supervisor{{GitHubUser: "dra"}}

	got := AssignSupervisors(records, supervisors, 3)
	assert.Equal(t, []string{"dra"}, got["1"])
}

func TestAssignSupervisors_NoSupervisors(t *testing.T) {
	records := []models.ProjectRecord{{IndexNo: "1"}}
	got := AssignSupervisors(records, nil, 2)
	assert.Empty(t, got["1"])
}
