package plan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/models"
)

func TestDefault(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	require.Len(t, p.Milestones, 4)

	assert.Equal(t, "Research Proposal", p.Milestones[0].Name)
	assert.Equal(t, 15, p.Milestones[0].Weight)
	assert.Equal(t, 40, p.Milestones[3].Weight)
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Len(t, p.Milestones, 4)
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `milestones:
  - name: Proposal
    slug: proposal
    week: 3
    weight: 50
    template: issue_research_proposal.md
  - name: Final Demo
    slug: final-demo
    week: 10
    weight: 50
    template: issue_final_evaluation.md
`
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	require.Len(t, p.Milestones, 2)
	assert.Equal(t, "Final Demo", p.Milestones[1].Name)
	assert.Equal(t, 10, p.Milestones[1].Week)
}

func TestLoad_InvalidWeights(t *testing.T) {
	content := `milestones:
  - {name: A, slug: a, week: 1, weight: 30}
  - {name: B, slug: b, week: 2, weight: 30}
`
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 60")
}

func TestValidate_WeekOrdering(t *testing.T) {
	p := &Plan{Milestones: []Milestone{
		{Name: "A", Slug: "a", Week: 5, Weight: 50},
		{Name: "B", Slug: "b", Week: 5, Weight: 50},
	}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not after")
}

func TestDueDate(t *testing.T) {
	start := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	m := Milestone{Week: 4}
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), m.DueDate(start))
}

func TestIssueTitleAndLabels(t *testing.T) {
	m := Milestone{Name: "Literature Review", Slug: "literature-review", Week: 5}
	rec := models.ProjectRecord{IndexNo: "210001X"}

	assert.Equal(t, "Literature Review - 210001X", m.IssueTitle("210001X"))
	assert.Equal(t,
		[]string{"literature-review", "student-210001X", "milestone", "week-5"},
		m.IssueLabels(rec))
}

func TestMatchTitle(t *testing.T) {
	p := Default()

	m, ok := p.MatchTitle("Research Proposal - 210001X")
	require.True(t, ok)
	assert.Equal(t, "research-proposal", m.Slug)

	m, ok = p.MatchTitle("final evaluation - 210002A")
	require.True(t, ok)
	assert.Equal(t, 40, m.Weight)

	_, ok = p.MatchTitle("Weekly sync notes")
	assert.False(t, ok)
}

func TestWeightedPercent(t *testing.T) {
	p := Default()

	// All four milestones open: 0%
	issues := []IssueState{
		{Title: "Research Proposal - 1"},
		{Title: "Literature Review - 1"},
		{Title: "Methodology & Implementation - 1"},
		{Title: "Final Evaluation - 1"},
	}
	assert.InDelta(t, 0, p.WeightedPercent(issues), 0.01)

	// Proposal (15) + literature review (20) closed: 35%
	issues[0].Closed = true
	issues[1].Closed = true
	assert.InDelta(t, 35, p.WeightedPercent(issues), 0.01)

	// Everything closed: 100%
	issues[2].Closed = true
	issues[3].Closed = true
	assert.InDelta(t, 100, p.WeightedPercent(issues), 0.01)
}

func TestWeightedPercent_UnmatchedIssuesWeighOne(t *testing.T) {
	p := Default()
	issues := []IssueState{
		{Title: "Research Proposal - 1", Closed: true}, // weight 15
		{Title: "Fix typo in README", Closed: false},   // weight 1
	}
	assert.InDelta(t, 15.0/16.0*100, p.WeightedPercent(issues), 0.01)
}

func TestWeightedPercent_NoIssues(t *testing.T) {
	assert.Zero(t, Default().WeightedPercent(nil))
}

func TestMilestoneStatus(t *testing.T) {
	m := Milestone{Name: "Literature Review"}

	assert.Equal(t, models.MilestoneNotStarted, MilestoneStatus(nil, m))

	open := []IssueState{{Title: "Literature Review - 1"}}
	assert.Equal(t, models.MilestoneStarted, MilestoneStatus(open, m))

	mixed := []IssueState{
		{Title: "Literature Review - 1", Closed: true},
		{Title: "Literature Review follow-up"},
	}
	assert.Equal(t, models.MilestoneInProgress, MilestoneStatus(mixed, m))

	done := []IssueState{{Title: "Literature Review - 1", Closed: true}}
	assert.Equal(t, models.MilestoneCompleted, MilestoneStatus(done, m))
}
