package analytics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/models"
)

func sampleSnapshot() *models.Snapshot {
	recent := time.Now().Add(-24 * time.Hour)
	stale := time.Now().Add(-20 * 24 * time.Hour)

	projects := []models.ProjectProgress{
		{
			IndexNo: "2024001", StudentName: "Alice Perera", ResearchArea: "Machine Learning",
			Percent: 100, CommitCount: 42, ClosedIssues: 4, LastActivity: &recent,
			Milestones: []models.MilestoneProgress{
				{Name: "Research Proposal", Weight: 15, Total: 1, Completed: 1, Status: models.MilestoneCompleted},
				{Name: "Final Evaluation", Weight: 40, Total: 1, Completed: 1, Status: models.MilestoneCompleted},
			},
		},
		{
			IndexNo: "2024002", StudentName: "Bimal Silva", ResearchArea: "Computer Vision",
			Percent: 60, CommitCount: 12, OpenIssues: 2, ClosedIssues: 2, LastActivity: &recent,
			Milestones: []models.MilestoneProgress{
				{Name: "Research Proposal", Weight: 15, Total: 1, Completed: 1, Status: models.MilestoneCompleted},
				{Name: "Final Evaluation", Weight: 40, Total: 1, Status: models.MilestoneStarted},
			},
		},
		{
			IndexNo: "2024003", StudentName: "Chamari Fernando", ResearchArea: "NLP",
			Percent: 10, CommitCount: 0, OpenIssues: 4, LastActivity: &stale,
			Milestones: []models.MilestoneProgress{
				{Name: "Research Proposal", Weight: 15, Total: 1, Status: models.MilestoneStarted},
				{Name: "Final Evaluation", Weight: 40, Total: 1, Status: models.MilestoneNotStarted},
			},
		},
		{
			IndexNo: "2024004", StudentName: "Dinithi Jay", ResearchArea: "Robotics",
			Percent: 30, CommitCount: 3, OpenIssues: 3, ClosedIssues: 1, LastActivity: &stale,
		},
	}
	return &models.Snapshot{
		TakenAt:  time.Now(),
		Projects: projects,
		Summary:  models.Summary{TotalProjects: 4, AveragePercent: 50},
	}
}

func TestGenerate_Overview(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)

	require.NotEmpty(t, r.ID)
	assert.Equal(t, 4, r.Overview.TotalProjects)
	assert.InDelta(t, 50.0, r.Overview.AverageProgress, 0.01)
	assert.Equal(t, 1, r.Overview.Completed)
	assert.Equal(t, 1, r.Overview.AtRisk)
}

func TestGenerate_Milestones(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)

	require.Len(t, r.Milestones, 2)
	rp := r.Milestones[0]
	assert.Equal(t, "Research Proposal", rp.Name)
	assert.Equal(t, 2, rp.Completed)
	assert.Equal(t, 1, rp.Started)
	assert.Equal(t, 1, rp.Behind)
	assert.InDelta(t, 66.67, rp.CompletionRate, 0.01)

	fe := r.Milestones[1]
	assert.Equal(t, "Final Evaluation", fe.Name)
	assert.Equal(t, 1, fe.Completed)
	assert.Equal(t, 2, fe.Behind)
}

func TestGenerate_Performance(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)

	stats := r.Performance.Stats
	assert.InDelta(t, 50.0, stats.Mean, 0.01)
	assert.InDelta(t, 45.0, stats.Median, 0.01)
	assert.Greater(t, stats.StdDev, 0.0)
	assert.LessOrEqual(t, stats.Q1, stats.Median)
	assert.LessOrEqual(t, stats.Median, stats.Q3)

	require.NotEmpty(t, r.Performance.TopPerformers)
	assert.Equal(t, "2024001", r.Performance.TopPerformers[0].IndexNo)
	require.NotEmpty(t, r.Performance.BottomPerformers)
	assert.Equal(t, "2024003", r.Performance.BottomPerformers[0].IndexNo)
}

func TestGenerate_RiskTiers(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)

	require.Len(t, r.Risk.High, 1)
	high := r.Risk.High[0]
	assert.Equal(t, "2024003", high.IndexNo)
	assert.Contains(t, high.Factors, "progress below 25%")
	assert.Contains(t, high.Factors, "no recent activity")
	assert.Contains(t, high.Factors, "no commits")
	assert.Equal(t, 10, high.Score)

	// 2024004 is under 50% and stale, 2024002 is under 50% but active.
	mediums := make([]string, 0, len(r.Risk.Medium))
	for _, e := range r.Risk.Medium {
		mediums = append(mediums, e.IndexNo)
	}
	assert.Contains(t, mediums, "2024004")

	lows := make([]string, 0, len(r.Risk.Low))
	for _, e := range r.Risk.Low {
		lows = append(lows, e.IndexNo)
	}
	assert.Contains(t, lows, "2024001")
}

func TestGenerate_Engagement(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)

	e := r.Engagement
	assert.Equal(t, 57, e.TotalCommits)
	assert.Equal(t, 2, e.ActiveLast7)
	assert.Equal(t, 2, e.InactiveOver14)
	assert.InDelta(t, 50.0, e.EngagementRate, 0.01)
	assert.Equal(t, 1, e.CommitFrequency.None)
	assert.Equal(t, 1, e.CommitFrequency.Low)
	assert.Equal(t, 1, e.CommitFrequency.Moderate)
	assert.Equal(t, 1, e.CommitFrequency.High)
}

func TestGenerate_TrendAcrossSnapshots(t *testing.T) {
	snap := sampleSnapshot()
	snap.Summary.AveragePercent = 50

	week := 7 * 24 * time.Hour
	history := []*models.Snapshot{
		{TakenAt: snap.TakenAt.Add(-2 * week), Summary: models.Summary{AveragePercent: 20}},
		{TakenAt: snap.TakenAt.Add(-week), Summary: models.Summary{AveragePercent: 35}},
	}

	r := Generate(snap, history)
	require.NotNil(t, r.Trend)
	assert.Equal(t, "improving", r.Trend.Direction)
	assert.InDelta(t, 30.0, r.Trend.TotalChange, 0.01)
	assert.InDelta(t, 15.0, r.Trend.AverageWeeklyChange, 0.01)
	assert.Len(t, r.Trend.Points, 3)
}

func TestGenerate_NoTrendWithoutHistory(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)
	assert.Nil(t, r.Trend)
}

func TestGenerate_Recommendations(t *testing.T) {
	r := Generate(sampleSnapshot(), nil)

	joined := strings.Join(r.Recommendations, "\n")
	assert.Contains(t, joined, "1 high-risk projects")
	assert.Contains(t, joined, "inactive for more than two weeks")
	assert.NotContains(t, joined, "below 50%")
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	r := Generate(sampleSnapshot(), nil)

	require.NoError(t, ExportJSON(&buf, r))
	assert.Contains(t, buf.String(), `"total_projects": 4`)
	assert.Contains(t, buf.String(), `"high_risk"`)
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	r := Generate(sampleSnapshot(), nil)

	require.NoError(t, ExportCSV(&buf, r))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Index,Research Area,Risk,Score,Factors", lines[0])
	assert.Contains(t, buf.String(), "2024003,NLP,high,10,")
}
