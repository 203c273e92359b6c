package progress

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/gh"
	"cohort/internal/models"
	"cohort/internal/plan"
	"cohort/internal/store"
)

const testRepo = "cs4681-projects"

func testRecords() []models.ProjectRecord {
	return []models.ProjectRecord{
		{
			IndexNo: "2024001", StudentName: "Alice Perera",
			ResearchArea: "Machine Learning", GitHubUser: "aliceperera",
			FolderName: "2024001-Machine-Learning",
		},
		{
			IndexNo: "2024002", StudentName: "Bimal Silva",
			ResearchArea: "Computer Vision", GitHubUser: "bimalsilva",
			FolderName: "2024002-Computer-Vision",
		},
	}
}

// seedIssues creates the four milestone issues for a record and closes the
// first n of them.
func seedIssues(t *testing.T, fake *gh.Fake, rec models.ProjectRecord, closed int) {
	t.Helper()
	ctx := context.Background()
	for i, m := range plan.Default().Milestones {
		is, err := fake.CreateIssue(ctx, testRepo, m.IssueTitle(rec.IndexNo), "", m.IssueLabels(rec), nil)
		require.NoError(t, err)
		if i < closed {
			fake.CloseIssue(testRepo, is.Number)
		}
	}
}

func newCollector(fake *gh.Fake) *Collector {
	return &Collector{Client: fake, Repo: testRepo}
}

func TestCollect_WeightedPercentAndMilestones(t *testing.T) {
	fake := &gh.Fake{}
	recent := time.Now().Add(-24 * time.Hour)
	fake.CommitCounts = map[string]int{
		testRepo + "/projects/2024001-Machine-Learning": 12,
	}
	fake.CommitTimes = map[string]time.Time{
		testRepo + "/projects/2024001-Machine-Learning": recent,
	}

	records := testRecords()
	// Alice has closed proposal and literature review, Bimal nothing.
	seedIssues(t, fake, records[0], 2)
	seedIssues(t, fake, records[1], 0)

	c := newCollector(fake)
	snap, err := c.Collect(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, snap.Projects, 2)

	alice := snap.Projects[0]
	assert.Equal(t, "2024001", alice.IndexNo)
	assert.Equal(t, 2, alice.ClosedIssues)
	assert.Equal(t, 2, alice.OpenIssues)
	// 15 + 20 of 100 total weight.
	assert.InDelta(t, 35.0, alice.Percent, 0.01)
	assert.Equal(t, models.StatusInProgress, alice.Status)
	assert.Equal(t, 12, alice.CommitCount)
	require.NotNil(t, alice.LastActivity)
	assert.False(t, alice.NeedsAttention)

	require.Len(t, alice.Milestones, 4)
	assert.Equal(t, models.MilestoneCompleted, alice.Milestones[0].Status)
	assert.Equal(t, models.MilestoneCompleted, alice.Milestones[1].Status)
	assert.Equal(t, models.MilestoneStarted, alice.Milestones[2].Status)
	assert.Equal(t, 1, alice.Milestones[0].Total)
	assert.Equal(t, 1, alice.Milestones[0].Completed)

	bimal := snap.Projects[1]
	assert.Zero(t, bimal.Percent)
	assert.Equal(t, models.StatusNotStarted, bimal.Status)
	assert.True(t, bimal.NeedsAttention)
	assert.Contains(t, bimal.AttentionReasons, "very low progress")
	assert.Contains(t, bimal.AttentionReasons, "no commits")
	assert.Contains(t, bimal.AttentionReasons, "all issues still open")
}

func TestCollect_Summary(t *testing.T) {
	fake := &gh.Fake{}
	records := testRecords()
	seedIssues(t, fake, records[0], 4)
	seedIssues(t, fake, records[1], 0)
	fake.CommitCounts = map[string]int{
		testRepo + "/projects/2024001-Machine-Learning": 30,
	}

	c := newCollector(fake)
	snap, err := c.Collect(context.Background(), records)
	require.NoError(t, err)

	s := snap.Summary
	assert.Equal(t, 2, s.TotalProjects)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.NeedAttention)
	assert.InDelta(t, 50.0, s.AveragePercent, 0.01)
	assert.InDelta(t, 50.0, s.CompletionRate, 0.01)
	assert.Equal(t, 1, s.Distribution.Completed)
	assert.Equal(t, 1, s.Distribution.NotStarted)
}

func TestCollect_StaleActivityFlagged(t *testing.T) {
	fake := &gh.Fake{}
	records := testRecords()[:1]
	seedIssues(t, fake, records[0], 2)
	fake.CommitCounts = map[string]int{
		testRepo + "/projects/2024001-Machine-Learning": 5,
	}
	fake.CommitTimes = map[string]time.Time{
		testRepo + "/projects/2024001-Machine-Learning": time.Now().Add(-10 * 24 * time.Hour),
	}

	c := newCollector(fake)
	snap, err := c.Collect(context.Background(), records)
	require.NoError(t, err)

	p := snap.Projects[0]
	assert.True(t, p.NeedsAttention)
	assert.Contains(t, p.AttentionReasons, "no activity in over a week")
}

func TestCollect_PersistsSnapshot(t *testing.T) {
	fake := &gh.Fake{}
	records := testRecords()
	seedIssues(t, fake, records[0], 1)
	seedIssues(t, fake, records[1], 0)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cohort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	c := newCollector(fake)
	c.Store = st

	snap, err := c.Collect(context.Background(), records)
	require.NoError(t, err)
	require.NotEmpty(t, snap.ID)

	loaded, err := st.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Len(t, loaded.Projects, 2)
}

func TestNeedingAttention_SortsWorstFirst(t *testing.T) {
	snap := &models.Snapshot{Projects: []models.ProjectProgress{
		{IndexNo: "2024001", Percent: 40},
		{IndexNo: "2024002", Percent: 15, NeedsAttention: true},
		{IndexNo: "2024003", Percent: 5, NeedsAttention: true},
	}}

	flagged := NeedingAttention(snap)
	require.Len(t, flagged, 2)
	assert.Equal(t, "2024003", flagged[0].IndexNo)
	assert.Equal(t, "2024002", flagged[1].IndexNo)
}

func snapshotWith(percents map[string]float64, takenAt time.Time) *models.Snapshot {
	snap := &models.Snapshot{TakenAt: takenAt}
	for idx, pct := range percents {
		p := models.ProjectProgress{IndexNo: idx, Percent: pct, CommitCount: 10}
		p.Status = models.ProjectStatusFor(pct)
		snap.Projects = append(snap.Projects, p)
	}
	sort.Slice(snap.Projects, func(i, j int) bool {
		return snap.Projects[i].IndexNo < snap.Projects[j].IndexNo
	})
	snap.Summary = Summarize(snap.Projects)
	return snap
}

func TestWeeklyReport_Changes(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	previous := snapshotWith(map[string]float64{
		"2024001": 60, "2024002": 35, "2024003": 90,
	}, base)
	current := snapshotWith(map[string]float64{
		"2024001": 80, "2024002": 25, "2024003": 100,
	}, base.AddDate(0, 0, 7))

	c := &Collector{}
	w, err := c.WeeklyReport(context.Background(), current, previous)
	require.NoError(t, err)
	require.NotNil(t, w.Changes)

	// Averages move from 61.67 to 68.33.
	assert.InDelta(t, 6.66, w.Changes.ProgressChange, 0.011)
	assert.Equal(t, 1, w.Changes.NewCompletions)
	assert.Equal(t, 2, w.Changes.ProjectsImproved)
	assert.Equal(t, 1, w.Changes.ProjectsDeclined)
	require.Len(t, w.Changes.PerProject, 3)

	joined := strings.Join(w.Highlights, "\n")
	assert.Contains(t, joined, "projects completed since the last snapshot")
	assert.Contains(t, joined, "fully complete")

	concerns := strings.Join(w.Concerns, "\n")
	assert.Contains(t, concerns, "1 projects declined since the last snapshot")
}

func TestWeeklyReport_NoPrevious(t *testing.T) {
	current := snapshotWith(map[string]float64{"2024001": 10}, time.Now())
	current.Projects[0].NeedsAttention = true
	current.Summary = Summarize(current.Projects)

	c := &Collector{}
	w, err := c.WeeklyReport(context.Background(), current, nil)
	require.NoError(t, err)

	assert.Nil(t, w.Changes)
	assert.Contains(t, strings.Join(w.Concerns, "\n"), "1 projects need immediate attention")
	assert.Contains(t, strings.Join(w.Recommendations, "\n"), "Schedule individual meetings")
}

func TestWeeklyReport_Persisted(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cohort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	c := &Collector{Store: st}
	current := snapshotWith(map[string]float64{"2024001": 50}, time.Now())
	_, err = c.WeeklyReport(context.Background(), current, nil)
	require.NoError(t, err)

	reports, err := st.ListReports(context.Background(), models.ReportWeekly, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, string(reports[0].Payload), `"summary"`)
}

func TestMonthlyReport(t *testing.T) {
	current := snapshotWith(map[string]float64{"2024001": 50, "2024002": 70}, time.Now())

	c := &Collector{}
	m, err := c.MonthlyReport(context.Background(), current, nil)
	require.NoError(t, err)

	assert.Equal(t, time.Now().UTC().Format("2006-01"), m.Month)
	require.NotNil(t, m.Analytics)
	assert.Equal(t, 2, m.Analytics.Overview.TotalProjects)
}
