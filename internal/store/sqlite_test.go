package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Snapshots ---

func sampleSnapshot(takenAt time.Time) *models.Snapshot {
	return &models.Snapshot{
		TakenAt: takenAt,
		Projects: []models.ProjectProgress{
			{
				IndexNo:      "2024001",
				StudentName:  "Alice Perera",
				ResearchArea: "Machine Learning",
				Percent:      42.5,
				OpenIssues:   3,
				ClosedIssues: 1,
				Status:       models.StatusInProgress,
				Milestones: []models.MilestoneProgress{
					{Name: "Research Proposal", Weight: 15, Total: 1, Completed: 1, Status: models.MilestoneCompleted},
				},
			},
			{
				IndexNo:          "2024002",
				StudentName:      "Bimal Silva",
				Percent:          0,
				Status:           models.StatusNotStarted,
				NeedsAttention:   true,
				AttentionReasons: []string{"No issues closed yet"},
			},
		},
		Summary: models.Summary{
			TotalProjects:  2,
			AveragePercent: 21.25,
			NeedAttention:  1,
			Distribution:   models.Distribution{NotStarted: 1, Active: 1},
		},
	}
}

func TestSaveSnapshot_AssignsIDAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := sampleSnapshot(time.Time{})
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.TakenAt.IsZero())

	got, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	require.Len(t, got.Projects, 2)
	assert.Equal(t, "Alice Perera", got.Projects[0].StudentName)
	assert.InDelta(t, 42.5, got.Projects[0].Percent, 0.001)
	assert.Equal(t, models.MilestoneCompleted, got.Projects[0].Milestones[0].Status)
	assert.True(t, got.Projects[1].NeedsAttention)
	assert.Equal(t, []string{"No issues closed yet"}, got.Projects[1].AttentionReasons)
	assert.Equal(t, 2, got.Summary.TotalProjects)
	assert.InDelta(t, 21.25, got.Summary.AveragePercent, 0.001)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSnapshot(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestAndPreviousSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := sampleSnapshot(base)
	second := sampleSnapshot(base.Add(24 * time.Hour))
	third := sampleSnapshot(base.Add(48 * time.Hour))

	require.NoError(t, s.SaveSnapshot(ctx, first))
	require.NoError(t, s.SaveSnapshot(ctx, second))
	require.NoError(t, s.SaveSnapshot(ctx, third))

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)

	prev, err := s.PreviousSnapshot(ctx, latest.TakenAt)
	require.NoError(t, err)
	assert.Equal(t, second.ID, prev.ID)

	prev2, err := s.PreviousSnapshot(ctx, prev.TakenAt)
	require.NoError(t, err)
	assert.Equal(t, first.ID, prev2.ID)

	_, err = s.PreviousSnapshot(ctx, first.TakenAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestSnapshot_Empty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LatestSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshots_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot(base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := s.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	limited, err := s.ListSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	// Newest first
	assert.True(t, limited[0].TakenAt.After(limited[1].TakenAt))
}

// --- Bulk runs ---

func TestBulkRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.BulkRun{
		Operation: "folders",
		Status:    models.BulkRunning,
		Total:     3,
	}
	require.NoError(t, s.CreateBulkRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.StartedAt.IsZero())

	run.Processed = 3
	run.Succeeded = 2
	run.Failed = 1
	run.Status = models.BulkCompletedWithFails
	run.Items = []models.BulkItem{
		{Key: "2024001", Success: true, Duration: 120 * time.Millisecond},
		{Key: "2024002", Success: true, Duration: 95 * time.Millisecond},
		{Key: "2024003", Success: false, Error: "repository not found", Duration: 40 * time.Millisecond},
	}
	run.Recommendations = []string{"Review 1 failed operations for patterns"}
	ended := run.StartedAt.Add(5 * time.Second)
	run.EndedAt = &ended
	require.NoError(t, s.UpdateBulkRun(ctx, run))

	got, err := s.GetBulkRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BulkCompletedWithFails, got.Status)
	assert.Equal(t, 2, got.Succeeded)
	require.NotNil(t, got.EndedAt)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "repository not found", got.Items[2].Error)
	assert.Equal(t, []string{"2024003"}, got.FailedKeys())
	assert.InDelta(t, 66.67, got.SuccessRate(), 0.01)
}

func TestUpdateBulkRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	run := &models.BulkRun{ID: "missing", Operation: "issues", Status: models.BulkRunning}
	err := s.UpdateBulkRun(context.Background(), run)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestBulkRun_FiltersByOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := &models.BulkRun{Operation: "folders", Status: models.BulkCompleted, StartedAt: base}
	newer := &models.BulkRun{Operation: "folders", Status: models.BulkCompleted, StartedAt: base.Add(time.Hour)}
	other := &models.BulkRun{Operation: "issues", Status: models.BulkCompleted, StartedAt: base.Add(2 * time.Hour)}

	require.NoError(t, s.CreateBulkRun(ctx, older))
	require.NoError(t, s.CreateBulkRun(ctx, newer))
	require.NoError(t, s.CreateBulkRun(ctx, other))

	got, err := s.LatestBulkRun(ctx, "folders")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = s.LatestBulkRun(ctx, "reports")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBulkRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateBulkRun(ctx, &models.BulkRun{
			Operation: "invites", Status: models.BulkCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.CreateBulkRun(ctx, &models.BulkRun{
		Operation: "folders", Status: models.BulkCompleted, StartedAt: base,
	}))

	all, err := s.ListBulkRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	invites, err := s.ListBulkRuns(ctx, "invites", 2)
	require.NoError(t, err)
	require.Len(t, invites, 2)
	assert.Equal(t, "invites", invites[0].Operation)
	assert.True(t, invites[0].StartedAt.After(invites[1].StartedAt))
}

// --- Reports ---

func TestReportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]any{"week": 7, "improved": []string{"2024001"}})
	require.NoError(t, err)

	report := &models.Report{Kind: models.ReportWeekly, Payload: payload}
	require.NoError(t, s.SaveReport(ctx, report))
	assert.NotEmpty(t, report.ID)

	got, err := s.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportWeekly, got.Kind)

	var decoded struct {
		Week     int      `json:"week"`
		Improved []string `json:"improved"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &decoded))
	assert.Equal(t, 7, decoded.Week)
	assert.Equal(t, []string{"2024001"}, decoded.Improved)
}

func TestListReports_KindFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveReport(ctx, &models.Report{Kind: models.ReportWeekly, GeneratedAt: base}))
	require.NoError(t, s.SaveReport(ctx, &models.Report{Kind: models.ReportWeekly, GeneratedAt: base.Add(time.Hour)}))
	require.NoError(t, s.SaveReport(ctx, &models.Report{Kind: models.ReportAnalytics, GeneratedAt: base.Add(2 * time.Hour)}))

	weekly, err := s.ListReports(ctx, models.ReportWeekly, 0)
	require.NoError(t, err)
	assert.Len(t, weekly, 2)
	assert.True(t, weekly[0].GeneratedAt.After(weekly[1].GeneratedAt))

	all, err := s.ListReports(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
