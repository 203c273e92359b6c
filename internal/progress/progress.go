// Package progress collects per-project progress snapshots from GitHub
// and derives weekly and monthly reports from them.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"cohort/internal/analytics"
	"cohort/internal/gh"
	"cohort/internal/models"
	"cohort/internal/plan"
	"cohort/internal/store"
)

// activityWindow is how recently a project must have moved to count as
// active.
const activityWindow = 7 * 24 * time.Hour

// Collector gathers progress for every roster record.
type Collector struct {
	Client gh.Client
	Repo   string
	Plan   *plan.Plan

	// Store, when set, persists snapshots and reports.
	Store store.Store

	Log *zap.Logger
}

func (c *Collector) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Collector) plan() *plan.Plan {
	if c.Plan == nil {
		return plan.Default()
	}
	return c.Plan
}

// Collect builds a full snapshot over the records and persists it when a
// store is configured.
func (c *Collector) Collect(ctx context.Context, records []models.ProjectRecord) (*models.Snapshot, error) {
	snap := &models.Snapshot{TakenAt: time.Now().UTC()}

	for i, rec := range records {
		c.logger().Debug("collecting progress",
			zap.String("index", rec.IndexNo),
			zap.Int("n", i+1),
			zap.Int("total", len(records)))
		p, err := c.CollectOne(ctx, rec)
		if err != nil {
			return nil, err
		}
		snap.Projects = append(snap.Projects, p)
	}
	snap.Summary = Summarize(snap.Projects)

	if c.Store != nil {
		if err := c.Store.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
	}
	return snap, nil
}

// CollectOne gathers one record's progress from its labeled issues and
// folder commit history.
func (c *Collector) CollectOne(ctx context.Context, rec models.ProjectRecord) (models.ProjectProgress, error) {
	p := models.ProjectProgress{
		IndexNo:      rec.IndexNo,
		StudentName:  rec.StudentName,
		ResearchArea: rec.ResearchArea,
		GitHubUser:   rec.GitHubUser,
		FolderName:   rec.FolderName,
	}

	issues, err := c.Client.ListRepoIssues(ctx, c.Repo, "all", []string{rec.Label()})
	if err != nil {
		return p, fmt.Errorf("list issues for %s: %w", rec.IndexNo, err)
	}

	states := make([]plan.IssueState, 0, len(issues))
	for _, is := range issues {
		closed := is.State == "closed"
		if closed {
			p.ClosedIssues++
		} else {
			p.OpenIssues++
		}
		states = append(states, plan.IssueState{Title: is.Title, Closed: closed})
	}

	pl := c.plan()
	for _, m := range pl.Milestones {
		mp := models.MilestoneProgress{Name: m.Name, Weight: m.Weight}
		lower := strings.ToLower(m.Name)
		for _, st := range states {
			if !strings.Contains(strings.ToLower(st.Title), lower) {
				continue
			}
			mp.Total++
			if st.Closed {
				mp.Completed++
			}
		}
		mp.Status = plan.MilestoneStatus(states, m)
		p.Milestones = append(p.Milestones, mp)
	}
	p.Percent = round2(pl.WeightedPercent(states))

	count, last, err := c.Client.CountCommits(ctx, c.Repo, "projects/"+rec.FolderName)
	if err != nil {
		return p, fmt.Errorf("count commits for %s: %w", rec.IndexNo, err)
	}
	p.CommitCount = count
	p.LastActivity = last

	p.Status = models.ProjectStatusFor(p.Percent)
	p.NeedsAttention, p.AttentionReasons = attention(p, time.Now())
	return p, nil
}

// attention accumulates the reasons a project needs supervisor attention.
func attention(p models.ProjectProgress, now time.Time) (bool, []string) {
	var reasons []string
	if p.LastActivity != nil && now.Sub(*p.LastActivity) > activityWindow {
		reasons = append(reasons, "no activity in over a week")
	}
	if p.Percent < 10 {
		reasons = append(reasons, "very low progress")
	}
	if p.CommitCount == 0 {
		reasons = append(reasons, "no commits")
	}
	if total := p.OpenIssues + p.ClosedIssues; total > 0 && p.ClosedIssues == 0 {
		reasons = append(reasons, "all issues still open")
	}
	return len(reasons) > 0, reasons
}

// Summarize aggregates per-project progress into snapshot summary stats.
func Summarize(projects []models.ProjectProgress) models.Summary {
	s := models.Summary{TotalProjects: len(projects)}
	if len(projects) == 0 {
		return s
	}

	var total float64
	for _, p := range projects {
		total += p.Percent
		switch {
		case p.Percent == 0:
			s.Distribution.NotStarted++
		case p.Percent < 25:
			s.Distribution.Early++
		case p.Percent < 75:
			s.Distribution.Active++
		case p.Percent < 100:
			s.Distribution.Late++
		default:
			s.Distribution.Completed++
			s.Completed++
		}
		if p.NeedsAttention {
			s.NeedAttention++
		}
	}
	s.AveragePercent = round2(total / float64(len(projects)))
	s.CompletionRate = round2(float64(s.Completed) / float64(len(projects)) * 100)
	return s
}

// NeedingAttention filters a snapshot to flagged projects, worst first.
func NeedingAttention(snap *models.Snapshot) []models.ProjectProgress {
	var out []models.ProjectProgress
	for _, p := range snap.Projects {
		if p.NeedsAttention {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Percent < out[j].Percent })
	return out
}

// ProjectChange is one project's movement between two snapshots.
type ProjectChange struct {
	IndexNo string  `json:"index_no"`
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Change  float64 `json:"change"`
}

// Changes compares two snapshots. Improved and declined use a five point
// threshold.
type Changes struct {
	ProgressChange   float64         `json:"progress_change"`
	NewCompletions   int             `json:"new_completions"`
	ProjectsImproved int             `json:"projects_improved"`
	ProjectsDeclined int             `json:"projects_declined"`
	PerProject       []ProjectChange `json:"per_project,omitempty"`
}

// Weekly is the weekly progress report.
type Weekly struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Summary         models.Summary `json:"summary"`
	Changes         *Changes       `json:"changes,omitempty"`
	Highlights      []string       `json:"highlights"`
	Concerns        []string       `json:"concerns"`
	Recommendations []string       `json:"recommendations"`
}

// changeThreshold is the ± movement that counts a project as improved or
// declined between snapshots.
const changeThreshold = 5.0

func compareSnapshots(previous, current *models.Snapshot) *Changes {
	ch := &Changes{
		ProgressChange: round2(current.Summary.AveragePercent - previous.Summary.AveragePercent),
		NewCompletions: current.Summary.Distribution.Completed - previous.Summary.Distribution.Completed,
	}
	for _, p := range current.Projects {
		prev, ok := previous.Find(p.IndexNo)
		if !ok {
			continue
		}
		diff := round2(p.Percent - prev.Percent)
		if diff == 0 {
			continue
		}
		ch.PerProject = append(ch.PerProject, ProjectChange{
			IndexNo: p.IndexNo, From: prev.Percent, To: p.Percent, Change: diff,
		})
		if diff > changeThreshold {
			ch.ProjectsImproved++
		} else if diff < -changeThreshold {
			ch.ProjectsDeclined++
		}
	}
	return ch
}

// WeeklyReport builds the weekly report from the current snapshot, with
// change tracking when a previous snapshot exists. The report is persisted
// when a store is configured.
func (c *Collector) WeeklyReport(ctx context.Context, current, previous *models.Snapshot) (*Weekly, error) {
	w := &Weekly{
		GeneratedAt: time.Now().UTC(),
		Summary:     current.Summary,
	}
	if previous != nil {
		w.Changes = compareSnapshots(previous, current)
	}
	w.Highlights = highlights(current, w.Changes)
	w.Concerns = concerns(current, w.Changes)
	w.Recommendations = weeklyRecommendations(current)

	if err := c.saveReport(ctx, models.ReportWeekly, w); err != nil {
		return nil, err
	}
	return w, nil
}

func highlights(snap *models.Snapshot, ch *Changes) []string {
	var out []string
	s := snap.Summary
	if s.CompletionRate > 0 {
		out = append(out, fmt.Sprintf("%.1f%% of projects are fully complete", s.CompletionRate))
	}
	if n := s.Distribution.Late; n > 0 {
		out = append(out, fmt.Sprintf("%d projects are making excellent progress (75%%+ completion)", n))
	}
	var commits int
	for _, p := range snap.Projects {
		commits += p.CommitCount
	}
	if commits > 0 {
		out = append(out, fmt.Sprintf("Total of %d commits across all project folders", commits))
	}
	if ch != nil {
		if ch.NewCompletions > 0 {
			out = append(out, fmt.Sprintf("%d projects completed since the last snapshot", ch.NewCompletions))
		}
		if ch.ProjectsImproved > 0 {
			out = append(out, fmt.Sprintf("%d projects improved by more than %.0f points", ch.ProjectsImproved, changeThreshold))
		}
	}
	return out
}

func concerns(snap *models.Snapshot, ch *Changes) []string {
	var out []string
	s := snap.Summary
	if s.NeedAttention > 0 {
		out = append(out, fmt.Sprintf("%d projects need immediate attention", s.NeedAttention))
	}
	if n := s.Distribution.NotStarted; n > 0 {
		out = append(out, fmt.Sprintf("%d projects have not started work", n))
	}
	if n := s.Distribution.Early; n > 0 {
		out = append(out, fmt.Sprintf("%d projects have very low progress (< 25%%)", n))
	}
	if ch != nil && ch.ProjectsDeclined > 0 {
		out = append(out, fmt.Sprintf("%d projects declined since the last snapshot", ch.ProjectsDeclined))
	}
	return out
}

func weeklyRecommendations(snap *models.Snapshot) []string {
	var out []string
	s := snap.Summary
	if s.NeedAttention > 0 {
		out = append(out, "Schedule individual meetings with students needing attention")
	}
	if s.Distribution.Early > 5 {
		out = append(out, "Consider additional support sessions for struggling students")
	}
	var inactive int
	for _, p := range snap.Projects {
		if p.CommitCount == 0 {
			inactive++
		}
	}
	if inactive > 3 {
		out = append(out, "Send reminders about regular commits and progress updates")
	}
	return out
}

// Monthly wraps a full analytics run with a month stamp.
type Monthly struct {
	Month       string            `json:"month"`
	GeneratedAt time.Time         `json:"generated_at"`
	Analytics   *analytics.Report `json:"analytics"`
}

// MonthlyReport runs comprehensive analytics over the snapshot and its
// history and persists the stamped result when a store is configured.
func (c *Collector) MonthlyReport(ctx context.Context, current *models.Snapshot, history []*models.Snapshot) (*Monthly, error) {
	now := time.Now().UTC()
	m := &Monthly{
		Month:       now.Format("2006-01"),
		GeneratedAt: now,
		Analytics:   analytics.Generate(current, history),
	}
	if err := c.saveReport(ctx, models.ReportMonthly, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Collector) saveReport(ctx context.Context, kind models.ReportKind, payload any) error {
	if c.Store == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s report: %w", kind, err)
	}
	report := &models.Report{Kind: kind, Payload: raw}
	if err := c.Store.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("save %s report: %w", kind, err)
	}
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
