// Package analytics derives course-wide analytics from progress
// snapshots: overview, milestone completion, performance spread, risk
// tiers, engagement, and trends over stored history.
package analytics

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"cohort/internal/models"
)

// Overview is the headline numbers section.
type Overview struct {
	TotalProjects   int     `json:"total_projects"`
	AverageProgress float64 `json:"average_progress"`
	Completed       int     `json:"completed"`
	AtRisk          int     `json:"at_risk"`
}

// MilestoneStat aggregates one milestone across all projects. Behind
// counts projects that have not completed the milestone yet.
type MilestoneStat struct {
	Name           string  `json:"name"`
	Weight         int     `json:"weight"`
	NotStarted     int     `json:"not_started"`
	Started        int     `json:"started"`
	InProgress     int     `json:"in_progress"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate"`
	Behind         int     `json:"projects_behind"`
}

// Stats is the progress distribution of the cohort.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_deviation"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
}

// Performer is one project ranked by progress.
type Performer struct {
	IndexNo     string  `json:"index_no"`
	StudentName string  `json:"student_name,omitempty"`
	Percent     float64 `json:"percent"`
}

// Performance is the spread section with ranked outliers.
type Performance struct {
	Stats            Stats       `json:"progress_statistics"`
	TopPerformers    []Performer `json:"top_performers"`
	BottomPerformers []Performer `json:"bottom_performers"`
}

// RiskEntry is one project's risk classification. Score runs 0 to 10.
type RiskEntry struct {
	IndexNo      string           `json:"index_no"`
	ResearchArea string           `json:"research_area,omitempty"`
	Level        models.RiskLevel `json:"level"`
	Score        int              `json:"risk_score"`
	Factors      []string         `json:"risk_factors,omitempty"`
}

// Risk buckets projects into tiers.
type Risk struct {
	High   []RiskEntry `json:"high_risk"`
	Medium []RiskEntry `json:"medium_risk"`
	Low    []RiskEntry `json:"low_risk"`
}

// CommitFrequency buckets projects by commit count.
type CommitFrequency struct {
	None     int `json:"none"`
	Low      int `json:"low"`
	Moderate int `json:"moderate"`
	High     int `json:"high"`
}

// Engagement measures how actively the cohort is working.
type Engagement struct {
	TotalCommits    int             `json:"total_commits"`
	ActiveLast7     int             `json:"active_projects_7_days"`
	InactiveOver14  int             `json:"inactive_projects_14_days"`
	EngagementRate  float64         `json:"engagement_rate"`
	OpenIssues      int             `json:"open_issues"`
	ClosedIssues    int             `json:"closed_issues"`
	CommitFrequency CommitFrequency `json:"commit_frequency_distribution"`
}

// TrendPoint is one snapshot's average on the timeline.
type TrendPoint struct {
	TakenAt time.Time `json:"taken_at"`
	Average float64   `json:"average_percent"`
}

// Trend tracks average progress across stored snapshots.
type Trend struct {
	Points              []TrendPoint `json:"points"`
	Direction           string       `json:"trend_direction"`
	TotalChange         float64      `json:"total_change"`
	AverageWeeklyChange float64      `json:"average_weekly_change"`
}

// Report is one comprehensive analytics run.
type Report struct {
	ID              string          `json:"report_id"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Overview        Overview        `json:"overview"`
	Milestones      []MilestoneStat `json:"milestone_analytics"`
	Performance     Performance     `json:"performance_analytics"`
	Risk            Risk            `json:"risk_analytics"`
	Engagement      Engagement      `json:"engagement_analytics"`
	Trend           *Trend          `json:"trend_analytics,omitempty"`
	Recommendations []string        `json:"recommendations"`
}

const (
	activityWindow   = 7 * 24 * time.Hour
	inactivityWindow = 14 * 24 * time.Hour
	rankedCount      = 5
)

func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Generate builds a full report from the current snapshot. history holds
// earlier snapshots for the trend section; fewer than two points total
// leaves the trend empty.
func Generate(snap *models.Snapshot, history []*models.Snapshot) *Report {
	now := time.Now()
	r := &Report{
		ID:          newULID(),
		GeneratedAt: now.UTC(),
		Overview:    overview(snap.Projects),
		Milestones:  milestoneStats(snap.Projects),
		Performance: performance(snap.Projects),
		Risk:        riskTiers(snap.Projects, now),
		Engagement:  engagement(snap.Projects, now),
		Trend:       trend(snap, history),
	}
	r.Recommendations = recommendations(r)
	return r
}

func overview(projects []models.ProjectProgress) Overview {
	o := Overview{TotalProjects: len(projects)}
	if len(projects) == 0 {
		return o
	}
	var sum float64
	for _, p := range projects {
		sum += p.Percent
		if p.Percent >= 100 {
			o.Completed++
		}
		if p.Percent < 25 {
			o.AtRisk++
		}
	}
	o.AverageProgress = round2(sum / float64(len(projects)))
	return o
}

func milestoneStats(projects []models.ProjectProgress) []MilestoneStat {
	order := []string{}
	stats := map[string]*MilestoneStat{}
	for _, p := range projects {
		for _, m := range p.Milestones {
			st, ok := stats[m.Name]
			if !ok {
				st = &MilestoneStat{Name: m.Name, Weight: m.Weight}
				stats[m.Name] = st
				order = append(order, m.Name)
			}
			switch m.Status {
			case models.MilestoneNotStarted:
				st.NotStarted++
			case models.MilestoneStarted:
				st.Started++
			case models.MilestoneInProgress:
				st.InProgress++
			case models.MilestoneCompleted:
				st.Completed++
			}
		}
	}

	out := make([]MilestoneStat, 0, len(order))
	for _, name := range order {
		st := stats[name]
		total := st.NotStarted + st.Started + st.InProgress + st.Completed
		if total > 0 {
			st.CompletionRate = round2(float64(st.Completed) / float64(total) * 100)
		}
		st.Behind = total - st.Completed
		out = append(out, *st)
	}
	return out
}

func performance(projects []models.ProjectProgress) Performance {
	perf := Performance{}
	if len(projects) == 0 {
		return perf
	}

	percents := make([]float64, len(projects))
	ranked := make([]models.ProjectProgress, len(projects))
	copy(ranked, projects)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Percent > ranked[j].Percent })
	for i, p := range ranked {
		percents[i] = p.Percent
	}

	perf.Stats = computeStats(percents)
	for i := 0; i < len(ranked) && i < rankedCount; i++ {
		perf.TopPerformers = append(perf.TopPerformers, performer(ranked[i]))
	}
	for i := len(ranked) - 1; i >= 0 && len(perf.BottomPerformers) < rankedCount; i-- {
		perf.BottomPerformers = append(perf.BottomPerformers, performer(ranked[i]))
	}
	return perf
}

func performer(p models.ProjectProgress) Performer {
	return Performer{IndexNo: p.IndexNo, StudentName: p.StudentName, Percent: p.Percent}
}

// computeStats expects values sorted descending.
func computeStats(desc []float64) Stats {
	n := len(desc)
	asc := make([]float64, n)
	for i, v := range desc {
		asc[n-1-i] = v
	}

	var sum float64
	for _, v := range asc {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range asc {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)

	return Stats{
		Mean:   round2(mean),
		Median: round2(quantile(asc, 0.5)),
		StdDev: round2(math.Sqrt(variance)),
		Q1:     round2(quantile(asc, 0.25)),
		Q3:     round2(quantile(asc, 0.75)),
	}
}

// quantile interpolates linearly over ascending values.
func quantile(asc []float64, q float64) float64 {
	if len(asc) == 0 {
		return 0
	}
	if len(asc) == 1 {
		return asc[0]
	}
	pos := q * float64(len(asc)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return asc[lo]
	}
	frac := pos - float64(lo)
	return asc[lo]*(1-frac) + asc[hi]*frac
}

func riskTiers(projects []models.ProjectProgress, now time.Time) Risk {
	var risk Risk
	for _, p := range projects {
		entry := classify(p, now)
		switch entry.Level {
		case models.RiskHigh:
			risk.High = append(risk.High, entry)
		case models.RiskMedium:
			risk.Medium = append(risk.Medium, entry)
		default:
			risk.Low = append(risk.Low, entry)
		}
	}
	return risk
}

func classify(p models.ProjectProgress, now time.Time) RiskEntry {
	recent := p.LastActivity != nil && now.Sub(*p.LastActivity) <= activityWindow

	entry := RiskEntry{IndexNo: p.IndexNo, ResearchArea: p.ResearchArea, Level: models.RiskLow}
	switch {
	case p.Percent < 25 && !recent:
		entry.Level = models.RiskHigh
	case p.Percent < 50 || !recent:
		entry.Level = models.RiskMedium
	}

	score := 0
	if p.Percent < 25 {
		score += 4
		entry.Factors = append(entry.Factors, "progress below 25%")
	} else if p.Percent < 50 {
		score += 2
		entry.Factors = append(entry.Factors, "progress below 50%")
	}
	if !recent {
		score += 3
		entry.Factors = append(entry.Factors, "no recent activity")
	}
	if p.CommitCount == 0 {
		score += 2
		entry.Factors = append(entry.Factors, "no commits")
	}
	if total := p.OpenIssues + p.ClosedIssues; total > 0 && p.ClosedIssues == 0 {
		score++
		entry.Factors = append(entry.Factors, "all issues still open")
	}
	entry.Score = score
	return entry
}

func engagement(projects []models.ProjectProgress, now time.Time) Engagement {
	var e Engagement
	for _, p := range projects {
		e.TotalCommits += p.CommitCount
		e.OpenIssues += p.OpenIssues
		e.ClosedIssues += p.ClosedIssues

		switch {
		case p.LastActivity == nil:
			e.InactiveOver14++
		case now.Sub(*p.LastActivity) <= activityWindow:
			e.ActiveLast7++
		case now.Sub(*p.LastActivity) > inactivityWindow:
			e.InactiveOver14++
		}

		switch {
		case p.CommitCount == 0:
			e.CommitFrequency.None++
		case p.CommitCount <= 5:
			e.CommitFrequency.Low++
		case p.CommitCount <= 20:
			e.CommitFrequency.Moderate++
		default:
			e.CommitFrequency.High++
		}
	}
	if len(projects) > 0 {
		e.EngagementRate = round2(float64(e.ActiveLast7) / float64(len(projects)) * 100)
	}
	return e
}

// trend lines up history plus the current snapshot by collection time.
func trend(current *models.Snapshot, history []*models.Snapshot) *Trend {
	points := make([]TrendPoint, 0, len(history)+1)
	for _, s := range history {
		points = append(points, TrendPoint{TakenAt: s.TakenAt, Average: s.Summary.AveragePercent})
	}
	points = append(points, TrendPoint{TakenAt: current.TakenAt, Average: current.Summary.AveragePercent})
	sort.Slice(points, func(i, j int) bool { return points[i].TakenAt.Before(points[j].TakenAt) })

	if len(points) < 2 {
		return nil
	}

	first, last := points[0], points[len(points)-1]
	t := &Trend{Points: points, TotalChange: round2(last.Average - first.Average)}
	switch {
	case t.TotalChange > 1:
		t.Direction = "improving"
	case t.TotalChange < -1:
		t.Direction = "declining"
	default:
		t.Direction = "stable"
	}

	weeks := last.TakenAt.Sub(first.TakenAt).Hours() / (24 * 7)
	if weeks < 1 {
		weeks = 1
	}
	t.AverageWeeklyChange = round2(t.TotalChange / weeks)
	return t
}

func recommendations(r *Report) []string {
	var recs []string
	if n := len(r.Risk.High); n > 0 {
		recs = append(recs, fmt.Sprintf("Immediate attention needed for %d high-risk projects", n))
	}
	if r.Overview.TotalProjects > 0 && r.Overview.AverageProgress < 50 {
		recs = append(recs, "Overall progress is below 50% - consider additional support measures")
	}
	if n := r.Engagement.InactiveOver14; n > 0 {
		recs = append(recs, fmt.Sprintf("%d projects inactive for more than two weeks - send activity reminders", n))
	}
	return recs
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
