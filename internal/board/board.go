// Package board manages the shared research dashboard, a classic project
// board with one note card per student project.
package board

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cohort/internal/gh"
	"cohort/internal/models"
	"cohort/internal/plan"
	"cohort/internal/templates"
)

// DefaultName is the dashboard project name.
const DefaultName = "Research Projects Dashboard"

// Column names the sync rules refer to directly.
const (
	ColNotStarted    = "Not Started"
	ColLitReview     = "Literature Review"
	ColImplement     = "Implementation"
	ColExperiment    = "Experimentation"
	ColPaperWriting  = "Paper Writing"
	ColUnderReview   = "Under Review"
	ColCompleted     = "Completed"
	ColNeedAttention = "Need Attention"
)

// DefaultColumns returns the ordered column set for a new dashboard.
func DefaultColumns() []string {
	return []string{
		ColNotStarted, ColLitReview, ColImplement, ColExperiment,
		ColPaperWriting, ColUnderReview, ColCompleted, ColNeedAttention,
	}
}

// activityWindow is how recently a project must have moved to count as
// active.
const activityWindow = 7 * 24 * time.Hour

// Manager drives the dashboard against one repository.
type Manager struct {
	Client gh.Client
	Repo   string

	// Name and Columns default to DefaultName and DefaultColumns.
	Name    string
	Columns []string

	// ProjectID, when nonzero, reuses an existing board instead of
	// creating one.
	ProjectID int64

	Plan        *plan.Plan
	Course      templates.CourseInfo
	Supervisors []models.Supervisor

	Log *zap.Logger
}

func (m *Manager) logger() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

func (m *Manager) name() string {
	if m.Name == "" {
		return DefaultName
	}
	return m.Name
}

func (m *Manager) columnNames() []string {
	if len(m.Columns) == 0 {
		return DefaultColumns()
	}
	return m.Columns
}

func (m *Manager) plan() *plan.Plan {
	if m.Plan == nil {
		return plan.Default()
	}
	return m.Plan
}

// Board is a resolved dashboard: its project ID and column IDs by name.
type Board struct {
	ProjectID int64
	Columns   map[string]int64
	Order     []string
}

// Ensure creates the dashboard project and any missing columns, and
// returns the resolved board. Reuses ProjectID when set, otherwise a
// project with the same name, and only creates a new one when neither
// exists.
func (m *Manager) Ensure(ctx context.Context) (*Board, error) {
	b := &Board{ProjectID: m.ProjectID, Order: m.columnNames(), Columns: map[string]int64{}}

	if b.ProjectID == 0 {
		projects, err := m.Client.ListRepoProjects(ctx, m.Repo)
		if err != nil {
			return nil, fmt.Errorf("list project boards: %w", err)
		}
		for _, p := range projects {
			if p.Name == m.name() {
				b.ProjectID = p.ID
				m.logger().Debug("reusing project board", zap.String("name", p.Name), zap.Int64("id", p.ID))
				break
			}
		}
	}

	if b.ProjectID == 0 {
		id, err := m.Client.CreateRepoProject(ctx, m.Repo, m.name(), m.Description())
		if err != nil {
			return nil, fmt.Errorf("create project board: %w", err)
		}
		b.ProjectID = id
		m.logger().Info("created project board", zap.String("name", m.name()), zap.Int64("id", id))
	}

	existing, err := m.Client.ListProjectColumns(ctx, b.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list board columns: %w", err)
	}
	have := make(map[string]int64, len(existing))
	for _, col := range existing {
		have[col.Name] = col.ID
	}

	for _, name := range b.Order {
		if id, ok := have[name]; ok {
			b.Columns[name] = id
			continue
		}
		col, err := m.Client.CreateProjectColumn(ctx, b.ProjectID, name)
		if err != nil {
			return nil, fmt.Errorf("create column %s: %w", name, err)
		}
		b.Columns[name] = col.ID
	}
	return b, nil
}

// Description builds the board description shown on GitHub.
func (m *Manager) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Master Dashboard for %s\n\n", m.Course.Name)
	fmt.Fprintf(&b, "**Course:** %s - %s\n", m.Course.Code, m.Course.Name)
	fmt.Fprintf(&b, "**Academic Year:** %s\n", m.Course.AcademicYear)
	fmt.Fprintf(&b, "**Semester:** %s\n\n", m.Course.Semester)
	b.WriteString("This project board tracks the progress of all student research projects in the course.\n")
	b.WriteString("Cards move automatically as milestone issues close; supervisors can move cards manually as needed.\n\n")
	b.WriteString("**Supervisors:**\n")
	if len(m.Supervisors) == 0 {
		b.WriteString("- No supervisors configured\n")
	}
	for _, s := range m.Supervisors {
		if s.GitHubUser != "" {
			fmt.Fprintf(&b, "- %s (@%s)\n", s.Name, s.GitHubUser)
		} else {
			fmt.Fprintf(&b, "- %s\n", s.Name)
		}
	}
	return b.String()
}

// CardNote renders the note body for one student's card.
func (m *Manager) CardNote(rec models.ProjectRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** - %s\n\n", rec.IndexNo, rec.ResearchArea)

	user := rec.GitHubUser
	if user == "" {
		user = "N/A"
	}
	email := rec.Email
	if email == "" {
		email = "N/A"
	}
	fmt.Fprintf(&b, "👤 **Student:** %s\n", user)
	fmt.Fprintf(&b, "📂 **Folder:** `projects/%s/`\n", rec.FolderName)
	fmt.Fprintf(&b, "📧 **Email:** %s\n\n", email)

	b.WriteString("**Quick Links:**\n")
	fmt.Fprintf(&b, "- [Student Folder](projects/%s/)\n", rec.FolderName)
	fmt.Fprintf(&b, "- [Issues](issues?q=label%%3A%s)\n", rec.Label())
	fmt.Fprintf(&b, "- [Progress Reports](projects/%s/docs/progress_reports/)\n\n", rec.FolderName)

	b.WriteString("**Milestones:**\n")
	for _, ms := range m.plan().Milestones {
		fmt.Fprintf(&b, "- [ ] %s (Week %d)\n", ms.Name, ms.Week)
	}
	return b.String()
}

type cardLoc struct {
	card       gh.Card
	columnID   int64
	columnName string
}

// cardIndex locates every parseable student card across all columns.
func (m *Manager) cardIndex(ctx context.Context, b *Board) (map[string]cardLoc, error) {
	locs := map[string]cardLoc{}
	for _, name := range b.Order {
		id, ok := b.Columns[name]
		if !ok {
			continue
		}
		cards, err := m.Client.ListColumnCards(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list cards in %s: %w", name, err)
		}
		for _, c := range cards {
			if info, ok := parseCard(c.Note); ok {
				locs[info.IndexNo] = cardLoc{card: c, columnID: id, columnName: name}
			}
		}
	}
	return locs, nil
}

// SeedCards creates one card per record in Not Started, skipping records
// that already have a card anywhere on the board.
func (m *Manager) SeedCards(ctx context.Context, b *Board, records []models.ProjectRecord) (created, skipped []string, err error) {
	locs, err := m.cardIndex(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	colID, ok := b.Columns[ColNotStarted]
	if !ok {
		return nil, nil, fmt.Errorf("board has no %q column", ColNotStarted)
	}

	for _, rec := range records {
		if _, exists := locs[rec.IndexNo]; exists {
			skipped = append(skipped, rec.IndexNo)
			continue
		}
		if _, err := m.Client.CreateNoteCard(ctx, colID, m.CardNote(rec)); err != nil {
			return created, skipped, fmt.Errorf("create card for %s: %w", rec.IndexNo, err)
		}
		created = append(created, rec.IndexNo)
	}
	return created, skipped, nil
}

// TargetColumn picks the column a project belongs in. Attention rules run
// first, then the active milestone phase, then the percent fallback.
func TargetColumn(p models.ProjectProgress, now time.Time) string {
	recent := p.LastActivity != nil && now.Sub(*p.LastActivity) <= activityWindow

	if p.Percent == 0 && !recent {
		return ColNeedAttention
	}
	if p.OpenIssues > 5 || (p.Percent < 25 && !recent) {
		return ColNeedAttention
	}

	if col := phaseColumn(p); col != "" {
		return col
	}

	switch {
	case p.Percent == 0:
		return ColNotStarted
	case p.Percent < 25:
		return ColLitReview
	case p.Percent < 50:
		return ColImplement
	case p.Percent < 75:
		return ColExperiment
	case p.Percent < 100:
		return ColPaperWriting
	default:
		return ColCompleted
	}
}

// phaseColumn maps a project's first unfinished milestone to a column.
// Returns "" when that milestone does not name a phase the board tracks.
func phaseColumn(p models.ProjectProgress) string {
	for _, ms := range p.Milestones {
		if ms.Status == models.MilestoneCompleted || ms.Status == models.MilestoneNotStarted {
			continue
		}
		name := strings.ToLower(ms.Name)
		switch {
		case strings.Contains(name, "literature"):
			return ColLitReview
		case strings.Contains(name, "implementation"), strings.Contains(name, "methodology"):
			return ColImplement
		}
		return ""
	}
	return ""
}

// SyncResult reports what one Sync pass changed.
type SyncResult struct {
	Moved   int      `json:"moved"`
	Created int      `json:"created"`
	Errors  []string `json:"errors,omitempty"`
}

// Sync moves every project's card to the column its progress dictates,
// creating cards for projects that never got one.
func (m *Manager) Sync(ctx context.Context, b *Board, snap *models.Snapshot) (*SyncResult, error) {
	locs, err := m.cardIndex(ctx, b)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{}
	now := time.Now()
	for _, p := range snap.Projects {
		target := TargetColumn(p, now)
		targetID, ok := b.Columns[target]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("column %q not found for %s", target, p.IndexNo))
			continue
		}

		loc, exists := locs[p.IndexNo]
		if !exists {
			rec := models.ProjectRecord{
				IndexNo:      p.IndexNo,
				StudentName:  p.StudentName,
				ResearchArea: p.ResearchArea,
				GitHubUser:   p.GitHubUser,
				FolderName:   p.FolderName,
			}
			if _, err := m.Client.CreateNoteCard(ctx, targetID, m.CardNote(rec)); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("create card for %s: %v", p.IndexNo, err))
				continue
			}
			res.Created++
			continue
		}
		if loc.columnID == targetID {
			continue
		}
		if err := m.Client.MoveCard(ctx, loc.card.ID, targetID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("move card for %s: %v", p.IndexNo, err))
			continue
		}
		m.logger().Debug("moved card",
			zap.String("index", p.IndexNo),
			zap.String("from", loc.columnName),
			zap.String("to", target))
		res.Moved++
	}
	return res, nil
}

// ColumnStat is one column's share of the board.
type ColumnStat struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Summary aggregates card counts across the board.
type Summary struct {
	Total          int          `json:"total"`
	Columns        []ColumnStat `json:"columns"`
	NotStarted     int          `json:"not_started"`
	InProgress     int          `json:"in_progress"`
	Completed      int          `json:"completed"`
	NeedAttention  int          `json:"need_attention"`
	CompletionRate float64      `json:"completion_rate"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Summarize counts cards per column and derives the completion rate.
func (m *Manager) Summarize(ctx context.Context, b *Board) (*Summary, error) {
	sum := &Summary{GeneratedAt: time.Now().UTC()}
	for _, name := range b.Order {
		cards, err := m.Client.ListColumnCards(ctx, b.Columns[name])
		if err != nil {
			return nil, fmt.Errorf("list cards in %s: %w", name, err)
		}
		n := len(cards)
		sum.Columns = append(sum.Columns, ColumnStat{Name: name, Count: n})
		sum.Total += n
		switch name {
		case ColNotStarted:
			sum.NotStarted += n
		case ColCompleted:
			sum.Completed += n
		case ColNeedAttention:
			sum.NeedAttention += n
		default:
			sum.InProgress += n
		}
	}
	if sum.Total > 0 {
		for i := range sum.Columns {
			sum.Columns[i].Percent = float64(sum.Columns[i].Count) / float64(sum.Total) * 100
		}
		sum.CompletionRate = float64(sum.Completed) / float64(sum.Total) * 100
	}
	return sum, nil
}

// CardInfo is a student card parsed back off the board.
type CardInfo struct {
	IndexNo      string `json:"index_no"`
	ResearchArea string `json:"research_area"`
	Column       string `json:"column"`
	FolderPath   string `json:"folder_path,omitempty"`
	Reason       string `json:"reason"`
}

// Attention returns the students sitting in the risk columns.
func (m *Manager) Attention(ctx context.Context, b *Board) ([]CardInfo, error) {
	var out []CardInfo
	for _, name := range []string{ColNeedAttention, ColNotStarted} {
		id, ok := b.Columns[name]
		if !ok {
			continue
		}
		cards, err := m.Client.ListColumnCards(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list cards in %s: %w", name, err)
		}
		for _, c := range cards {
			info, ok := parseCard(c.Note)
			if !ok {
				continue
			}
			info.Column = name
			info.Reason = attentionReason(name)
			out = append(out, info)
		}
	}
	return out, nil
}

func attentionReason(column string) string {
	switch column {
	case ColNotStarted:
		return "Project not started - immediate action required"
	case ColNeedAttention:
		return "Flagged for supervisor attention - check recent activity"
	default:
		return "Manual review needed"
	}
}

// parseCard extracts the index number, research area, and folder path
// from a card note.
func parseCard(note string) (CardInfo, bool) {
	var info CardInfo
	for _, line := range strings.Split(note, "\n") {
		switch {
		case info.IndexNo == "" && strings.HasPrefix(line, "**"):
			rest := strings.TrimPrefix(line, "**")
			end := strings.Index(rest, "**")
			if end <= 0 {
				continue
			}
			info.IndexNo = strings.TrimSpace(rest[:end])
			if dash := strings.Index(rest[end+2:], "- "); dash >= 0 {
				info.ResearchArea = strings.TrimSpace(rest[end+2+dash+2:])
			}
		case info.FolderPath == "" && strings.Contains(line, "Folder:") && strings.Contains(line, "`projects/"):
			start := strings.Index(line, "`") + 1
			if end := strings.Index(line[start:], "`"); end > 0 {
				info.FolderPath = line[start : start+end]
			}
		}
	}
	return info, info.IndexNo != ""
}
