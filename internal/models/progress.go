package models

import "time"

// MilestoneStatus represents how far a single milestone has moved.
type MilestoneStatus string

const (
	MilestoneNotStarted MilestoneStatus = "not_started"
	MilestoneStarted    MilestoneStatus = "started"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

// ProjectStatus buckets overall weighted progress.
type ProjectStatus string

const (
	StatusNotStarted     ProjectStatus = "not_started"
	StatusJustStarted    ProjectStatus = "just_started"
	StatusInProgress     ProjectStatus = "in_progress"
	StatusGoodProgress   ProjectStatus = "good_progress"
	StatusNearCompletion ProjectStatus = "near_completion"
	StatusCompleted      ProjectStatus = "completed"
)

// ProjectStatusFor maps a weighted completion percentage to its bucket.
func ProjectStatusFor(percent float64) ProjectStatus {
	switch {
	case percent <= 0:
		return StatusNotStarted
	case percent < 25:
		return StatusJustStarted
	case percent < 50:
		return StatusInProgress
	case percent < 75:
		return StatusGoodProgress
	case percent < 100:
		return StatusNearCompletion
	default:
		return StatusCompleted
	}
}

// RiskLevel classifies a project for the risk analytics section.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MilestoneProgress is the per-milestone slice of a project's progress.
type MilestoneProgress struct {
	Name      string          `json:"name"`
	Weight    int             `json:"weight"`
	Total     int             `json:"total_issues"`
	Completed int             `json:"completed_issues"`
	Status    MilestoneStatus `json:"status"`
}

// ProjectProgress is the collected state of one student project.
type ProjectProgress struct {
	IndexNo          string              `json:"index_no"`
	StudentName      string              `json:"student_name"`
	ResearchArea     string              `json:"research_area"`
	GitHubUser       string              `json:"github_user"`
	FolderName       string              `json:"folder_name"`
	OpenIssues       int                 `json:"open_issues"`
	ClosedIssues     int                 `json:"closed_issues"`
	Milestones       []MilestoneProgress `json:"milestones"`
	Percent          float64             `json:"percent"`
	CommitCount      int                 `json:"commit_count"`
	LastActivity     *time.Time          `json:"last_activity,omitempty"`
	Status           ProjectStatus       `json:"status"`
	NeedsAttention   bool                `json:"needs_attention"`
	AttentionReasons []string            `json:"attention_reasons,omitempty"`
}

// Distribution counts projects per progress bucket.
type Distribution struct {
	NotStarted int `json:"not_started"`
	Early      int `json:"early"`
	Active     int `json:"active"`
	Late       int `json:"late"`
	Completed  int `json:"completed"`
}

// Summary aggregates one snapshot across all projects.
type Summary struct {
	TotalProjects  int          `json:"total_projects"`
	AveragePercent float64      `json:"average_percent"`
	Completed      int          `json:"completed"`
	NeedAttention  int          `json:"need_attention"`
	Distribution   Distribution `json:"distribution"`
	CompletionRate float64      `json:"completion_rate"`
}

// Snapshot is one full progress collection run over the roster.
type Snapshot struct {
	ID       string            `json:"id"`
	TakenAt  time.Time         `json:"taken_at"`
	Projects []ProjectProgress `json:"projects"`
	Summary  Summary           `json:"summary"`
}

// Find returns the progress entry for an index number, if present.
func (s *Snapshot) Find(indexNo string) (ProjectProgress, bool) {
	for _, p := range s.Projects {
		if p.IndexNo == indexNo {
			return p, true
		}
	}
	return ProjectProgress{}, false
}
