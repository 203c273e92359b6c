// Package plan defines the graded milestone set for a course run.
//
// The embedded default is the standard four-milestone rubric; a YAML plan
// file can replace it for course variants. Weights are rubric percentages
// and must sum to 100.
package plan

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cohort/internal/models"
)

// Milestone is one graded deliverable checkpoint.
type Milestone struct {
	Name     string `yaml:"name" json:"name"`
	Slug     string `yaml:"slug" json:"slug"`
	Week     int    `yaml:"week" json:"week"`
	Weight   int    `yaml:"weight" json:"weight"`
	Template string `yaml:"template" json:"template"`
}

// Plan is the ordered milestone set for a course run.
type Plan struct {
	Milestones []Milestone `yaml:"milestones" json:"milestones"`
}

// Default returns the standard course plan: four milestones whose rubric
// weights sum to 100.
func Default() *Plan {
	return &Plan{Milestones: []Milestone{
		{Name: "Research Proposal", Slug: "research-proposal", Week: 4, Weight: 15, Template: "issue_research_proposal.md"},
		{Name: "Literature Review", Slug: "literature-review", Week: 5, Weight: 20, Template: "issue_literature_review.md"},
		{Name: "Methodology & Implementation", Slug: "implementation", Week: 8, Weight: 25, Template: "issue_methodology.md"},
		{Name: "Final Evaluation", Slug: "final-evaluation", Week: 12, Weight: 40, Template: "issue_final_evaluation.md"},
	}}
}

// Load reads a plan from a YAML file, or returns the default when path is
// empty. The loaded plan is validated.
func Load(path string) (*Plan, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks plan consistency: nonempty names and slugs, ascending
// weeks, weights summing to 100.
func (p *Plan) Validate() error {
	if len(p.Milestones) == 0 {
		return fmt.Errorf("plan has no milestones")
	}
	sum := 0
	lastWeek := 0
	for i, m := range p.Milestones {
		if m.Name == "" {
			return fmt.Errorf("milestone %d has no name", i+1)
		}
		if m.Slug == "" {
			return fmt.Errorf("milestone %q has no slug", m.Name)
		}
		if m.Week <= lastWeek {
			return fmt.Errorf("milestone %q week %d is not after week %d", m.Name, m.Week, lastWeek)
		}
		lastWeek = m.Week
		sum += m.Weight
	}
	if sum != 100 {
		return fmt.Errorf("milestone weights sum to %d, want 100", sum)
	}
	return nil
}

// DueDate returns the milestone due date for a course starting at start.
func (m Milestone) DueDate(start time.Time) time.Time {
	return start.AddDate(0, 0, m.Week*7)
}

// IssueTitle returns the milestone issue title for one student project.
func (m Milestone) IssueTitle(indexNo string) string {
	return m.Name + " - " + indexNo
}

// IssueLabels returns the labels attached to a milestone issue.
func (m Milestone) IssueLabels(rec models.ProjectRecord) []string {
	return []string{m.Slug, rec.Label(), "milestone", fmt.Sprintf("week-%d", m.Week)}
}

// MatchTitle finds the milestone an issue belongs to by case-insensitive
// substring match on its title.
func (p *Plan) MatchTitle(issueTitle string) (Milestone, bool) {
	lower := strings.ToLower(issueTitle)
	for _, m := range p.Milestones {
		if strings.Contains(lower, strings.ToLower(m.Name)) {
			return m, true
		}
	}
	return Milestone{}, false
}

// WeightedPercent computes overall completion from issue titles and closed
// states. Each issue carries its matched milestone's weight; unmatched
// issues carry weight 1.
func (p *Plan) WeightedPercent(issues []IssueState) float64 {
	if len(issues) == 0 {
		return 0
	}
	total, completed := 0, 0
	for _, is := range issues {
		weight := 1
		if m, ok := p.MatchTitle(is.Title); ok {
			weight = m.Weight
		}
		total += weight
		if is.Closed {
			completed += weight
		}
	}
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// IssueState is the minimal issue view the plan math needs.
type IssueState struct {
	Title  string
	Closed bool
}

// MilestoneStatus derives one milestone's status from its issues.
func MilestoneStatus(issues []IssueState, m Milestone) models.MilestoneStatus {
	var matched, closed int
	lower := strings.ToLower(m.Name)
	for _, is := range issues {
		if !strings.Contains(strings.ToLower(is.Title), lower) {
			continue
		}
		matched++
		if is.Closed {
			closed++
		}
	}
	switch {
	case matched == 0:
		return models.MilestoneNotStarted
	case closed == matched:
		return models.MilestoneCompleted
	case closed > 0:
		return models.MilestoneInProgress
	default:
		return models.MilestoneStarted
	}
}
