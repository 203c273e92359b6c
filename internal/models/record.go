package models

// ProjectRecord is one student research project from the course roster.
type ProjectRecord struct {
	IndexNo           string   `json:"index_no"`
	StudentName       string   `json:"student_name"`
	ResearchArea      string   `json:"research_area"`
	ResearchAreaClean string   `json:"research_area_clean"`
	GitHubUser        string   `json:"github_user"`
	Email             string   `json:"email"`
	FolderName        string   `json:"folder_name"`
	Supervisors       []string `json:"supervisors,omitempty"`
}

// Label returns the issue label that ties GitHub issues to this record.
func (r ProjectRecord) Label() string {
	return "student-" + r.IndexNo
}

// Supervisor is a course supervisor who reviews student projects.
type Supervisor struct {
	Name       string `json:"name" mapstructure:"name"`
	GitHubUser string `json:"github_user" mapstructure:"github"`
	Email      string `json:"email" mapstructure:"email"`
}
