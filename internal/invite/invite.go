// Package invite manages repository collaborators and organization
// invitations for students and supervisors.
package invite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cohort/internal/gh"
	"cohort/internal/models"
)

// DefaultPace is the pause inserted after every ten invitation sends.
const DefaultPace = 2 * time.Second

// DefaultRetryPace is the pause between individual retry sends.
const DefaultRetryPace = time.Second

// paceEvery is the send count between pacing pauses.
const paceEvery = 10

// Manager sends and inspects invitations against one repository.
type Manager struct {
	Client gh.Client
	Repo   string

	// StudentPermission defaults to "push", SupervisorPermission to
	// "admin".
	StudentPermission    string
	SupervisorPermission string

	// Pace is the pause applied every ten sends, RetryPace the pause
	// between retry sends. Zero disables either.
	Pace      time.Duration
	RetryPace time.Duration

	Log *zap.Logger
}

func (m *Manager) logger() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

func (m *Manager) studentPermission() string {
	if m.StudentPermission == "" {
		return "push"
	}
	return m.StudentPermission
}

func (m *Manager) supervisorPermission() string {
	if m.SupervisorPermission == "" {
		return "admin"
	}
	return m.SupervisorPermission
}

// Result is the outcome of one invitation send.
type Result struct {
	Key     string `json:"key"`
	User    string `json:"user,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (m *Manager) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send adds one student as a repository collaborator.
func (m *Manager) Send(ctx context.Context, rec models.ProjectRecord) Result {
	res := Result{Key: rec.IndexNo, User: rec.GitHubUser}
	if rec.GitHubUser == "" {
		res.Error = "GitHub username not provided"
		return res
	}
	if err := m.Client.AddCollaborator(ctx, m.Repo, rec.GitHubUser, m.studentPermission()); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

// Students invites every roster record as a collaborator with write
// access, pausing every ten sends to stay under abuse limits.
func (m *Manager) Students(ctx context.Context, records []models.ProjectRecord) ([]Result, error) {
	results := make([]Result, 0, len(records))
	for i, rec := range records {
		res := m.Send(ctx, rec)
		results = append(results, res)
		if !res.Success {
			m.logger().Warn("student invitation failed",
				zap.String("index", rec.IndexNo), zap.String("error", res.Error))
		}
		if (i+1)%paceEvery == 0 && i+1 < len(records) {
			m.logger().Info("pausing for rate limit", zap.Int("processed", i+1))
			if err := m.pause(ctx, m.Pace); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// Supervisors invites every supervisor with admin access. Supervisors
// without a GitHub username are skipped.
func (m *Manager) Supervisors(ctx context.Context, supervisors []models.Supervisor) ([]Result, error) {
	var results []Result
	for _, sup := range supervisors {
		if sup.GitHubUser == "" {
			m.logger().Warn("supervisor without GitHub username skipped", zap.String("name", sup.Name))
			continue
		}
		res := Result{Key: sup.GitHubUser, User: sup.GitHubUser}
		if err := m.Client.AddCollaborator(ctx, m.Repo, sup.GitHubUser, m.supervisorPermission()); err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
		}
		results = append(results, res)
	}
	return results, nil
}

// OrgInvites sends organization membership invitations (member role) to
// every record with a username.
func (m *Manager) OrgInvites(ctx context.Context, records []models.ProjectRecord) ([]Result, error) {
	results := make([]Result, 0, len(records))
	for i, rec := range records {
		res := Result{Key: rec.IndexNo, User: rec.GitHubUser}
		if rec.GitHubUser == "" {
			res.Error = "GitHub username not provided"
		} else if err := m.Client.InviteToOrg(ctx, rec.GitHubUser, "member"); err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
		}
		results = append(results, res)
		if (i+1)%paceEvery == 0 && i+1 < len(records) {
			if err := m.pause(ctx, m.Pace); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// StudentStatus is one record's invitation state.
type StudentStatus struct {
	Record models.ProjectRecord
	Status models.InviteStatus
}

// Status reports the invitation state of every record: missing or unknown
// usernames, accepted collaborators, pending invitations, and records
// never invited.
func (m *Manager) Status(ctx context.Context, records []models.ProjectRecord) ([]StudentStatus, error) {
	invitations, err := m.Client.ListInvitations(ctx, m.Repo)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	pending := make(map[string]bool, len(invitations))
	for _, inv := range invitations {
		pending[inv.Invitee] = true
	}

	out := make([]StudentStatus, 0, len(records))
	for _, rec := range records {
		st := StudentStatus{Record: rec, Status: models.InviteNotInvited}
		switch {
		case rec.GitHubUser == "":
			st.Status = models.InviteInvalidUsername
		default:
			exists, err := m.Client.UserExists(ctx, rec.GitHubUser)
			if err != nil {
				return out, fmt.Errorf("check user %s: %w", rec.GitHubUser, err)
			}
			if !exists {
				st.Status = models.InviteInvalidUsername
				break
			}
			collab, err := m.Client.IsCollaborator(ctx, m.Repo, rec.GitHubUser)
			if err != nil {
				return out, fmt.Errorf("check collaborator %s: %w", rec.GitHubUser, err)
			}
			switch {
			case collab:
				st.Status = models.InviteAccepted
			case pending[rec.GitHubUser]:
				st.Status = models.InvitePending
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// Validation buckets roster records by GitHub username usability.
type Validation struct {
	Valid   []models.ProjectRecord
	Invalid []models.ProjectRecord
	Missing []models.ProjectRecord
}

// ValidateUsernames checks every record's username against the GitHub
// users API before any invitation is sent.
func (m *Manager) ValidateUsernames(ctx context.Context, records []models.ProjectRecord) (*Validation, error) {
	v := &Validation{}
	for _, rec := range records {
		if rec.GitHubUser == "" {
			v.Missing = append(v.Missing, rec)
			continue
		}
		exists, err := m.Client.UserExists(ctx, rec.GitHubUser)
		if err != nil {
			return v, fmt.Errorf("check user %s: %w", rec.GitHubUser, err)
		}
		if exists {
			v.Valid = append(v.Valid, rec)
		} else {
			v.Invalid = append(v.Invalid, rec)
		}
	}
	return v, nil
}

// RetryFailed re-sends invitations for the failed items of a previous
// run, pausing a second between sends.
func (m *Manager) RetryFailed(ctx context.Context, run *models.BulkRun, records []models.ProjectRecord) ([]Result, error) {
	byIndex := make(map[string]models.ProjectRecord, len(records))
	for _, rec := range records {
		byIndex[rec.IndexNo] = rec
	}

	var results []Result
	keys := run.FailedKeys()
	for i, key := range keys {
		rec, ok := byIndex[key]
		if !ok {
			results = append(results, Result{Key: key, Error: "not in roster"})
			continue
		}
		results = append(results, m.Send(ctx, rec))
		if i+1 < len(keys) {
			if err := m.pause(ctx, m.RetryPace); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}
