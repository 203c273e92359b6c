// Package gh wraps the GitHub REST API behind a narrow interface so the
// rest of the tool can be tested against a fake.
package gh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

// Sentinel errors callers can test with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Repo is the repository view the tool needs.
type Repo struct {
	Name          string
	FullName      string
	Description   string
	Private       bool
	DefaultBranch string
	HTMLURL       string
}

// Issue is the issue view the tool needs.
type Issue struct {
	Number    int
	Title     string
	State     string
	Labels    []string
	HTMLURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Closed reports whether the issue is closed.
func (i Issue) Closed() bool { return i.State == "closed" }

// Column is one column of a classic project board.
type Column struct {
	ID   int64
	Name string
}

// Project is a classic repository project board.
type Project struct {
	ID   int64
	Name string
}

// Card is one note card on a classic project board.
type Card struct {
	ID       int64
	Note     string
	ColumnID int64
}

// Invitation is a pending repository invitation.
type Invitation struct {
	ID      int64
	Invitee string
}

// Client is the GitHub surface the tool depends on. All methods operate
// within the configured organization.
type Client interface {
	// Repositories
	CreateOrgRepo(ctx context.Context, name, description string, private bool) (*Repo, error)
	GetRepo(ctx context.Context, name string) (*Repo, error)
	PutFile(ctx context.Context, repo, path, message, content string) error

	// Issues and milestones
	CreateIssue(ctx context.Context, repo, title, body string, labels, assignees []string) (*Issue, error)
	ListRepoIssues(ctx context.Context, repo, state string, labels []string) ([]Issue, error)
	CreateMilestone(ctx context.Context, repo, title, description string, due time.Time) error

	// Commit activity
	CountCommits(ctx context.Context, repo, path string) (int, *time.Time, error)

	// Classic project boards
	CreateRepoProject(ctx context.Context, repo, name, body string) (int64, error)
	ListRepoProjects(ctx context.Context, repo string) ([]Project, error)
	ListProjectColumns(ctx context.Context, projectID int64) ([]Column, error)
	CreateProjectColumn(ctx context.Context, projectID int64, name string) (Column, error)
	ListColumnCards(ctx context.Context, columnID int64) ([]Card, error)
	CreateNoteCard(ctx context.Context, columnID int64, note string) (Card, error)
	UpdateCardNote(ctx context.Context, cardID int64, note string) error
	MoveCard(ctx context.Context, cardID, columnID int64) error

	// Collaborators and membership
	AddCollaborator(ctx context.Context, repo, user, permission string) error
	IsCollaborator(ctx context.Context, repo, user string) (bool, error)
	ListInvitations(ctx context.Context, repo string) ([]Invitation, error)
	UserExists(ctx context.Context, user string) (bool, error)
	InviteToOrg(ctx context.Context, user, role string) error
	OrgMembership(ctx context.Context, user string) (string, error)

	// Branch protection
	ProtectBranch(ctx context.Context, repo, branch string, requireCodeowners bool, approvals int) error

	// Rate limiting
	RateRemaining(ctx context.Context) (int, time.Time, error)
}

// rateFloor is the remaining-request threshold below which calls wait for
// the rate window to reset.
const rateFloor = 100

// maxRateWait caps how long a client will sleep waiting for a reset.
const maxRateWait = time.Hour

// RESTClient implements Client against the GitHub REST API.
type RESTClient struct {
	c   *github.Client
	org string
	log *zap.Logger

	mu        sync.Mutex
	remaining int
	reset     time.Time
	rateKnown bool
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient returns a Client authenticated with token, scoped to org.
func NewRESTClient(token, org string, log *zap.Logger) *RESTClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &RESTClient{
		c:   github.NewClient(nil).WithAuthToken(token),
		org: org,
		log: log,
	}
}

// observe records rate state from a response.
func (g *RESTClient) observe(resp *github.Response) {
	if resp == nil {
		return
	}
	g.mu.Lock()
	g.remaining = resp.Rate.Remaining
	g.reset = resp.Rate.Reset.Time
	g.rateKnown = true
	g.mu.Unlock()
}

// maybeWait blocks until the rate window resets when the remaining budget
// is below the floor. The wait is capped and honors ctx cancellation.
func (g *RESTClient) maybeWait(ctx context.Context) error {
	g.mu.Lock()
	known, remaining, reset := g.rateKnown, g.remaining, g.reset
	g.mu.Unlock()

	if !known || remaining >= rateFloor {
		return nil
	}
	wait := time.Until(reset)
	if wait <= 0 {
		return nil
	}
	if wait > maxRateWait {
		wait = maxRateWait
	}
	g.log.Warn("rate limit low, waiting",
		zap.Int("remaining", remaining),
		zap.Duration("wait", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// wrap converts go-github errors to wrapped sentinels where status codes
// carry meaning for callers.
func wrap(action string, err error) error {
	if err == nil {
		return nil
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case 404:
			return fmt.Errorf("%s: %w", action, ErrNotFound)
		case 422:
			return fmt.Errorf("%s: %w", action, ErrAlreadyExists)
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (g *RESTClient) CreateOrgRepo(ctx context.Context, name, description string, private bool) (*Repo, error) {
	if err := g.maybeWait(ctx); err != nil {
		return nil, err
	}
	repo, resp, err := g.c.Repositories.Create(ctx, g.org, &github.Repository{
		Name:        github.String(name),
		Description: github.String(description),
		Private:     github.Bool(private),
		AutoInit:    github.Bool(true),
	})
	g.observe(resp)
	if err != nil {
		return nil, wrap(fmt.Sprintf("create repository %s/%s", g.org, name), err)
	}
	g.log.Info("created repository", zap.String("repo", repo.GetFullName()))
	return toRepo(repo), nil
}

func (g *RESTClient) GetRepo(ctx context.Context, name string) (*Repo, error) {
	repo, resp, err := g.c.Repositories.Get(ctx, g.org, name)
	g.observe(resp)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get repository %s/%s", g.org, name), err)
	}
	return toRepo(repo), nil
}

func toRepo(r *github.Repository) *Repo {
	return &Repo{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
	}
}

// PutFile creates path in repo, or updates it in place when it already
// exists (fetching the blob SHA first, as the contents API requires).
func (g *RESTClient) PutFile(ctx context.Context, repo, path, message, content string) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
	}

	existing, _, resp, err := g.c.Repositories.GetContents(ctx, g.org, repo, path, nil)
	g.observe(resp)
	switch {
	case err == nil && existing != nil:
		opts.SHA = github.String(existing.GetSHA())
		_, resp, err = g.c.Repositories.UpdateFile(ctx, g.org, repo, path, opts)
		g.observe(resp)
		if err != nil {
			return wrap(fmt.Sprintf("update %s in %s", path, repo), err)
		}
		g.log.Debug("updated file", zap.String("repo", repo), zap.String("path", path))
	default:
		_, resp, err = g.c.Repositories.CreateFile(ctx, g.org, repo, path, opts)
		g.observe(resp)
		if err != nil {
			return wrap(fmt.Sprintf("create %s in %s", path, repo), err)
		}
		g.log.Debug("created file", zap.String("repo", repo), zap.String("path", path))
	}
	return nil
}

func (g *RESTClient) CreateIssue(ctx context.Context, repo, title, body string, labels, assignees []string) (*Issue, error) {
	if err := g.maybeWait(ctx); err != nil {
		return nil, err
	}
	req := &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &labels,
	}
	if len(assignees) > 0 {
		req.Assignees = &assignees
	}
	issue, resp, err := g.c.Issues.Create(ctx, g.org, repo, req)
	g.observe(resp)
	if err != nil {
		return nil, wrap(fmt.Sprintf("create issue %q in %s", title, repo), err)
	}
	g.log.Info("created issue",
		zap.String("repo", repo),
		zap.Int("number", issue.GetNumber()),
		zap.String("title", title))
	return toIssue(issue), nil
}

func (g *RESTClient) ListRepoIssues(ctx context.Context, repo, state string, labels []string) ([]Issue, error) {
	if state == "" {
		state = "all"
	}
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Labels:      labels,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []Issue
	for {
		issues, resp, err := g.c.Issues.ListByRepo(ctx, g.org, repo, opts)
		g.observe(resp)
		if err != nil {
			return nil, wrap(fmt.Sprintf("list issues in %s", repo), err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, *toIssue(is))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func toIssue(is *github.Issue) *Issue {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.GetName())
	}
	out := &Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		State:     is.GetState(),
		Labels:    labels,
		HTMLURL:   is.GetHTMLURL(),
		CreatedAt: is.GetCreatedAt().Time,
		UpdatedAt: is.GetUpdatedAt().Time,
	}
	if is.ClosedAt != nil {
		t := is.GetClosedAt().Time
		out.ClosedAt = &t
	}
	return out
}

// CreateMilestone creates a repo milestone. A milestone that already
// exists is not an error.
func (g *RESTClient) CreateMilestone(ctx context.Context, repo, title, description string, due time.Time) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}
	m := &github.Milestone{
		Title:       github.String(title),
		Description: github.String(description),
	}
	if !due.IsZero() {
		m.DueOn = &github.Timestamp{Time: due}
	}
	_, resp, err := g.c.Issues.CreateMilestone(ctx, g.org, repo, m)
	g.observe(resp)
	if err != nil {
		werr := wrap(fmt.Sprintf("create milestone %q in %s", title, repo), err)
		if errors.Is(werr, ErrAlreadyExists) {
			g.log.Debug("milestone exists", zap.String("repo", repo), zap.String("title", title))
			return nil
		}
		return werr
	}
	return nil
}

// CountCommits returns the number of commits touching path and the time of
// the newest one.
func (g *RESTClient) CountCommits(ctx context.Context, repo, path string) (int, *time.Time, error) {
	opts := &github.CommitsListOptions{
		Path:        path,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	count := 0
	var latest *time.Time
	for {
		commits, resp, err := g.c.Repositories.ListCommits(ctx, g.org, repo, opts)
		g.observe(resp)
		if err != nil {
			// An empty repository or unknown path reports 404/409; treat
			// both as zero activity.
			if errors.Is(wrap("", err), ErrNotFound) {
				return 0, nil, nil
			}
			return 0, nil, wrap(fmt.Sprintf("list commits for %s in %s", path, repo), err)
		}
		if latest == nil && len(commits) > 0 {
			t := commits[0].GetCommit().GetCommitter().GetDate().Time
			latest = &t
		}
		count += len(commits)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return count, latest, nil
}

func (g *RESTClient) CreateRepoProject(ctx context.Context, repo, name, body string) (int64, error) {
	if err := g.maybeWait(ctx); err != nil {
		return 0, err
	}
	p, resp, err := g.c.Repositories.CreateProject(ctx, g.org, repo, &github.ProjectOptions{
		Name: github.String(name),
		Body: github.String(body),
	})
	g.observe(resp)
	if err != nil {
		return 0, wrap(fmt.Sprintf("create project %q in %s", name, repo), err)
	}
	g.log.Info("created project board", zap.String("repo", repo), zap.Int64("project_id", p.GetID()))
	return p.GetID(), nil
}

func (g *RESTClient) ListRepoProjects(ctx context.Context, repo string) ([]Project, error) {
	var out []Project
	opts := &github.ProjectListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		projects, resp, err := g.c.Repositories.ListProjects(ctx, g.org, repo, opts)
		g.observe(resp)
		if err != nil {
			return nil, wrap(fmt.Sprintf("list projects of %s", repo), err)
		}
		for _, p := range projects {
			out = append(out, Project{ID: p.GetID(), Name: p.GetName()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *RESTClient) ListProjectColumns(ctx context.Context, projectID int64) ([]Column, error) {
	var out []Column
	opts := &github.ListOptions{PerPage: 100}
	for {
		cols, resp, err := g.c.Projects.ListProjectColumns(ctx, projectID, opts)
		g.observe(resp)
		if err != nil {
			return nil, wrap(fmt.Sprintf("list columns of project %d", projectID), err)
		}
		for _, c := range cols {
			out = append(out, Column{ID: c.GetID(), Name: c.GetName()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *RESTClient) CreateProjectColumn(ctx context.Context, projectID int64, name string) (Column, error) {
	if err := g.maybeWait(ctx); err != nil {
		return Column{}, err
	}
	col, resp, err := g.c.Projects.CreateProjectColumn(ctx, projectID, &github.ProjectColumnOptions{Name: name})
	g.observe(resp)
	if err != nil {
		return Column{}, wrap(fmt.Sprintf("create column %q", name), err)
	}
	return Column{ID: col.GetID(), Name: col.GetName()}, nil
}

func (g *RESTClient) ListColumnCards(ctx context.Context, columnID int64) ([]Card, error) {
	var out []Card
	opts := &github.ProjectCardListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		cards, resp, err := g.c.Projects.ListProjectCards(ctx, columnID, opts)
		g.observe(resp)
		if err != nil {
			return nil, wrap(fmt.Sprintf("list cards of column %d", columnID), err)
		}
		for _, c := range cards {
			out = append(out, Card{ID: c.GetID(), Note: c.GetNote(), ColumnID: columnID})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *RESTClient) CreateNoteCard(ctx context.Context, columnID int64, note string) (Card, error) {
	if err := g.maybeWait(ctx); err != nil {
		return Card{}, err
	}
	card, resp, err := g.c.Projects.CreateProjectCard(ctx, columnID, &github.ProjectCardOptions{Note: note})
	g.observe(resp)
	if err != nil {
		return Card{}, wrap(fmt.Sprintf("create card in column %d", columnID), err)
	}
	return Card{ID: card.GetID(), Note: card.GetNote(), ColumnID: columnID}, nil
}

func (g *RESTClient) UpdateCardNote(ctx context.Context, cardID int64, note string) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}
	_, resp, err := g.c.Projects.UpdateProjectCard(ctx, cardID, &github.ProjectCardOptions{Note: note})
	g.observe(resp)
	return wrap(fmt.Sprintf("update card %d", cardID), err)
}

func (g *RESTClient) MoveCard(ctx context.Context, cardID, columnID int64) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}
	resp, err := g.c.Projects.MoveProjectCard(ctx, cardID, &github.ProjectCardMoveOptions{
		Position: "top",
		ColumnID: columnID,
	})
	g.observe(resp)
	return wrap(fmt.Sprintf("move card %d to column %d", cardID, columnID), err)
}

func (g *RESTClient) AddCollaborator(ctx context.Context, repo, user, permission string) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}
	_, resp, err := g.c.Repositories.AddCollaborator(ctx, g.org, repo, user, &github.RepositoryAddCollaboratorOptions{
		Permission: permission,
	})
	g.observe(resp)
	if err != nil {
		return wrap(fmt.Sprintf("add collaborator %s to %s", user, repo), err)
	}
	g.log.Info("invited collaborator",
		zap.String("repo", repo),
		zap.String("user", user),
		zap.String("permission", permission))
	return nil
}

func (g *RESTClient) IsCollaborator(ctx context.Context, repo, user string) (bool, error) {
	ok, resp, err := g.c.Repositories.IsCollaborator(ctx, g.org, repo, user)
	g.observe(resp)
	if err != nil {
		return false, wrap(fmt.Sprintf("check collaborator %s on %s", user, repo), err)
	}
	return ok, nil
}

func (g *RESTClient) ListInvitations(ctx context.Context, repo string) ([]Invitation, error) {
	var out []Invitation
	opts := &github.ListOptions{PerPage: 100}
	for {
		invites, resp, err := g.c.Repositories.ListInvitations(ctx, g.org, repo, opts)
		g.observe(resp)
		if err != nil {
			return nil, wrap(fmt.Sprintf("list invitations for %s", repo), err)
		}
		for _, inv := range invites {
			out = append(out, Invitation{ID: inv.GetID(), Invitee: inv.GetInvitee().GetLogin()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *RESTClient) UserExists(ctx context.Context, user string) (bool, error) {
	_, resp, err := g.c.Users.Get(ctx, user)
	g.observe(resp)
	if err != nil {
		werr := wrap(fmt.Sprintf("get user %s", user), err)
		if errors.Is(werr, ErrNotFound) {
			return false, nil
		}
		return false, werr
	}
	return true, nil
}

func (g *RESTClient) InviteToOrg(ctx context.Context, user, role string) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}
	if role == "" {
		role = "member"
	}
	_, resp, err := g.c.Organizations.EditOrgMembership(ctx, user, g.org, &github.Membership{
		Role: github.String(role),
	})
	g.observe(resp)
	if err != nil {
		return wrap(fmt.Sprintf("invite %s to organization %s", user, g.org), err)
	}
	g.log.Info("sent organization invitation", zap.String("user", user))
	return nil
}

// OrgMembership returns the membership state ("active", "pending") or ""
// when the user is not a member.
func (g *RESTClient) OrgMembership(ctx context.Context, user string) (string, error) {
	m, resp, err := g.c.Organizations.GetOrgMembership(ctx, user, g.org)
	g.observe(resp)
	if err != nil {
		werr := wrap(fmt.Sprintf("get organization membership for %s", user), err)
		if errors.Is(werr, ErrNotFound) {
			return "", nil
		}
		return "", werr
	}
	return m.GetState(), nil
}

func (g *RESTClient) ProtectBranch(ctx context.Context, repo, branch string, requireCodeowners bool, approvals int) error {
	if err := g.maybeWait(ctx); err != nil {
		return err
	}
	_, resp, err := g.c.Repositories.UpdateBranchProtection(ctx, g.org, repo, branch, &github.ProtectionRequest{
		RequiredPullRequestReviews: &github.PullRequestReviewsEnforcementRequest{
			RequireCodeOwnerReviews:      requireCodeowners,
			RequiredApprovingReviewCount: approvals,
		},
		EnforceAdmins: false,
	})
	g.observe(resp)
	if err != nil {
		return wrap(fmt.Sprintf("protect branch %s of %s", branch, repo), err)
	}
	g.log.Info("enabled branch protection", zap.String("repo", repo), zap.String("branch", branch))
	return nil
}

func (g *RESTClient) RateRemaining(ctx context.Context) (int, time.Time, error) {
	limits, resp, err := g.c.RateLimit.Get(ctx)
	g.observe(resp)
	if err != nil {
		return 0, time.Time{}, wrap("get rate limit", err)
	}
	core := limits.GetCore()
	return core.Remaining, core.Reset.Time, nil
}
