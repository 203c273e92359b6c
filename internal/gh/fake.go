package gh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory Client for tests. Zero value is usable; prime the
// maps to simulate existing state and set Err or FailUsers to force
// failures.
type Fake struct {
	mu sync.Mutex

	// Err, when set, is returned by every call.
	Err error
	// FailUsers lists usernames whose collaborator and org invitations fail.
	FailUsers map[string]bool

	Repos      map[string]*Repo
	Files      map[string]map[string]string // repo -> path -> content
	Issues     map[string][]Issue
	Milestones map[string][]string

	CommitCounts map[string]int       // repo "/" path -> count
	CommitTimes  map[string]time.Time // repo "/" path -> newest commit

	Projects map[int64]string // project ID -> name
	Columns  map[int64][]Column
	Cards    map[int64][]Card

	Collaborators map[string]map[string]bool   // repo -> user -> accepted
	Permissions   map[string]map[string]string // repo -> user -> permission
	Invites       map[string][]Invitation
	OrgMembers    map[string]string // user -> state
	Users         map[string]bool
	ProtectedRefs map[string]bool // repo "/" branch

	Remaining int

	nextID     int64
	nextNumber int
}

var _ Client = (*Fake)(nil)

func (f *Fake) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *Fake) CreateOrgRepo(_ context.Context, name, description string, private bool) (*Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Repos == nil {
		f.Repos = map[string]*Repo{}
	}
	if _, ok := f.Repos[name]; ok {
		return nil, fmt.Errorf("create repository %s: %w", name, ErrAlreadyExists)
	}
	r := &Repo{
		Name:          name,
		FullName:      "org/" + name,
		Description:   description,
		Private:       private,
		DefaultBranch: "main",
		HTMLURL:       "https://github.com/org/" + name,
	}
	f.Repos[name] = r
	return r, nil
}

func (f *Fake) GetRepo(_ context.Context, name string) (*Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	r, ok := f.Repos[name]
	if !ok {
		return nil, fmt.Errorf("get repository %s: %w", name, ErrNotFound)
	}
	return r, nil
}

func (f *Fake) PutFile(_ context.Context, repo, path, _, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.Files == nil {
		f.Files = map[string]map[string]string{}
	}
	if f.Files[repo] == nil {
		f.Files[repo] = map[string]string{}
	}
	f.Files[repo][path] = content
	return nil
}

func (f *Fake) CreateIssue(_ context.Context, repo, title, _ string, labels, _ []string) (*Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Issues == nil {
		f.Issues = map[string][]Issue{}
	}
	f.nextNumber++
	is := Issue{
		Number:    f.nextNumber,
		Title:     title,
		State:     "open",
		Labels:    labels,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.Issues[repo] = append(f.Issues[repo], is)
	return &is, nil
}

func (f *Fake) ListRepoIssues(_ context.Context, repo, state string, labels []string) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []Issue
	for _, is := range f.Issues[repo] {
		if state != "" && state != "all" && is.State != state {
			continue
		}
		if !hasAll(is.Labels, labels) {
			continue
		}
		out = append(out, is)
	}
	return out, nil
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *Fake) CreateMilestone(_ context.Context, repo, title, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.Milestones == nil {
		f.Milestones = map[string][]string{}
	}
	for _, t := range f.Milestones[repo] {
		if t == title {
			return nil
		}
	}
	f.Milestones[repo] = append(f.Milestones[repo], title)
	return nil
}

func (f *Fake) CountCommits(_ context.Context, repo, path string) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, nil, f.Err
	}
	key := repo + "/" + path
	count := f.CommitCounts[key]
	if t, ok := f.CommitTimes[key]; ok {
		return count, &t, nil
	}
	return count, nil, nil
}

func (f *Fake) CreateRepoProject(_ context.Context, _, name, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	if f.Projects == nil {
		f.Projects = map[int64]string{}
	}
	id := f.id()
	f.Projects[id] = name
	return id, nil
}

func (f *Fake) ListRepoProjects(_ context.Context, _ string) ([]Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	ids := make([]int64, 0, len(f.Projects))
	for id := range f.Projects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, Project{ID: id, Name: f.Projects[id]})
	}
	return out, nil
}

func (f *Fake) ListProjectColumns(_ context.Context, projectID int64) ([]Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]Column(nil), f.Columns[projectID]...), nil
}

func (f *Fake) CreateProjectColumn(_ context.Context, projectID int64, name string) (Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Column{}, f.Err
	}
	if f.Columns == nil {
		f.Columns = map[int64][]Column{}
	}
	col := Column{ID: f.id(), Name: name}
	f.Columns[projectID] = append(f.Columns[projectID], col)
	return col, nil
}

func (f *Fake) ListColumnCards(_ context.Context, columnID int64) ([]Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]Card(nil), f.Cards[columnID]...), nil
}

func (f *Fake) CreateNoteCard(_ context.Context, columnID int64, note string) (Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Card{}, f.Err
	}
	if f.Cards == nil {
		f.Cards = map[int64][]Card{}
	}
	card := Card{ID: f.id(), Note: note, ColumnID: columnID}
	f.Cards[columnID] = append(f.Cards[columnID], card)
	return card, nil
}

func (f *Fake) UpdateCardNote(_ context.Context, cardID int64, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for col, cards := range f.Cards {
		for i, c := range cards {
			if c.ID == cardID {
				f.Cards[col][i].Note = note
				return nil
			}
		}
	}
	return fmt.Errorf("update card %d: %w", cardID, ErrNotFound)
}

func (f *Fake) MoveCard(_ context.Context, cardID, columnID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for col, cards := range f.Cards {
		for i, c := range cards {
			if c.ID != cardID {
				continue
			}
			if col == columnID {
				return nil
			}
			f.Cards[col] = append(cards[:i:i], cards[i+1:]...)
			c.ColumnID = columnID
			f.Cards[columnID] = append(f.Cards[columnID], c)
			return nil
		}
	}
	return fmt.Errorf("move card %d: %w", cardID, ErrNotFound)
}

func (f *Fake) AddCollaborator(_ context.Context, repo, user, permission string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.FailUsers[user] {
		return fmt.Errorf("add collaborator %s to %s: forced failure", user, repo)
	}
	if f.Permissions == nil {
		f.Permissions = map[string]map[string]string{}
	}
	if f.Permissions[repo] == nil {
		f.Permissions[repo] = map[string]string{}
	}
	f.Permissions[repo][user] = permission
	if !f.Collaborators[repo][user] {
		if f.Invites == nil {
			f.Invites = map[string][]Invitation{}
		}
		f.Invites[repo] = append(f.Invites[repo], Invitation{ID: f.id(), Invitee: user})
	}
	return nil
}

func (f *Fake) IsCollaborator(_ context.Context, repo, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.Collaborators[repo][user], nil
}

func (f *Fake) ListInvitations(_ context.Context, repo string) ([]Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]Invitation(nil), f.Invites[repo]...), nil
}

func (f *Fake) UserExists(_ context.Context, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.Users[user], nil
}

func (f *Fake) InviteToOrg(_ context.Context, user, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.FailUsers[user] {
		return fmt.Errorf("invite %s to organization: forced failure", user)
	}
	if f.OrgMembers == nil {
		f.OrgMembers = map[string]string{}
	}
	if f.OrgMembers[user] == "" {
		f.OrgMembers[user] = "pending"
	}
	return nil
}

func (f *Fake) OrgMembership(_ context.Context, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	return f.OrgMembers[user], nil
}

func (f *Fake) ProtectBranch(_ context.Context, repo, branch string, _ bool, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.ProtectedRefs == nil {
		f.ProtectedRefs = map[string]bool{}
	}
	f.ProtectedRefs[repo+"/"+branch] = true
	return nil
}

func (f *Fake) RateRemaining(_ context.Context) (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, time.Time{}, f.Err
	}
	remaining := f.Remaining
	if remaining == 0 {
		remaining = 5000
	}
	return remaining, time.Now().Add(time.Hour), nil
}

// CloseIssue flips an issue to closed. Test helper, not part of Client.
func (f *Fake) CloseIssue(repo string, number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, is := range f.Issues[repo] {
		if is.Number == number {
			now := time.Now()
			f.Issues[repo][i].State = "closed"
			f.Issues[repo][i].ClosedAt = &now
			return
		}
	}
}
