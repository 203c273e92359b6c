package gh

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Error wrapping ---

func ghErr(status int) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status, Request: &http.Request{}},
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap("create repo", nil))

	err := wrap("get repo", ghErr(404))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get repo")

	err = wrap("create milestone", ghErr(422))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	plain := errors.New("boom")
	err = wrap("list issues", plain)
	assert.ErrorIs(t, err, plain)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// --- Rate limit waiting ---

func TestMaybeWait_SkipsWhenBudgetHealthy(t *testing.T) {
	g := &RESTClient{log: zap.NewNop()}
	g.remaining = 4000
	g.reset = time.Now().Add(time.Hour)
	g.rateKnown = true

	start := time.Now()
	require.NoError(t, g.maybeWait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestMaybeWait_SkipsWhenUnknown(t *testing.T) {
	g := &RESTClient{log: zap.NewNop()}
	require.NoError(t, g.maybeWait(context.Background()))
}

func TestMaybeWait_SkipsWhenResetPassed(t *testing.T) {
	g := &RESTClient{log: zap.NewNop()}
	g.remaining = 1
	g.reset = time.Now().Add(-time.Minute)
	g.rateKnown = true
	require.NoError(t, g.maybeWait(context.Background()))
}

func TestMaybeWait_HonorsContext(t *testing.T) {
	g := &RESTClient{log: zap.NewNop()}
	g.remaining = 1
	g.reset = time.Now().Add(time.Hour)
	g.rateKnown = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.maybeWait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Fake ---

func TestFake_RepoLifecycle(t *testing.T) {
	f := &Fake{}
	ctx := context.Background()

	_, err := f.GetRepo(ctx, "course")
	assert.ErrorIs(t, err, ErrNotFound)

	repo, err := f.CreateOrgRepo(ctx, "course", "course repo", true)
	require.NoError(t, err)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.True(t, repo.Private)

	_, err = f.CreateOrgRepo(ctx, "course", "", true)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := f.GetRepo(ctx, "course")
	require.NoError(t, err)
	assert.Equal(t, "org/course", got.FullName)
}

func TestFake_IssueFilters(t *testing.T) {
	f := &Fake{}
	ctx := context.Background()

	a, err := f.CreateIssue(ctx, "course", "Research Proposal - 210001X", "", []string{"milestone", "student-210001X"}, nil)
	require.NoError(t, err)
	_, err = f.CreateIssue(ctx, "course", "Research Proposal - 210002A", "", []string{"milestone", "student-210002A"}, nil)
	require.NoError(t, err)

	f.CloseIssue("course", a.Number)

	all, err := f.ListRepoIssues(ctx, "course", "all", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	closed, err := f.ListRepoIssues(ctx, "course", "closed", nil)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Closed())
	assert.NotNil(t, closed[0].ClosedAt)

	mine, err := f.ListRepoIssues(ctx, "course", "all", []string{"student-210002A"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Research Proposal - 210002A", mine[0].Title)
}

func TestFake_BoardCards(t *testing.T) {
	f := &Fake{}
	ctx := context.Background()

	pid, err := f.CreateRepoProject(ctx, "course", "Dashboard", "")
	require.NoError(t, err)

	todo, err := f.CreateProjectColumn(ctx, pid, "Not Started")
	require.NoError(t, err)
	done, err := f.CreateProjectColumn(ctx, pid, "Completed")
	require.NoError(t, err)

	cols, err := f.ListProjectColumns(ctx, pid)
	require.NoError(t, err)
	assert.Len(t, cols, 2)

	card, err := f.CreateNoteCard(ctx, todo.ID, "**210001X** - machine learning")
	require.NoError(t, err)

	require.NoError(t, f.MoveCard(ctx, card.ID, done.ID))

	inTodo, err := f.ListColumnCards(ctx, todo.ID)
	require.NoError(t, err)
	assert.Empty(t, inTodo)

	inDone, err := f.ListColumnCards(ctx, done.ID)
	require.NoError(t, err)
	require.Len(t, inDone, 1)
	assert.Equal(t, card.ID, inDone[0].ID)

	require.NoError(t, f.UpdateCardNote(ctx, card.ID, "updated"))
	inDone, _ = f.ListColumnCards(ctx, done.ID)
	assert.Equal(t, "updated", inDone[0].Note)
}

func TestFake_Invitations(t *testing.T) {
	f := &Fake{
		Users:     map[string]bool{"alice": true},
		FailUsers: map[string]bool{"bob": true},
	}
	ctx := context.Background()

	ok, err := f.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.UserExists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.AddCollaborator(ctx, "course", "alice", "push"))
	assert.Error(t, f.AddCollaborator(ctx, "course", "bob", "push"))

	invites, err := f.ListInvitations(ctx, "course")
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, "alice", invites[0].Invitee)

	member, err := f.IsCollaborator(ctx, "course", "alice")
	require.NoError(t, err)
	assert.False(t, member)

	require.NoError(t, f.InviteToOrg(ctx, "alice", "member"))
	state, err := f.OrgMembership(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "pending", state)
}
