package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records every invocation's argv and returns scripted stdout
// for the two commands callers inspect (status for HasUncommittedChanges,
// diff for ChangedFiles); it has no filesystem side effects.
type fakeRunner struct {
	calls   [][]string
	dirty   bool
	changed []string
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string(nil), args...))
	if f.err != nil {
		return "", f.err
	}
	switch args[0] {
	case "status":
		if f.dirty {
			return " M main.go\n", nil
		}
		return "", nil
	case "diff":
		return strings.Join(f.changed, "\n"), nil
	}
	return "", nil
}

func TestCloneCreatesSubdirs(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}

	ws, err := Clone(context.Background(), runner, root, "task-1", "git@example.com/acme/widgets.git", "main")
	require.NoError(t, err)

	for _, sub := range []string{".images", ".web", ".screenshots"} {
		info, err := os.Stat(filepath.Join(ws.Dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, []string{"clone", "--branch", "main", "--single-branch", "git@example.com/acme/widgets.git", ws.Dir}, runner.calls[0])
}

func TestCreateBranchWritesPlaceholderAndPushes(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir()}
	runner := &fakeRunner{}

	require.NoError(t, ws.CreateBranch(context.Background(), runner, "rex/2026-08-01-add-hello"))

	assert.Equal(t, "rex/2026-08-01-add-hello", ws.BranchName)
	_, err := os.Stat(filepath.Join(ws.Dir, ".walker-task"))
	require.NoError(t, err)

	var gotPush bool
	for _, c := range runner.calls {
		if c[0] == "push" {
			gotPush = true
		}
	}
	assert.True(t, gotPush)
}

func TestBranchNameForDeduplicates(t *testing.T) {
	existing := map[string]bool{"rex/2026-08-01-add-hello": true, "rex/2026-08-01-add-hello-2": true}
	got := BranchNameFor("rex", "2026-08-01", "add-hello", func(c string) bool { return existing[c] })
	assert.Equal(t, "rex/2026-08-01-add-hello-3", got)
}

func TestBranchNameForNoCollision(t *testing.T) {
	got := BranchNameFor("rex", "2026-08-01", "add-hello", func(c string) bool { return false })
	assert.Equal(t, "rex/2026-08-01-add-hello", got)
}

func TestTaskSlug(t *testing.T) {
	assert.Equal(t, "add-a-hello-endpoint", TaskSlug("Add a /hello endpoint!"))
	assert.Equal(t, "task", TaskSlug("!!!"))
}

func TestTaskSlugCapsLength(t *testing.T) {
	long := strings.Repeat("word ", 20)
	slug := TaskSlug(long)
	assert.LessOrEqual(t, len(slug), 40)
}

func TestHasUncommittedChanges(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir()}

	clean := &fakeRunner{dirty: false}
	dirty, err := ws.HasUncommittedChanges(context.Background(), clean)
	require.NoError(t, err)
	assert.False(t, dirty)

	soiled := &fakeRunner{dirty: true}
	dirty, err = ws.HasUncommittedChanges(context.Background(), soiled)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestCommitAllNoOpWhenClean(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir()}
	runner := &fakeRunner{dirty: false}

	committed, err := ws.CommitAll(context.Background(), runner, "msg")
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Len(t, runner.calls, 1) // only the status probe, no add/commit
}

func TestCommitAllCommitsWhenDirty(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir()}
	runner := &fakeRunner{dirty: true}

	committed, err := ws.CommitAll(context.Background(), runner, "msg")
	require.NoError(t, err)
	assert.True(t, committed)
}

func TestChangedFilesParsesLines(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir(), baseBranch: "main"}
	runner := &fakeRunner{changed: []string{"main.go", "main_test.go"}}

	files, err := ws.ChangedFiles(context.Background(), runner)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "main_test.go"}, files)
}

func TestChangedFilesFiltersPlaceholder(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir(), baseBranch: "main"}
	runner := &fakeRunner{changed: []string{".walker-task", "main.go"}}

	files, err := ws.ChangedFiles(context.Background(), runner)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, files)
}

func TestRemovePlaceholderNoOpWhenAbsent(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir()}
	runner := &fakeRunner{}

	require.NoError(t, ws.RemovePlaceholder(context.Background(), runner))
	assert.Empty(t, runner.calls)
}

func TestCleanupIsIdempotent(t *testing.T) {
	ws := &Workspace{Dir: t.TempDir()}
	require.NoError(t, ws.Cleanup())
	require.NoError(t, ws.Cleanup())
}
