package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireGit skips the test when git is not installed.
func requireGit(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git not found in PATH")
	}
	return path
}

// runGit runs git in dir with a fixed identity and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "user.name=Test User", "-c", "user.email=test@example.com"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// newUpstream creates a repository with one commit on main.
func newUpstream(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upstream")
	require.NoError(t, os.MkdirAll(dir, 0755))
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	commitFile(t, dir, "README.md", "hello\n", "initial commit")
	return dir
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-q", "-m", message)
}

func newTestSynchronizer(t *testing.T) *Synchronizer {
	gitPath := requireGit(t)
	return NewSynchronizer(New(gitPath, false), DefaultTimeouts(), nil)
}

func TestInspect(t *testing.T) {
	root := t.TempDir()

	state, err := Inspect(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)

	plain := filepath.Join(root, "plain")
	require.NoError(t, os.MkdirAll(plain, 0755))
	state, err = Inspect(plain)
	require.NoError(t, err)
	assert.Equal(t, StateUntracked, state)

	tracked := filepath.Join(root, "tracked")
	require.NoError(t, os.MkdirAll(filepath.Join(tracked, ".git"), 0755))
	state, err = Inspect(tracked)
	require.NoError(t, err)
	assert.Equal(t, StateTracked, state)

	// Worktrees have a .git file instead of a directory
	worktree := filepath.Join(root, "worktree")
	require.NoError(t, os.MkdirAll(worktree, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: elsewhere\n"), 0644))
	state, err = Inspect(worktree)
	require.NoError(t, err)
	assert.Equal(t, StateTracked, state)
}

func TestRepoStateString(t *testing.T) {
	assert.Equal(t, "absent", StateAbsent.String())
	assert.Equal(t, "untracked", StateUntracked.String())
	assert.Equal(t, "tracked", StateTracked.String())
}

func TestSyncClonesAbsentTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")

	result, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)
	assert.Equal(t, ActionCloned, result.Action)
	assert.True(t, result.Changed())
	assert.Len(t, result.After, 40)

	state, err := Inspect(target)
	require.NoError(t, err)
	assert.Equal(t, StateTracked, state)

	branch, err := s.git.CurrentBranch(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	content, err := os.ReadFile(filepath.Join(target, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	// No staging directories are left next to the checkout
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app", entries[0].Name())
}

func TestSyncCloneFailureLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	s := newTestSynchronizer(t)
	parent := t.TempDir()
	target := filepath.Join(parent, "app")

	_, err := s.Sync(ctx, target, filepath.Join(parent, "does-not-exist"), "main")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCloneFailed), "expected ErrCloneFailed, got %v", err)

	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "clone", syncErr.Step)
	assert.NotEmpty(t, syncErr.Output, "clone failure should carry git's diagnostic output")

	state, err := Inspect(target)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSyncCloneUnknownBranch(t *testing.T) {
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")

	_, err := s.Sync(context.Background(), target, upstream, "no-such-branch")
	assert.ErrorIs(t, err, ErrCloneFailed)
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")

	_, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)

	first, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, first.Action)
	assert.False(t, first.Changed())

	second, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)
	assert.False(t, second.Changed())
	assert.Equal(t, first.After, second.After)
}

func TestSyncFastForwardsTrackedCheckout(t *testing.T) {
	ctx := context.Background()
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")

	_, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)

	commitFile(t, upstream, "CHANGELOG.md", "v2\n", "second commit")
	upstreamHead := runGit(t, upstream, "rev-parse", "HEAD")

	result, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)
	assert.True(t, result.Changed())
	assert.Equal(t, upstreamHead, result.After)

	content, err := os.ReadFile(filepath.Join(target, "CHANGELOG.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(content))
}

func TestSyncRefusesUntrackedDirectory(t *testing.T) {
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.MkdirAll(target, 0755))
	localFile := filepath.Join(target, "main.py")
	require.NoError(t, os.WriteFile(localFile, []byte("print('local')\n"), 0644))

	_, err := s.Sync(context.Background(), target, upstream, "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotACheckout)

	entries, err := os.ReadDir(target)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	content, err := os.ReadFile(localFile)
	require.NoError(t, err)
	assert.Equal(t, "print('local')\n", string(content))
}

func TestSyncDivergedCheckoutFailsWithoutMerging(t *testing.T) {
	ctx := context.Background()
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")

	_, err := s.Sync(ctx, target, upstream, "main")
	require.NoError(t, err)

	commitFile(t, target, "local.txt", "local\n", "local commit")
	localHead := runGit(t, target, "rev-parse", "HEAD")
	commitFile(t, upstream, "remote.txt", "remote\n", "remote commit")

	_, err = s.Sync(ctx, target, upstream, "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)

	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "pull", syncErr.Step)

	// The local history is untouched
	assert.Equal(t, localHead, runGit(t, target, "rev-parse", "HEAD"))
	_, statErr := os.Stat(filepath.Join(target, "remote.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncCheckoutFailureStopsUpdate(t *testing.T) {
	s := newTestSynchronizer(t)
	upstream := newUpstream(t)
	target := filepath.Join(t.TempDir(), "app")

	_, err := s.Sync(context.Background(), target, upstream, "main")
	require.NoError(t, err)

	_, err = s.Sync(context.Background(), target, upstream, "missing-branch")
	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr), "expected *SyncError, got %v", err)
	assert.Equal(t, ErrUpdateFailed, syncErr.Kind)
	assert.Equal(t, "checkout", syncErr.Step)
}

func TestGitRunTimeout(t *testing.T) {
	gitPath := requireGit(t)
	g := New(gitPath, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Version(ctx)
	assert.Error(t, err)

	_, err = g.Fetch(context.Background(), time.Nanosecond, t.TempDir())
	assert.Error(t, err)
}

func TestGitBinDir(t *testing.T) {
	bundled := New(filepath.Join("opt", "runtime", "git", "bin", "git"), true)
	assert.Equal(t, filepath.Join("opt", "runtime", "git", "bin"), bundled.BinDir())
	assert.True(t, bundled.Bundled())

	system := New("git", false)
	assert.Empty(t, system.BinDir())
}

func TestSyncErrorMessage(t *testing.T) {
	err := &SyncError{Kind: ErrUpdateFailed, Step: "pull", Dir: "/x/app", Output: "fatal: Not possible to fast-forward", Err: errors.New("exit status 128")}
	assert.Contains(t, err.Error(), "update failed: pull in /x/app")
	assert.Contains(t, err.Error(), "Not possible to fast-forward")
	assert.True(t, errors.Is(err, ErrUpdateFailed))
	assert.False(t, errors.Is(err, ErrCloneFailed))
}
