package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Synchronizer keeps an application checkout in step with its remote.
//
// A missing target is cloned (shallow, single branch). An existing checkout
// is fetched, switched to the branch and fast-forwarded. A directory that
// exists without git metadata is left alone. Nothing is retried.
type Synchronizer struct {
	git      *Git
	timeouts Timeouts
	logger   *slog.Logger
}

// NewSynchronizer creates a Synchronizer that runs g.
func NewSynchronizer(g *Git, timeouts Timeouts, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{git: g, timeouts: timeouts, logger: logger}
}

// Inspect reports the on-disk state of dir. A .git entry of any kind (a
// directory, or a file as in worktrees) marks a tracked checkout.
func Inspect(dir string) (RepoState, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, err
	}
	if !info.IsDir() {
		return StateUntracked, nil
	}
	if _, err := os.Lstat(filepath.Join(dir, ".git")); err != nil {
		if os.IsNotExist(err) {
			return StateUntracked, nil
		}
		return StateAbsent, err
	}
	return StateTracked, nil
}

// Sync clones repoURL into targetDir or updates the existing checkout there.
// Failures are returned as *SyncError; callers decide with errors.Is whether
// ErrUpdateFailed or ErrNotACheckout is tolerable.
func (s *Synchronizer) Sync(ctx context.Context, targetDir, repoURL, branch string) (*SyncResult, error) {
	state, err := Inspect(targetDir)
	if err != nil {
		return nil, &SyncError{Kind: ErrUpdateFailed, Step: "inspect", Dir: targetDir, Err: err}
	}

	switch state {
	case StateAbsent:
		return s.clone(ctx, targetDir, repoURL, branch)
	case StateUntracked:
		s.logger.Warn("target exists but is not a git repository", "dir", targetDir)
		return nil, &SyncError{Kind: ErrNotACheckout, Step: "inspect", Dir: targetDir}
	default:
		return s.update(ctx, targetDir, branch)
	}
}

// clone stages the clone next to targetDir and renames it into place, so a
// failed or interrupted clone never leaves a partial targetDir behind.
func (s *Synchronizer) clone(ctx context.Context, targetDir, repoURL, branch string) (*SyncResult, error) {
	s.logger.Info("cloning repository", "repo", repoURL, "branch", branch, "dir", targetDir)

	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, &SyncError{Kind: ErrCloneFailed, Step: "clone", Dir: targetDir, Err: fmt.Errorf("failed to create parent directory: %w", err)}
	}
	staging := filepath.Join(parent, fmt.Sprintf(".%s-clone-%s", filepath.Base(targetDir), uuid.NewString()[:8]))

	output, err := s.git.Clone(ctx, s.timeouts.Clone, repoURL, branch, staging)
	if err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			s.logger.Warn("failed to remove partial clone", "dir", staging, "error", rmErr)
		}
		return nil, &SyncError{Kind: ErrCloneFailed, Step: "clone", Dir: targetDir, Output: output, Err: err}
	}

	if err := os.Rename(staging, targetDir); err != nil {
		_ = os.RemoveAll(staging)
		return nil, &SyncError{Kind: ErrCloneFailed, Step: "clone", Dir: targetDir, Err: fmt.Errorf("failed to move clone into place: %w", err)}
	}

	result := &SyncResult{Action: ActionCloned, Branch: branch}
	if head, err := s.git.Head(ctx, targetDir); err == nil {
		result.After = head
	}
	s.logger.Info("repository cloned", "dir", targetDir, "head", shortHash(result.After))
	return result, nil
}

// update runs fetch, checkout and a fast-forward-only pull in order,
// stopping at the first failure.
func (s *Synchronizer) update(ctx context.Context, repoPath, branch string) (*SyncResult, error) {
	s.logger.Info("updating existing repository", "dir", repoPath, "branch", branch)

	result := &SyncResult{Action: ActionUpdated, Branch: branch}
	if head, err := s.git.Head(ctx, repoPath); err == nil {
		result.Before = head
	}

	steps := []struct {
		name string
		run  func() (string, error)
	}{
		{"fetch", func() (string, error) { return s.git.Fetch(ctx, s.timeouts.Fetch, repoPath) }},
		{"checkout", func() (string, error) { return s.git.Checkout(ctx, s.timeouts.Checkout, repoPath, branch) }},
		{"pull", func() (string, error) { return s.git.PullFastForward(ctx, s.timeouts.Pull, repoPath) }},
	}
	for _, step := range steps {
		output, err := step.run()
		if err != nil {
			s.logger.Error("git "+step.name+" failed", "dir", repoPath, "error", err, "output", output)
			return nil, &SyncError{Kind: ErrUpdateFailed, Step: step.name, Dir: repoPath, Output: output, Err: err}
		}
		s.logger.Debug("git "+step.name+" done", "output", output)
	}

	if head, err := s.git.Head(ctx, repoPath); err == nil {
		result.After = head
	}
	if result.Changed() {
		s.logger.Info("repository updated", "from", shortHash(result.Before), "to", shortHash(result.After))
	} else {
		s.logger.Info("repository already up to date", "head", shortHash(result.After))
	}
	return result, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
