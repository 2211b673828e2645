package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes after git is killed
// (for example when a credential helper or remote helper outlives it).
const waitDelay = 2 * time.Second

// Git runs a single git executable.
type Git struct {
	// gitPath is an absolute path to a bundled git, or "git" for PATH lookup.
	gitPath string
	bundled bool
}

// New returns a Git that runs gitPath. bundled marks an executable shipped
// with the install rather than found on PATH.
func New(gitPath string, bundled bool) *Git {
	return &Git{gitPath: gitPath, bundled: bundled}
}

// Path returns the executable this Git runs.
func (g *Git) Path() string { return g.gitPath }

// Bundled reports whether the executable is a bundled one.
func (g *Git) Bundled() bool { return g.bundled }

// BinDir returns the directory of a bundled executable, or "" for a PATH git.
func (g *Git) BinDir() string {
	if !g.bundled {
		return ""
	}
	return filepath.Dir(g.gitPath)
}

// Version returns the output of "git --version".
func (g *Git) Version(ctx context.Context) (string, error) {
	out, err := g.run(ctx, 0, "", "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Clone performs a shallow single-branch clone of branch into dest.
func (g *Git) Clone(ctx context.Context, timeout time.Duration, repoURL, branch, dest string) (string, error) {
	return g.run(ctx, timeout, "", "clone", "--depth=1", "--single-branch", "--branch", branch, repoURL, dest)
}

// Fetch fetches from the default remote, pruning deleted remote branches.
func (g *Git) Fetch(ctx context.Context, timeout time.Duration, repoPath string) (string, error) {
	return g.run(ctx, timeout, repoPath, "fetch", "--prune")
}

// Checkout switches the working tree to branch.
func (g *Git) Checkout(ctx context.Context, timeout time.Duration, repoPath, branch string) (string, error) {
	return g.run(ctx, timeout, repoPath, "checkout", branch)
}

// PullFastForward pulls the current branch, refusing anything but a fast-forward.
func (g *Git) PullFastForward(ctx context.Context, timeout time.Duration, repoPath string) (string, error) {
	return g.run(ctx, timeout, repoPath, "pull", "--ff-only")
}

// Head returns the commit hash at HEAD.
func (g *Git) Head(ctx context.Context, repoPath string) (string, error) {
	out, err := g.run(ctx, 10*time.Second, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the checked-out branch name ("HEAD" when detached).
func (g *Git) CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	out, err := g.run(ctx, 10*time.Second, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes git with args. repoPath, when set, is passed with -C.
// A zero timeout means no limit beyond ctx. The returned string is git's
// combined output; on failure the error wraps the exit status or timeout.
func (g *Git) run(ctx context.Context, timeout time.Duration, repoPath string, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if repoPath != "" {
		args = append([]string{"-C", repoPath}, args...)
	}

	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	// Never block on a credential prompt
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		sub := args[firstSubcommand(args)]
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if timeout > 0 {
				return output, fmt.Errorf("git %s timed out after %s", sub, timeout)
			}
			return output, fmt.Errorf("git %s timed out: %w", sub, ctx.Err())
		}
		return output, fmt.Errorf("git %s failed: %w", sub, err)
	}
	return output, nil
}

// firstSubcommand skips a leading "-C <path>".
func firstSubcommand(args []string) int {
	if len(args) > 2 && args[0] == "-C" {
		return 2
	}
	return 0
}
