// Package locator finds the interpreter and git executables used to run the
// application, preferring copies bundled with the install.
package locator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultProbeTimeout bounds the "git --version" probe of a PATH git.
const DefaultProbeTimeout = 5 * time.Second

// ErrInterpreterNotFound is returned by FindInterpreter in packaged mode when
// no bundled interpreter exists.
var ErrInterpreterNotFound = errors.New("interpreter not found")

// Handles are the resolved executables.
type Handles struct {
	// Interpreter is the interpreter executable path.
	Interpreter string
	// InterpreterBundled is false when the interpreter came from PATH.
	InterpreterBundled bool
	// Git is an absolute path to a bundled git, the literal "git" for a
	// PATH git, or empty when no git was found.
	Git string
	// GitBundled reports whether Git is a bundled executable.
	GitBundled bool
}

// HasGit reports whether a usable git was found.
func (h Handles) HasGit() bool { return h.Git != "" }

// Locator probes candidate paths. The zero value is not usable; use New.
type Locator struct {
	logger       *slog.Logger
	goos         string
	probeTimeout time.Duration
	// lookPath and probe are replaced in tests.
	lookPath func(file string) (string, error)
	probe    func(ctx context.Context, name string, args ...string) error
}

// New returns a Locator for the running platform.
func New(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{
		logger:       logger,
		goos:         runtime.GOOS,
		probeTimeout: DefaultProbeTimeout,
		lookPath:     exec.LookPath,
		probe:        runProbe,
	}
}

// InterpreterRelPath is the interpreter location below a root.
func (l *Locator) InterpreterRelPath() string {
	if l.goos == "windows" {
		return filepath.Join("runtime", "python", "python.exe")
	}
	return filepath.Join("runtime", "python", "bin", "python3")
}

// GitRelPath is the git location below a root.
func (l *Locator) GitRelPath() string {
	if l.goos == "windows" {
		return filepath.Join("runtime", "git", "bin", "git.exe")
	}
	return filepath.Join("runtime", "git", "bin", "git")
}

// FindInterpreter looks for the interpreter under installRoot, then under
// bundleRoot. Outside packaged mode it falls back to an interpreter on PATH.
// A packaged launcher never uses a host interpreter and reports
// ErrInterpreterNotFound instead.
func (l *Locator) FindInterpreter(installRoot, bundleRoot string, packaged bool) (string, bool, error) {
	for _, path := range candidates(l.InterpreterRelPath(), installRoot, bundleRoot) {
		if isExecutableFile(path) {
			l.logger.Info("found bundled interpreter", "path", path)
			return path, true, nil
		}
	}

	if packaged {
		l.logger.Error("bundled interpreter not found in packaged install", "expected", l.InterpreterRelPath())
		return "", false, ErrInterpreterNotFound
	}

	for _, name := range []string{"python3", "python"} {
		if path, err := l.lookPath(name); err == nil {
			l.logger.Warn("bundled interpreter not found, using system interpreter", "path", path)
			return path, false, nil
		}
	}
	return "", false, ErrInterpreterNotFound
}

// FindGit looks for git under installRoot, then bundleRoot, then on PATH.
// PATH git counts only if "git --version" exits zero within the probe
// timeout; any failure is reported as not found. The returned string is
// empty when nothing was found.
func (l *Locator) FindGit(ctx context.Context, installRoot, bundleRoot string) (string, bool) {
	for _, path := range candidates(l.GitRelPath(), installRoot, bundleRoot) {
		if isExecutableFile(path) {
			l.logger.Info("found bundled git", "path", path)
			return path, true
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, l.probeTimeout)
	defer cancel()
	err := l.probe(probeCtx, "git", "--version")
	if err == nil {
		l.logger.Info("using system git from PATH")
		return "git", false
	}
	l.logger.Debug("system git probe failed", "error", err)

	l.logger.Warn("git not found (bundled or system)")
	return "", false
}

// Locate resolves both executables.
func (l *Locator) Locate(ctx context.Context, installRoot, bundleRoot string, packaged bool) (Handles, error) {
	var h Handles
	interp, bundled, err := l.FindInterpreter(installRoot, bundleRoot, packaged)
	h.Interpreter, h.InterpreterBundled = interp, bundled
	h.Git, h.GitBundled = l.FindGit(ctx, installRoot, bundleRoot)
	return h, err
}

func candidates(rel string, roots ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, root := range roots {
		if root == "" {
			continue
		}
		p := filepath.Join(root, rel)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

func runProbe(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	return cmd.Run()
}
