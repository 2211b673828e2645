// Package pyenv prepares and checks the interpreter environment the
// application runs in.
package pyenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultInstallTimeout bounds a requirements install.
const DefaultInstallTimeout = 300 * time.Second

// RequirementsFile is looked for at the root of the application checkout.
const RequirementsFile = "requirements.txt"

// DefaultSmokeModules are the modules the application cannot start without.
var DefaultSmokeModules = []string{"llama_cpp", "fastapi", "uvicorn"}

// Installer installs the application's requirements with pip.
type Installer struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewInstaller creates an Installer. A zero timeout uses DefaultInstallTimeout.
func NewInstaller(logger *slog.Logger, timeout time.Duration) *Installer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	return &Installer{logger: logger, timeout: timeout}
}

// InstallRequirements runs "pip install -r requirements.txt" in appDir.
// A checkout without a requirements file needs nothing and succeeds.
func (i *Installer) InstallRequirements(ctx context.Context, interpreter, appDir string) error {
	reqs := filepath.Join(appDir, RequirementsFile)
	if _, err := os.Stat(reqs); err != nil {
		if os.IsNotExist(err) {
			i.logger.Warn("requirements file not found, skipping dependency install", "path", reqs)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", reqs, err)
	}

	i.logger.Info("installing dependencies", "requirements", reqs)

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreter, "-m", "pip", "install", "-r", reqs, "--quiet", "--disable-pip-version-check")
	cmd.Dir = appDir
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("dependency installation timed out after %s", i.timeout)
		}
		return fmt.Errorf("dependency installation failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	i.logger.Info("dependencies installed")
	return nil
}

// ModuleResult is the outcome of importing one module.
type ModuleResult struct {
	Module string
	Err    error
	// Output is the interpreter's output when the import failed.
	Output string
}

// OK reports whether the import succeeded.
func (r ModuleResult) OK() bool { return r.Err == nil }

// DefaultImportTimeout bounds a single smoke-test import.
const DefaultImportTimeout = 60 * time.Second

// SmokeTest imports each module in a fresh interpreter process. Each import
// gets timeout (DefaultImportTimeout when zero) to finish.
func SmokeTest(ctx context.Context, interpreter string, modules []string, timeout time.Duration) []ModuleResult {
	if timeout <= 0 {
		timeout = DefaultImportTimeout
	}
	results := make([]ModuleResult, 0, len(modules))
	for _, module := range modules {
		results = append(results, importModule(ctx, interpreter, module, timeout))
	}
	return results
}

func importModule(ctx context.Context, interpreter, module string, timeout time.Duration) ModuleResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreter, "-c", "import "+module)
	cmd.WaitDelay = 2 * time.Second
	out, err := cmd.CombinedOutput()
	res := ModuleResult{Module: module, Err: err}
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Err = fmt.Errorf("import %s timed out after %s", module, timeout)
		res.Output = res.Err.Error()
	default:
		res.Output = lastLine(string(out))
	}
	return res
}

// Failed returns the modules whose import failed.
func Failed(results []ModuleResult) []string {
	var failed []string
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r.Module)
		}
	}
	return failed
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
