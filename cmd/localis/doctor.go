package main

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/localis-app/launcher/internal/config"
	"github.com/localis-app/launcher/internal/control"
	"github.com/localis-app/launcher/internal/git"
	"github.com/localis-app/launcher/internal/locator"
	"github.com/localis-app/launcher/internal/logging"
	"github.com/localis-app/launcher/internal/netprobe"
)

// minGitVersion is the oldest git whose shallow clone and --ff-only pull
// behave as the launcher expects.
const minGitVersion = "v2.0.0"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the Localis installation and environment",
	Long: `Run the launcher's discovery steps without starting anything and report
what a launch would find.

This command checks:
- Configuration sources and the repository URL
- The Python runtime (bundled or, outside packaged mode, on PATH)
- Git availability and version
- The application checkout and its branch
- Whether the configured port is free
- Whether a launcher is already running

Exit codes:
  0 - All checks passed
  1 - Warnings that a launch can work around
  2 - Critical failures that prevent Localis from starting`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if code := runDoctor(cmd.Context(), defaultEnvironment(), verbose); code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show detailed output")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(ctx context.Context, env environment, verbose bool) int {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	out := env.stdout

	var warnings, criticalFailures []string
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		warnings = append(warnings, msg)
		fmt.Fprintf(out, "  %s %s\n", yellow("⚠"), msg)
	}
	critical := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		criticalFailures = append(criticalFailures, msg)
		fmt.Fprintf(out, "  %s %s\n", red("✗"), msg)
	}
	ok := func(format string, args ...interface{}) {
		fmt.Fprintf(out, "  %s %s\n", green("✓"), fmt.Sprintf(format, args...))
	}

	fmt.Fprintf(out, "Running Localis health checks...\n\n")

	// Check 1: Configuration
	fmt.Fprintf(out, "%s Configuration\n", cyan("→"))
	opts := env.resolverOptions()
	cfg, err := env.resolveConfig()
	if cfg == nil || cfg.InstallRoot == "" {
		critical("Install root cannot be determined: %v", err)
		return finishDoctor(env, warnings, criticalFailures)
	}
	ok("Install root: %s (%s)", cfg.InstallRoot, cfg.Sources["install_root"])
	if cfg.ConfigFile != "" {
		ok("Config file: %s", cfg.ConfigFile)
	} else {
		fmt.Fprintf(out, "  %s No %s found\n", cyan("ℹ"), config.ConfigFileName)
	}
	for _, w := range cfg.Warnings {
		warn("%s", w)
	}
	if err != nil {
		critical("%v (set %s or app_repo_url)", err, config.EnvRepoURL)
	} else {
		ok("Repository: %s (%s, branch %s)", cfg.RepoURL, cfg.Sources["repo_url"], cfg.Branch)
	}
	if verbose {
		fmt.Fprintf(out, "    Packaged: %v\n", cfg.Packaged)
		fmt.Fprintf(out, "    Host: %s (%s)\n", cfg.Host, cfg.Sources["host"])
		fmt.Fprintf(out, "    Port: %d (%s)\n", cfg.Port, cfg.Sources["port"])
		fmt.Fprintf(out, "    Dev reload: %v (%s)\n", cfg.DevReload, cfg.Sources["dev_reload"])
	}

	loc := locator.New(logging.Discard())

	// Check 2: Python runtime
	fmt.Fprintf(out, "%s Python runtime\n", cyan("→"))
	if interp, bundled, err := loc.FindInterpreter(cfg.InstallRoot, opts.BundleRoot, cfg.Packaged); err != nil {
		critical("No interpreter found (expected %s under the install root)", loc.InterpreterRelPath())
	} else if bundled {
		ok("Bundled interpreter: %s", interp)
	} else {
		ok("System interpreter: %s", interp)
	}

	// Check 3: Git
	fmt.Fprintf(out, "%s Git\n", cyan("→"))
	state, inspectErr := git.Inspect(cfg.AppDir())
	gitPath, gitBundled := loc.FindGit(ctx, cfg.InstallRoot, opts.BundleRoot)
	var g *git.Git
	switch {
	case gitPath == "" && state == git.StateAbsent:
		critical("Git not found and no app directory exists; the first run cannot clone")
	case gitPath == "":
		warn("Git not found; the existing app directory will be used without updates")
	default:
		g = git.New(gitPath, gitBundled)
		checkGitVersion(ctx, g, ok, warn, verbose, out)
	}

	// Check 4: Application checkout
	fmt.Fprintf(out, "%s Application checkout\n", cyan("→"))
	switch {
	case inspectErr != nil:
		critical("Cannot inspect %s: %v", cfg.AppDir(), inspectErr)
	case state == git.StateAbsent:
		fmt.Fprintf(out, "  %s %s does not exist yet; it will be cloned on first run\n", cyan("ℹ"), cfg.AppDir())
	case state == git.StateUntracked:
		warn("%s is not a git checkout; it will be used as-is and never updated", cfg.AppDir())
	default:
		ok("Git checkout: %s", cfg.AppDir())
		if g != nil {
			if branch, err := g.CurrentBranch(ctx, cfg.AppDir()); err != nil {
				warn("Cannot read current branch: %v", err)
			} else if branch != cfg.Branch {
				warn("Checkout is on %q, launch will switch to %q", branch, cfg.Branch)
			} else if head, err := g.Head(ctx, cfg.AppDir()); err == nil {
				ok("On branch %s at %s", branch, shortHead(head))
			}
		}
	}

	// Check 5: Port
	fmt.Fprintf(out, "%s Port\n", cyan("→"))
	if _, err := netprobe.FindAvailablePort(cfg.Port, 1); err != nil {
		warn("Port %d is in use; launch will try the next ports", cfg.Port)
	} else {
		ok("Port %d is free", cfg.Port)
	}

	// Check 6: Running launcher
	fmt.Fprintf(out, "%s Running launcher\n", cyan("→"))
	client := control.NewClient(controlSocketFor(cfg))
	client.SetTimeout(2 * time.Second)
	if resp, err := client.Status(); err == nil && resp.Success && resp.Status != nil {
		fmt.Fprintf(out, "  %s Localis is running (%s, PID %d)\n", cyan("ℹ"), resp.Status.Phase, resp.Status.PID)
	} else {
		ok("No launcher running")
	}

	return finishDoctor(env, warnings, criticalFailures)
}

var gitVersionRE = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseGitVersion turns "git version 2.39.2.windows.1" into "v2.39.2".
func parseGitVersion(s string) string {
	m := gitVersionRE.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

func checkGitVersion(ctx context.Context, g *git.Git, ok, warn func(string, ...interface{}), verbose bool, out io.Writer) {
	kind := "System"
	if g.Bundled() {
		kind = "Bundled"
	}
	raw, err := g.Version(ctx)
	if err != nil {
		warn("%s git at %s does not run: %v", kind, g.Path(), err)
		return
	}
	v := parseGitVersion(raw)
	switch {
	case v == "":
		warn("%s git: cannot parse version %q", kind, raw)
	case semver.Compare(v, minGitVersion) < 0:
		warn("%s git %s is older than %s; shallow clones may fail", kind, v, minGitVersion)
	default:
		ok("%s git %s", kind, v)
	}
	if verbose {
		fmt.Fprintf(out, "    Path: %s\n", g.Path())
	}
}

func finishDoctor(env environment, warnings, criticalFailures []string) int {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintln(env.stdout)
	switch {
	case len(criticalFailures) > 0:
		fmt.Fprintf(env.stdout, "%s %d critical failure(s) prevent Localis from starting\n", red("✗"), len(criticalFailures))
		return 2
	case len(warnings) > 0:
		fmt.Fprintf(env.stdout, "%s %d warning(s)\n", yellow("⚠"), len(warnings))
		return 1
	default:
		fmt.Fprintf(env.stdout, "%s All checks passed\n", green("✓"))
		return 0
	}
}
