package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/localis-app/launcher/internal/config"
	"github.com/localis-app/launcher/internal/launcher"
	"github.com/localis-app/launcher/internal/logging"
)

type launchFlags struct {
	noBrowser    bool
	skipDeps     bool
	logLevel     string
	readyTimeout time.Duration
	grace        time.Duration
	portAttempts int
	noControl    bool
}

func init() {
	f := rootCmd.Flags()
	f.Bool("no-browser", false, "Do not open the browser once the server is ready (or set LOCALIS_NO_BROWSER)")
	f.Bool("skip-deps", false, "Skip installing requirements.txt (or set LOCALIS_SKIP_DEPS)")
	f.String("log-level", "", "Log level: debug, info, warn or error (default info, or LOCALIS_LOG_LEVEL)")
	f.Duration("ready-timeout", launcher.DefaultReadyTimeout, "How long to wait for the server to accept connections")
	f.Duration("grace", 10*time.Second, "How long the server may take to stop before it is killed")
	f.Int("port-attempts", launcher.DefaultPortAttempts, "Number of consecutive ports to try")
	f.Bool("no-control", false, "Do not serve the status socket")
}

func launchFlagsFrom(cmd *cobra.Command) (launchFlags, error) {
	var lf launchFlags
	var err error
	f := cmd.Flags()
	if lf.noBrowser, err = f.GetBool("no-browser"); err != nil {
		return lf, err
	}
	if lf.skipDeps, err = f.GetBool("skip-deps"); err != nil {
		return lf, err
	}
	if lf.logLevel, err = f.GetString("log-level"); err != nil {
		return lf, err
	}
	if lf.readyTimeout, err = f.GetDuration("ready-timeout"); err != nil {
		return lf, err
	}
	if lf.grace, err = f.GetDuration("grace"); err != nil {
		return lf, err
	}
	if lf.portAttempts, err = f.GetInt("port-attempts"); err != nil {
		return lf, err
	}
	lf.noControl, err = f.GetBool("no-control")
	return lf, err
}

// runLaunch performs one launch and returns the process exit status: 0 for
// a graceful stop, 1 for a fatal error.
func runLaunch(ctx context.Context, env environment, flags launchFlags) int {
	cfg, cfgErr := env.resolveConfig()
	isPackaged := env.resolverOptions().Packaged
	runID := uuid.NewString()[:8]

	levelName := flags.logLevel
	if levelName == "" {
		levelName, _ = env.lookup(config.EnvLogLevel)
	}
	level, levelErr := logging.ParseLevel(levelName)

	logOpts := logging.Options{Console: env.stdout, Level: level, RunID: runID}
	if cfg != nil && cfg.InstallRoot != "" {
		logOpts.LogsDir = cfg.LogsDir()
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		// Keep going with console output only
		logOpts.LogsDir = ""
		logger, _ = logging.New(logOpts)
		logger.Warn("launcher log file unavailable", "error", err)
	}
	defer logger.Close()

	logger.Info("starting Localis launcher", "packaged", isPackaged)
	if levelErr != nil {
		logger.Warn("ignoring log level", "error", levelErr)
	}
	if cfg != nil {
		for _, w := range cfg.Warnings {
			logger.Warn(w)
		}
	}
	if cfgErr != nil {
		return fail(env, logger, launcher.NewError(launcher.KindConfiguration, "resolve configuration", cfgErr), isPackaged)
	}

	opts := launcher.Options{
		NoBrowser:      flags.noBrowser || config.Flag(env.lookup, config.EnvNoBrowser),
		SkipDeps:       flags.skipDeps || config.Flag(env.lookup, config.EnvSkipDeps),
		ReadyTimeout:   flags.readyTimeout,
		GracePeriod:    flags.grace,
		BrowserDelay:   time.Second,
		PortAttempts:   flags.portAttempts,
		Console:        env.stdout,
		DisableControl: flags.noControl,
	}
	err = launcher.New(cfg, opts, logger.Logger, runID).Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, launcher.ErrInterrupted):
		logger.Info("interrupted before the server was ready")
		return 0
	default:
		return fail(env, logger, err, isPackaged)
	}
}

// fail logs and renders a fatal error. A packaged launcher started from a
// double click would close its window at once, so it waits for Enter.
func fail(env environment, logger *logging.Logger, err error, isPackaged bool) int {
	logger.Error("launch failed", "kind", launcher.KindOf(err).String(), "error", err)
	launcher.RenderDiagnostic(env.stderr, err)
	if isPackaged && env.interactive {
		waitForEnter(env)
	}
	return 1
}

func waitForEnter(env environment) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "Press Enter to exit...",
		Stdout: env.stdout,
		Stderr: env.stderr,
	})
	if err != nil {
		fmt.Fprintln(env.stderr, "Press Enter to exit...")
		return
	}
	defer rl.Close()
	_, _ = rl.Readline()
}
