// Package launcher runs the bootstrap sequence: locate runtimes, sync the
// application checkout, start the server, wait for it and supervise it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localis-app/launcher/internal/browser"
	"github.com/localis-app/launcher/internal/config"
	"github.com/localis-app/launcher/internal/control"
	"github.com/localis-app/launcher/internal/git"
	"github.com/localis-app/launcher/internal/locator"
	"github.com/localis-app/launcher/internal/netprobe"
	"github.com/localis-app/launcher/internal/pyenv"
	"github.com/localis-app/launcher/internal/supervisor"
)

// ErrInterrupted is returned when the user stops the launcher before the
// server finished starting. It is not a failure.
var ErrInterrupted = errors.New("interrupted")

// Phases reported through the status socket.
const (
	PhasePreparing = "preparing"
	PhaseSyncing   = "syncing"
	PhaseStarting  = "starting"
	PhaseRunning   = "running"
	PhaseStopping  = "stopping"
)

// Options tunes a run. Zero values take the defaults.
type Options struct {
	NoBrowser    bool
	SkipDeps     bool
	ReadyTimeout time.Duration
	GracePeriod  time.Duration
	BrowserDelay time.Duration
	PortAttempts int
	// Console receives streamed server output in interactive mode.
	Console io.Writer
	// DisableControl turns off the status socket.
	DisableControl bool
}

// DefaultReadyTimeout bounds the wait for the server to accept connections.
const DefaultReadyTimeout = 30 * time.Second

// DefaultPortAttempts is how many consecutive ports are tried.
const DefaultPortAttempts = 10

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = supervisor.DefaultGracePeriod
	}
	if o.BrowserDelay < 0 {
		o.BrowserDelay = 0
	}
	if o.PortAttempts <= 0 {
		o.PortAttempts = DefaultPortAttempts
	}
	if o.Console == nil {
		o.Console = os.Stdout
	}
	return o
}

// Launcher runs one application instance.
type Launcher struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	runID  string

	locator    *locator.Locator
	timeouts   git.Timeouts
	prober     *netprobe.Prober
	supervisor *supervisor.Supervisor
	installer  *pyenv.Installer
	opener     *browser.Opener

	mu     sync.Mutex
	status control.Status
	stop   context.CancelFunc

	// onReady is called once the server accepts connections.
	onReady func(url string)
}

// New creates a Launcher for cfg. logger must be the run's logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger, runID string) *Launcher {
	opts = opts.withDefaults()
	return &Launcher{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		runID:      runID,
		locator:    locator.New(logger),
		timeouts:   git.DefaultTimeouts(),
		prober:     netprobe.NewProber(),
		supervisor: supervisor.New(logger, opts.GracePeriod),
		installer:  pyenv.NewInstaller(logger, 0),
		opener:     browser.New(logger),
		status: control.Status{
			RunID:     runID,
			Phase:     PhasePreparing,
			Host:      cfg.Host,
			AppDir:    cfg.AppDir(),
			Branch:    cfg.Branch,
			StartedAt: time.Now(),
		},
	}
}

// Status returns a snapshot of the run.
func (l *Launcher) Status() control.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Launcher) update(fn func(s *control.Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.status)
}

// RequestStop stops the run as an interrupt would.
func (l *Launcher) RequestStop(reason string) {
	l.mu.Lock()
	stop := l.stop
	l.mu.Unlock()
	if stop != nil {
		l.logger.Info("stop requested", "reason", reason)
		stop()
	}
}

// Run executes the launch sequence and blocks until the server exits or ctx
// is cancelled. It returns nil on a graceful shutdown, ErrInterrupted if
// stopped before the server was ready, and an *Error on failure.
func (l *Launcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.stop = cancel
	l.mu.Unlock()

	cfg := l.cfg
	l.logger.Info("configuration",
		"repo", cfg.RepoURL, "branch", cfg.Branch, "host", cfg.Host, "port", cfg.Port,
		"dev_reload", cfg.DevReload, "config_file", cfg.ConfigFile)

	if err := l.prepareDirs(); err != nil {
		return NewError(KindLaunchFailed, "create install directories", err)
	}

	if !l.opts.DisableControl {
		if srv := l.startControl(ctx); srv != nil {
			defer srv.Stop()
		}
	}

	handles, err := l.locator.Locate(ctx, cfg.InstallRoot, cfg.BundleRoot, cfg.Packaged)
	if err != nil {
		return NewError(KindRuntimeNotFound, "locate interpreter", err)
	}
	l.logger.Info("using interpreter", "path", handles.Interpreter, "bundled", handles.InterpreterBundled)

	l.update(func(s *control.Status) { s.Phase = PhaseSyncing })
	if err := l.syncApp(ctx, handles); err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return err
	}

	if l.opts.SkipDeps {
		l.logger.Info("skipping dependency installation")
	} else if err := l.installer.InstallRequirements(ctx, handles.Interpreter, cfg.AppDir()); err != nil {
		l.logger.Warn("dependency installation failed, attempting to continue", "error", err)
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}

	port, err := netprobe.FindAvailablePort(cfg.Port, l.opts.PortAttempts)
	if err != nil {
		return NewError(KindPortExhausted, "find available port", err)
	}
	if port != cfg.Port {
		l.logger.Warn("configured port in use, using next free port", "configured", cfg.Port, "port", port)
	}
	l.logger.Info("using port", "port", port)

	return l.serve(ctx, handles, port)
}

// prepareDirs creates the writable parts of the install root. app/ is
// created by clone and runtime/ only by packaging.
func (l *Launcher) prepareDirs() error {
	for _, dir := range []string{l.cfg.ModelsDir(), l.cfg.DataDir(), l.cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (l *Launcher) startControl(ctx context.Context) *control.Server {
	socket := filepath.Join(l.cfg.LogsDir(), control.SocketName)
	srv, err := control.NewServer(socket, l.handleCommand, l.logger)
	if err == nil {
		err = srv.Start(ctx)
	}
	if err != nil {
		l.logger.Warn("status socket unavailable", "socket", socket, "error", err)
		return nil
	}
	return srv
}

func (l *Launcher) handleCommand(cmd control.Command) (*control.Status, error) {
	switch cmd.Type {
	case control.CommandStatus:
		status := l.Status()
		return &status, nil
	case control.CommandStop:
		status := l.Status()
		l.RequestStop(cmd.Reason)
		return &status, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Type)
	}
}

// syncApp decides what to do with the checkout. Only a failed first clone,
// or having neither git nor a checkout, stops the run.
func (l *Launcher) syncApp(ctx context.Context, handles locator.Handles) error {
	appDir := l.cfg.AppDir()

	if !handles.HasGit() {
		state, err := git.Inspect(appDir)
		if err != nil || state == git.StateAbsent {
			return NewError(KindVCSNotFound, "locate git",
				errors.New("git not found and the app directory does not exist; cannot clone the repository on first run"))
		}
		l.logger.Warn("git not found, skipping repository updates", "app_dir", appDir)
		l.setSync(control.SyncSkipped, "git not found", "")
		return nil
	}

	g := git.New(handles.Git, handles.GitBundled)
	result, err := git.NewSynchronizer(g, l.timeouts, l.logger).Sync(ctx, appDir, l.cfg.RepoURL, l.cfg.Branch)
	switch {
	case err == nil:
		outcome := control.SyncUpdated
		if result.Action == git.ActionCloned {
			outcome = control.SyncCloned
		}
		l.setSync(outcome, "", result.After)
		return nil
	case errors.Is(err, git.ErrCloneFailed):
		return NewError(KindCloneFailed, "clone repository", err)
	case errors.Is(err, git.ErrNotACheckout):
		l.logger.Warn("app directory is not a git checkout, continuing with existing app directory", "app_dir", appDir)
		l.setSync(control.SyncDegraded, "app directory is not a git checkout", "")
		return nil
	default:
		warn := NewError(KindUpdateFailed, "update repository", err)
		l.logger.Warn("failed to update repository, continuing with existing app directory",
			"error", err, "kind", warn.Kind.String(), "hint", warn.Hints[len(warn.Hints)-1])
		l.setSync(control.SyncDegraded, err.Error(), "")
		return nil
	}
}

func (l *Launcher) setSync(outcome, reason, head string) {
	l.update(func(s *control.Status) {
		s.Sync = control.SyncStatus{Outcome: outcome, Reason: reason, Head: head}
	})
}

// serve launches the server, waits until it accepts connections and then
// supervises it.
func (l *Launcher) serve(ctx context.Context, handles locator.Handles, port int) error {
	cfg := l.cfg
	spec := supervisor.LaunchSpec{
		Interpreter: handles.Interpreter,
		InstallRoot: cfg.InstallRoot,
		AppDir:      cfg.AppDir(),
		ModelsDir:   cfg.ModelsDir(),
		DataDir:     cfg.DataDir(),
		Host:        cfg.Host,
		Port:        port,
		DevReload:   cfg.DevReload,
		Git:         handles.Git,
		GitBundled:  handles.GitBundled,
		Console:     l.opts.Console,
	}
	if cfg.Packaged {
		spec.LogFile = filepath.Join(cfg.LogsDir(), supervisor.ServerLogName)
	}

	l.update(func(s *control.Status) {
		s.Phase = PhaseStarting
		s.Port = port
	})
	proc, err := l.supervisor.Launch(spec)
	if err != nil {
		return NewError(KindLaunchFailed, "launch server", err)
	}
	defer l.drain(proc)
	l.update(func(s *control.Status) { s.PID = proc.Pid() })

	// Stop waiting as soon as the child dies
	waitCtx, cancelWait := context.WithCancel(ctx)
	go func() {
		select {
		case <-proc.Done():
			cancelWait()
		case <-waitCtx.Done():
		}
	}()
	ready := l.prober.WaitForReady(waitCtx, cfg.Host, port, l.opts.ReadyTimeout)
	cancelWait()

	if !ready {
		select {
		case <-proc.Done():
			return NewError(KindLaunchFailed, "start server", fmt.Errorf("server exited during startup: %v", proc.ExitErr()))
		default:
		}
		if termErr := proc.Terminate(l.supervisor.Grace()); termErr != nil {
			l.logger.Error("failed to stop server", "error", termErr)
		}
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return NewError(KindServerNotReady, "wait for server",
			fmt.Errorf("server did not accept connections on %s:%d within %s", netprobe.ConnectHost(cfg.Host), port, l.opts.ReadyTimeout))
	}

	url := netprobe.URL(cfg.Host, port)
	l.update(func(s *control.Status) {
		s.Phase = PhaseRunning
		s.URL = url
	})
	l.logger.Info("server is ready", "url", url)

	if !l.opts.NoBrowser {
		pending := l.opener.Schedule(url, l.opts.BrowserDelay)
		defer pending.Cancel()
	}
	if l.onReady != nil {
		l.onReady(url)
	}

	l.logger.Info("Localis is running", "url", url)
	l.logger.Info("Press Ctrl+C to stop")

	outcome, err := l.supervisor.Supervise(ctx, proc)
	l.update(func(s *control.Status) { s.Phase = PhaseStopping })
	if err != nil {
		l.logger.Error("error during shutdown", "error", err)
	}
	if !outcome.Interrupted && outcome.ExitErr != nil {
		l.logger.Warn("server exited unexpectedly", "error", outcome.ExitErr)
	}
	l.logger.Info("Localis stopped")
	return nil
}

// drain waits briefly for the server's output to be flushed.
func (l *Launcher) drain(proc *supervisor.Process) {
	done := make(chan error, 1)
	go func() { done <- proc.Close() }()
	select {
	case err := <-done:
		if err != nil {
			l.logger.Debug("server output pump ended with error", "error", err)
		}
	case <-time.After(2 * time.Second):
		l.logger.Debug("server output still open after exit; detaching")
	}
}
