// Package supervisor starts the application server and watches it until it
// exits or the launcher is interrupted.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultGracePeriod is how long a terminated child may take to exit before
// it is killed.
const DefaultGracePeriod = 10 * time.Second

// ServerLogName is the server output log used in packaged mode.
const ServerLogName = "localis_server.log"

// LaunchSpec describes the child to start.
type LaunchSpec struct {
	Interpreter string
	InstallRoot string
	AppDir      string
	ModelsDir   string
	DataDir     string
	Host        string
	Port        int
	DevReload   bool

	// Git is the git handle passed on to the application (empty if none).
	Git        string
	GitBundled bool

	// LogFile, when set, receives the merged child output (appended).
	// Otherwise output is streamed line by line to Console.
	LogFile string
	Console io.Writer

	// BaseEnv replaces os.Environ() as the starting environment.
	BaseEnv []string
}

// Process is a running child.
type Process struct {
	cmd     *exec.Cmd
	logger  *slog.Logger
	group   *errgroup.Group
	done    chan struct{}
	waitErr error

	termOnce sync.Once
}

// Supervisor launches and supervises the application server.
type Supervisor struct {
	logger *slog.Logger
	grace  time.Duration
}

// New creates a Supervisor. A zero grace uses DefaultGracePeriod.
func New(logger *slog.Logger, grace time.Duration) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{logger: logger, grace: grace}
}

// Launch starts the child described by spec.
func (s *Supervisor) Launch(spec LaunchSpec) (*Process, error) {
	argv := Command(spec)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = Environment(spec)
	cmd.Dir = spec.AppDir
	configureProcess(cmd)

	s.logger.Info("launching server", "command", argv, "dir", spec.AppDir)

	var (
		logFile *os.File
		reader  *os.File
		writer  *os.File
	)
	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create server log directory: %w", err)
		}
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open server log: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
		s.logger.Info("server output will be logged", "path", spec.LogFile)
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create output pipe: %w", err)
		}
		reader, writer = r, w
		cmd.Stdout = w
		cmd.Stderr = w
	}

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{logFile, reader, writer} {
			if f != nil {
				f.Close()
			}
		}
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	// The child holds its own copies now
	if logFile != nil {
		logFile.Close()
	}
	if writer != nil {
		writer.Close()
	}

	p := &Process{
		cmd:    cmd,
		logger: s.logger.With("pid", cmd.Process.Pid),
		group:  &errgroup.Group{},
		done:   make(chan struct{}),
	}

	p.group.Go(func() error {
		p.waitErr = cmd.Wait()
		close(p.done)
		return nil
	})
	if reader != nil {
		console := spec.Console
		if console == nil {
			console = os.Stdout
		}
		p.group.Go(func() error {
			defer reader.Close()
			return pump(reader, console)
		})
	}

	s.logger.Info("server started", "pid", cmd.Process.Pid)
	return p, nil
}

// pump copies child output to w one line at a time. Lines longer than the
// read buffer are written in chunks. It keeps draining r after a write
// error so the child never blocks on or dies from a closed pipe.
func pump(r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var out []byte
	var writeErr error
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF || errors.Is(err, os.ErrClosed) {
				return writeErr
			}
			return err
		}
		if writeErr != nil {
			continue
		}
		out = append(out[:0], chunk...)
		if !isPrefix {
			out = append(out, '\n')
		}
		if _, err := w.Write(out); err != nil {
			writeErr = err
		}
	}
}

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the child's exit error; valid after Done is closed.
func (p *Process) ExitErr() error {
	<-p.done
	return p.waitErr
}

// Terminate asks the child to stop and waits up to grace for it to exit,
// then kills it. It is safe to call more than once and after the child has
// already exited.
func (p *Process) Terminate(grace time.Duration) error {
	var err error
	p.termOnce.Do(func() {
		err = p.terminate(grace)
	})
	return err
}

func (p *Process) terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.logger.Info("requesting server shutdown", "grace", grace)
	if err := requestStop(p.cmd.Process); err != nil {
		p.logger.Warn("graceful stop request failed, killing", "error", err)
		return p.kill()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		p.logger.Info("server stopped")
		return nil
	case <-timer.C:
		p.logger.Warn("server did not stop within grace period, killing", "grace", grace)
		return p.kill()
	}
}

func (p *Process) kill() error {
	if err := forceStop(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill server: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server process %d did not exit after kill", p.Pid())
	}
}

// Close waits for the output pump to drain. Call it after the child exited.
func (p *Process) Close() error {
	return p.group.Wait()
}

// Outcome describes how supervision ended.
type Outcome struct {
	// Interrupted is true when the launcher stopped the child.
	Interrupted bool
	// ExitErr is the child's exit error (nil for a clean exit).
	ExitErr error
}

// Supervise blocks until the child exits or ctx is cancelled. On
// cancellation the child gets one stop request and the grace period before
// being killed.
func (s *Supervisor) Supervise(ctx context.Context, p *Process) (Outcome, error) {
	select {
	case <-p.Done():
		err := p.ExitErr()
		if err != nil {
			s.logger.Warn("server exited", "error", err)
		} else {
			s.logger.Info("server exited")
		}
		return Outcome{ExitErr: err}, nil
	case <-ctx.Done():
		s.logger.Info("shutting down")
		err := p.Terminate(s.grace)
		return Outcome{Interrupted: true, ExitErr: p.waitErrIfDone()}, err
	}
}

// Grace returns the configured grace period.
func (s *Supervisor) Grace() time.Duration { return s.grace }

func (p *Process) waitErrIfDone() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}
