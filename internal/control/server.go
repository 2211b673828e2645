// Package control serves the running launcher's status over a unix socket
// and lets a second invocation query it or ask it to stop.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SocketName is the control socket inside the logs directory.
const SocketName = "launcher.sock"

// ErrSocketInUse means another launcher is answering on the socket.
var ErrSocketInUse = errors.New("control socket is in use by another launcher")

// Command types.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// Command is a request sent to the launcher.
type Command struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the launcher's answer.
type Response struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Status  *Status `json:"status,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Sync outcomes reported in Status.
const (
	SyncCloned   = "cloned"
	SyncUpdated  = "updated"
	SyncDegraded = "degraded"
	SyncSkipped  = "skipped"
)

// SyncStatus is what happened to the checkout during this run.
type SyncStatus struct {
	Outcome string `json:"outcome"`
	// Reason explains a degraded or skipped sync.
	Reason string `json:"reason,omitempty"`
	Head   string `json:"head,omitempty"`
}

// Status is a snapshot of the launcher.
type Status struct {
	RunID     string     `json:"run_id"`
	Phase     string     `json:"phase"`
	URL       string     `json:"url,omitempty"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	PID       int        `json:"pid,omitempty"`
	AppDir    string     `json:"app_dir"`
	Branch    string     `json:"branch"`
	Sync      SyncStatus `json:"sync"`
	StartedAt time.Time  `json:"started_at"`
}

// HandlerFunc answers a command. The returned status, if any, is included in
// the response.
type HandlerFunc func(cmd Command) (*Status, error)

// Server manages the control socket
type Server struct {
	socketPath string
	listener   net.Listener
	logger     *slog.Logger
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once

	onCommand HandlerFunc
}

// NewServer creates a control server. A socket file that nobody answers on
// was left by a crashed launcher and is removed; a live one is
// ErrSocketInUse.
func NewServer(socketPath string, onCommand HandlerFunc, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if _, err := os.Lstat(socketPath); err == nil {
		if conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond); err == nil {
			conn.Close()
			return nil, fmt.Errorf("%w at %s", ErrSocketInUse, socketPath)
		}
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	return &Server{
		socketPath: socketPath,
		onCommand:  onCommand,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins accepting connections in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Debug("control server listening", "socket", s.socketPath)

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ul, _ := s.listener.(*net.UnixListener)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Wake up periodically to notice ctx and stopCh
		if ul != nil {
			if err := ul.SetDeadline(time.Now().Add(time.Second)); err != nil {
				s.logger.Warn("control: failed to set deadline", "error", err)
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("control: accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Bad clients must not hold a goroutine forever
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Warn("control: failed to set deadline", "error", err)
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	var resp Response
	if s.onCommand == nil {
		resp = Response{Message: "No command handler registered", Error: "server misconfiguration"}
	} else if status, err := s.onCommand(cmd); err != nil {
		resp = Response{Message: fmt.Sprintf("Command failed: %v", err), Error: err.Error()}
	} else {
		resp = Response{
			Success: true,
			Message: fmt.Sprintf("Command '%s' completed successfully", cmd.Type),
			Status:  status,
		}
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("control: failed to send response", "error", err)
	}
}

func (s *Server) sendError(conn net.Conn, message string) {
	_ = json.NewEncoder(conn).Encode(Response{Message: message, Error: message})
}

// Stop closes the socket and waits for the accept loop to finish. It is
// safe to call after ctx passed to Start was cancelled, and more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.RLock()
		listener := s.listener
		s.mu.RUnlock()
		if listener == nil {
			return
		}
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("control: error closing listener", "error", err)
		}

		select {
		case <-s.doneCh:
		case <-time.After(5 * time.Second):
			s.logger.Warn("control: timeout waiting for server shutdown")
		}

		if err := os.RemoveAll(s.socketPath); err != nil {
			s.logger.Warn("control: failed to remove socket file", "error", err)
		}
	})
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
