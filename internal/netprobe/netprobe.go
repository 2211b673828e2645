// Package netprobe picks a listening port for the application and waits for
// it to accept connections.
package netprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Readiness polling defaults.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDialTimeout  = time.Second
)

// ErrNoPortAvailable is returned when every probed port is in use.
var ErrNoPortAvailable = errors.New("no available port")

// FindAvailablePort returns the first port in [start, start+maxAttempts)
// that can be bound on the loopback interface. The probe listener is closed
// immediately. Ports above 65535 are never tried.
func FindAvailablePort(start, maxAttempts int) (int, error) {
	if start < 1 || start > 65535 {
		return 0, fmt.Errorf("start port %d out of range 1-65535", start)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	end := start + maxAttempts
	if end > 65536 {
		end = 65536
	}
	for port := start; port < end; port++ {
		if isFree(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w in range %d-%d", ErrNoPortAvailable, start, end-1)
}

func isFree(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Prober polls a TCP endpoint until it accepts connections.
type Prober struct {
	Interval    time.Duration
	DialTimeout time.Duration
}

// NewProber returns a Prober with the default interval and dial timeout.
func NewProber() *Prober {
	return &Prober{Interval: DefaultPollInterval, DialTimeout: DefaultDialTimeout}
}

// WaitForReady dials host:port until a connection succeeds, timeout
// elapses, or ctx is cancelled. A wildcard host is probed on loopback.
func (p *Prober) WaitForReady(ctx context.Context, host string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(ConnectHost(host), strconv.Itoa(port))
	limiter := rate.NewLimiter(rate.Every(p.Interval), 1)
	dialer := &net.Dialer{Timeout: p.DialTimeout}

	for {
		if err := limiter.Wait(ctx); err != nil {
			// The limiter refuses to wait past the deadline; that is a timeout too.
			return false
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
}

// WaitForReady uses a default Prober.
func WaitForReady(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return NewProber().WaitForReady(ctx, host, port, timeout)
}

// ConnectHost maps a wildcard bind address to the matching loopback
// address. Other hosts are returned unchanged.
func ConnectHost(host string) string {
	switch host {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::", "[::]":
		return "::1"
	default:
		return host
	}
}

// URL is the browsable address of a server bound to host:port.
func URL(host string, port int) string {
	return "http://" + net.JoinHostPort(ConnectHost(host), strconv.Itoa(port))
}
