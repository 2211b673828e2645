// Package browser opens the application in the system browser once the
// server is known to be ready.
package browser

import (
	"io"
	"log/slog"
	"sync"
	"time"

	pkgbrowser "github.com/pkg/browser"
)

// DefaultDelay is the pause between confirmed readiness and opening the browser.
const DefaultDelay = time.Second

// OpenFunc opens url. The default uses github.com/pkg/browser.
type OpenFunc func(url string) error

// Opener schedules a single browser open.
type Opener struct {
	logger *slog.Logger
	open   OpenFunc
}

// New returns an Opener using the system browser. Helper output from the
// platform open command is discarded.
func New(logger *slog.Logger) *Opener {
	pkgbrowser.Stdout = io.Discard
	pkgbrowser.Stderr = io.Discard
	return NewWithFunc(logger, pkgbrowser.OpenURL)
}

// NewWithFunc returns an Opener that calls open.
func NewWithFunc(logger *slog.Logger, open OpenFunc) *Opener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Opener{logger: logger, open: open}
}

// Pending is a scheduled open that has not necessarily run yet.
type Pending struct {
	mu       sync.Mutex
	timer    *time.Timer
	canceled bool
	done     chan struct{}
}

// Cancel prevents the open if it has not started. It reports whether the
// open was prevented.
func (p *Pending) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.canceled {
		return true
	}
	if p.timer.Stop() {
		p.canceled = true
		close(p.done)
		return true
	}
	return false
}

// Done is closed once the open ran or was cancelled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Schedule opens url after delay. Call it only after readiness has been
// confirmed; cancel the result if shutdown begins first.
func (o *Opener) Schedule(url string, delay time.Duration) *Pending {
	p := &Pending{done: make(chan struct{})}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = time.AfterFunc(delay, func() {
		defer close(p.done)
		o.logger.Info("opening browser", "url", url)
		if err := o.open(url); err != nil {
			o.logger.Error("failed to open browser", "url", url, "error", err)
		}
	})
	return p
}
