package git

import (
	"errors"
	"fmt"
	"time"
)

// RepoState describes what is on disk at a checkout location.
type RepoState int

const (
	// StateAbsent means the target directory does not exist.
	StateAbsent RepoState = iota
	// StateUntracked means the directory exists but has no .git metadata.
	// The synchronizer never touches such a directory.
	StateUntracked
	// StateTracked means the directory is a git checkout.
	StateTracked
)

func (s RepoState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateUntracked:
		return "untracked"
	case StateTracked:
		return "tracked"
	default:
		return fmt.Sprintf("RepoState(%d)", int(s))
	}
}

// Sync failure kinds. Use errors.Is against a *SyncError.
var (
	// ErrCloneFailed: first-run clone failed. There is no local copy to fall back to.
	ErrCloneFailed = errors.New("clone failed")
	// ErrNotACheckout: the target exists but is not a git checkout.
	ErrNotACheckout = errors.New("not a git checkout")
	// ErrUpdateFailed: fetch, checkout or pull of an existing checkout failed.
	// The checkout is left as it was before the failing step.
	ErrUpdateFailed = errors.New("update failed")
)

// SyncError reports which step of a sync failed and what git said about it.
type SyncError struct {
	// Kind is one of ErrCloneFailed, ErrNotACheckout, ErrUpdateFailed.
	Kind error
	// Step is the git sub-command that failed (clone, fetch, checkout, pull),
	// or "inspect" when the target could not be examined.
	Step string
	// Dir is the checkout directory.
	Dir string
	// Output is git's diagnostic output for the failing step.
	Output string
	Err    error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%v: %s in %s", e.Kind, e.Step, e.Dir)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

// Is makes errors.Is(err, ErrCloneFailed) and friends work.
func (e *SyncError) Is(target error) bool { return target == e.Kind }

func (e *SyncError) Unwrap() error { return e.Err }

// Timeouts bounds each git sub-command run by the synchronizer.
type Timeouts struct {
	Clone    time.Duration
	Fetch    time.Duration
	Checkout time.Duration
	Pull     time.Duration
}

// DefaultTimeouts returns the timeouts used by the launcher.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Clone:    300 * time.Second,
		Fetch:    60 * time.Second,
		Checkout: 30 * time.Second,
		Pull:     60 * time.Second,
	}
}

// SyncAction records what a successful sync did.
type SyncAction string

const (
	ActionCloned  SyncAction = "cloned"
	ActionUpdated SyncAction = "updated"
)

// SyncResult describes a successful sync.
type SyncResult struct {
	Action SyncAction
	Branch string
	// Before is HEAD before an update; empty after a clone.
	Before string
	// After is HEAD once the sync completed.
	After string
}

// Changed reports whether the sync moved HEAD.
func (r *SyncResult) Changed() bool {
	return r.Action == ActionCloned || r.Before != r.After
}
