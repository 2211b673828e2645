package launcher

import (
	"errors"
	"fmt"
)

// Kind classifies launcher failures.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindRuntimeNotFound
	KindVCSNotFound
	KindCloneFailed
	KindUpdateFailed
	KindPortExhausted
	KindServerNotReady
	KindLaunchFailed
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindRuntimeNotFound:
		return "RuntimeNotFound"
	case KindVCSNotFound:
		return "VcsNotFound"
	case KindCloneFailed:
		return "CloneFailed"
	case KindUpdateFailed:
		return "UpdateFailed"
	case KindPortExhausted:
		return "PortExhausted"
	case KindServerNotReady:
		return "ServerNotReady"
	case KindLaunchFailed:
		return "LaunchFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a launcher failure with the step it happened in and hints for
// the user.
type Error struct {
	Kind  Kind
	Step  string
	Err   error
	Hints []string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

// NewError builds an *Error with the default hints for kind.
func NewError(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err, Hints: defaultHints(kind)}
}

func defaultHints(kind Kind) []string {
	switch kind {
	case KindConfiguration:
		return []string{
			"Set LOCALIS_APP_REPO_URL to the application's git repository URL",
			"or add \"app_repo_url\" to localis_runtime_config.json in the install root",
		}
	case KindRuntimeNotFound:
		return []string{
			"Expected the bundled interpreter under runtime/python in the install root",
			"A packaged launcher never falls back to a system interpreter; reinstall to restore the runtime",
		}
	case KindVCSNotFound:
		return []string{
			"Git is needed to download the application on first run",
			"Ensure git is bundled under runtime/git or installed on PATH, or pre-install the app/ directory",
		}
	case KindCloneFailed:
		return []string{
			"Check the repository URL and branch name",
			"Check your network connection and any proxy settings",
			"Private repositories need credentials configured for git",
		}
	case KindUpdateFailed:
		return []string{
			"The existing checkout is used as-is",
			"Local changes or a diverged history block fast-forward updates; resolve them in the app/ directory",
		}
	case KindPortExhausted:
		return []string{
			"Stop other servers using these ports, or set LOCALIS_PORT to another start port",
		}
	case KindServerNotReady:
		return []string{
			"See logs/localis_server.log (packaged) or the console output above for the server's error",
			"Run \"localis smoke\" to check the interpreter has the required packages",
		}
	case KindLaunchFailed:
		return []string{
			"Check that the interpreter is executable and the app/ directory is intact",
		}
	default:
		return nil
	}
}
