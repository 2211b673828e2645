//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {}

// Windows has no portable graceful signal for a console child; the console
// already delivered Ctrl+C to it, so the stop request is a kill.
func requestStop(p *os.Process) error {
	return p.Kill()
}

func forceStop(p *os.Process) error {
	return p.Kill()
}
