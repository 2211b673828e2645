//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group so a terminal
// Ctrl+C reaches only the launcher, which then stops the child once.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// requestStop sends SIGTERM to the whole group so workers spawned by the
// server stop along with it.
func requestStop(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err != nil {
		return p.Signal(syscall.SIGTERM)
	}
	return nil
}

// forceStop kills the whole group, including reload workers.
func forceStop(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
