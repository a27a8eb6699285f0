//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// killGroup runs the engine in its own process group so a timeout also
// reaches any interpreter or helper processes it spawned.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
