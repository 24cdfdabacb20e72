//go:build unix

package soffice

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the converter in its own process group so
// cancellation kills soffice.bin and any helpers it forked, not just the launcher.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
