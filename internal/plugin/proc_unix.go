//go:build unix

package plugin

import (
	"os/exec"
	"syscall"
)

const shell = "/bin/sh"

// configureProcessGroup makes cancellation kill the plugin and its children.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
