//go:build !windows

package patchtool

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr places the tool in its own process group and makes context
// cancellation kill the whole group, including helpers the tool spawned.
func setProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
