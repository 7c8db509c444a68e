//go:build windows

package patchtool

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setProcAttr hides the console window the tool would otherwise open.
func setProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP
}
