//go:build windows

package osproc

import (
	"fmt"
	"os/exec"
	"syscall"
)

func configureCmdSysProcAttr(cmd *exec.Cmd, asUser bool) error {
	if asUser {
		return fmt.Errorf("launch without elevation: %w", ErrUnsupported)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	return nil
}
