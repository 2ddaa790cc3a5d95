//go:build !windows

package osproc

import (
	"errors"

	"golang.org/x/sys/unix"
)

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}
