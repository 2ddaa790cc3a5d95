//go:build !windows

package osproc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/lineage/internal/proctree"
)

func terminate(_ context.Context, pid int, force, descendants bool) (proctree.Output, error) {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}

	target := pid
	if descendants && leadsOwnGroup(pid) {
		target = -pid
	}

	if err := unix.Kill(target, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return proctree.Output{Stderr: fmt.Sprintf("process %d not found", pid)}, nil
		}
		return proctree.Output{}, fmt.Errorf("signal %d with %s: %w", target, unix.SignalName(sig), err)
	}
	scope := "process"
	if target < 0 {
		scope = "process group"
	}
	return proctree.Output{Stdout: fmt.Sprintf("sent %s to %s %d", unix.SignalName(sig), scope, pid)}, nil
}

// leadsOwnGroup reports whether pid is a group leader outside our own
// group, so signalling the group cannot reach this process.
func leadsOwnGroup(pid int) bool {
	pgid, err := unix.Getpgid(pid)
	if err != nil || pgid != pid {
		return false
	}
	return pgid != unix.Getpgrp()
}
