//go:build !windows

package osproc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureCmdSysProcAttr(cmd *exec.Cmd, asUser bool) error {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if asUser {
		cred, err := invokingUser()
		if err != nil {
			return err
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr
	return nil
}

// invokingUser returns the credential of the user who elevated us through
// sudo. Unprivileged callers need no credential change.
func invokingUser() (*syscall.Credential, error) {
	if unix.Geteuid() != 0 {
		return nil, nil
	}
	uid, err := envID("SUDO_UID")
	if err != nil {
		return nil, err
	}
	gid, err := envID("SUDO_GID")
	if err != nil {
		return nil, err
	}
	return &syscall.Credential{Uid: uid, Gid: gid}, nil
}

func envID(key string) (uint32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, fmt.Errorf("drop privileges: %s is not set", key)
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("drop privileges: parse %s: %w", key, err)
	}
	return uint32(id), nil
}
