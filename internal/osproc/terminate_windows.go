//go:build windows

package osproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Paintersrp/lineage/internal/proctree"
)

func terminate(ctx context.Context, pid int, force, descendants bool) (proctree.Output, error) {
	args := []string{"/PID", strconv.Itoa(pid)}
	if force {
		args = append(args, "/F")
	}
	if descendants {
		args = append(args, "/T")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "taskkill", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	out := proctree.Output{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return out, fmt.Errorf("run taskkill: %w", err)
	}
	if exitErr != nil && out.Stderr == "" {
		out.Stderr = fmt.Sprintf("taskkill exit %d", exitErr.ExitCode())
	}
	return out, nil
}
