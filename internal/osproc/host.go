package osproc

import (
	"context"
	"errors"
	"fmt"

	ps "github.com/mitchellh/go-ps"

	"github.com/Paintersrp/lineage/internal/proctree"
)

// ErrUnsupported is returned by operations the current platform lacks.
var ErrUnsupported = errors.New("not supported on this platform")

// Host implements every proctree collaborator against the local machine.
type Host struct{}

var (
	_ proctree.Querier          = Host{}
	_ proctree.Enumerator       = Host{}
	_ proctree.MetadataResolver = Host{}
	_ proctree.Terminator       = Host{}
)

// Env returns a proctree environment backed by the host.
func (h Host) Env(filters, killWhitelist []string, deepKill bool) *proctree.Env {
	return &proctree.Env{
		Querier:       h,
		Resolver:      h,
		Enumerator:    h,
		Terminator:    h,
		Filters:       filters,
		KillWhitelist: killWhitelist,
		DeepKill:      deepKill,
	}
}

// Query reports whether pid exists and is still running.
func (Host) Query(ctx context.Context, pid int) (proctree.Status, error) {
	if err := ctx.Err(); err != nil {
		return proctree.Status{}, err
	}
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return proctree.Status{}, fmt.Errorf("find process %d: %w", pid, err)
	}
	if proc == nil {
		return proctree.Status{}, nil
	}
	return proctree.Status{
		Exists: true,
		Alive:  alive(pid),
		Name:   proc.Executable(),
	}, nil
}

// Processes enumerates every process visible to the caller.
func (Host) Processes(ctx context.Context) ([]proctree.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	entries := make([]proctree.Entry, 0, len(procs))
	for _, proc := range procs {
		entries = append(entries, proctree.Entry{
			PID:  proc.Pid(),
			PPID: proc.PPid(),
			Name: proc.Executable(),
		})
	}
	return entries, nil
}

// Resolve returns the executable path and arguments of pid.
func (Host) Resolve(ctx context.Context, pid int) (proctree.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return proctree.Metadata{}, err
	}
	return resolve(pid)
}

// Terminate ends pid, and its process group when descendants is set.
func (Host) Terminate(ctx context.Context, pid int, force, descendants bool) (proctree.Output, error) {
	if err := ctx.Err(); err != nil {
		return proctree.Output{}, err
	}
	return terminate(ctx, pid, force, descendants)
}
