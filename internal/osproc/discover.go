package osproc

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/Paintersrp/lineage/internal/proctree"
	"github.com/Paintersrp/lineage/internal/registry"
)

const (
	defaultDiscoveryInterval = 250 * time.Millisecond
	defaultDiscoveryTimeout  = 30 * time.Second

	// commLen is the length Linux truncates process names to.
	commLen = 15
)

type matchFunc func(ctx context.Context, entry proctree.Entry) bool

// discoverer waits for a process that did not exist before an activation.
type discoverer struct {
	enum     proctree.Enumerator
	resolver proctree.MetadataResolver
	interval time.Duration
	timeout  time.Duration
}

func (d discoverer) baseline(ctx context.Context) (map[int]struct{}, error) {
	entries, err := d.enum.Processes(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]struct{}, len(entries))
	for _, entry := range entries {
		seen[entry.PID] = struct{}{}
	}
	return seen, nil
}

// await polls until a new process satisfies match. Among several matches
// it prefers the topmost one, then the lowest pid.
func (d discoverer) await(ctx context.Context, seen map[int]struct{}, what string, match matchFunc) (int, error) {
	interval := d.interval
	if interval <= 0 {
		interval = defaultDiscoveryInterval
	}
	timeout := d.timeout
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		entries, err := d.enum.Processes(ctx)
		if err != nil && ctx.Err() == nil {
			return 0, err
		}
		var found []proctree.Entry
		for _, entry := range entries {
			if _, old := seen[entry.PID]; old {
				continue
			}
			if match(ctx, entry) {
				found = append(found, entry)
			}
		}
		if pid := topmost(found); pid > 0 {
			return pid, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, fmt.Errorf("discover %s within %s: %w", what, timeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func topmost(found []proctree.Entry) int {
	if len(found) == 0 {
		return 0
	}
	pids := make(map[int]struct{}, len(found))
	for _, entry := range found {
		pids[entry.PID] = struct{}{}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].PID < found[j].PID })
	for _, entry := range found {
		if _, nested := pids[entry.PPID]; !nested {
			return entry.PID
		}
	}
	return found[0].PID
}

// matchTarget matches processes by executable name, falling back to the
// resolved path when the resolver can provide one.
func (d discoverer) matchTarget(target string) matchFunc {
	base := filepath.Base(target)
	return func(ctx context.Context, entry proctree.Entry) bool {
		if sameName(entry.Name, base) {
			return true
		}
		if d.resolver == nil {
			return false
		}
		meta, err := d.resolver.Resolve(ctx, entry.PID)
		return err == nil && registry.SamePath(meta.Path, target)
	}
}

func sameName(name, base string) bool {
	if name == "" {
		return false
	}
	if runtime.GOOS == "windows" {
		return strings.EqualFold(name, base)
	}
	if name == base {
		return true
	}
	return len(name) == commLen && strings.HasPrefix(base, name)
}
