// Package registry tracks the roots of supervised process trees under
// opaque correlation ids.
package registry

import (
	"context"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Paintersrp/lineage/internal/proctree"
)

// Entry pairs a correlation id with its root.
type Entry struct {
	ID   string
	Root *proctree.Node
	// Created is when the id was first stored. Replacing the root keeps it.
	Created time.Time
}

type slot struct {
	root    *proctree.Node
	created time.Time
}

// Registry is a concurrency-safe map from correlation id to root node.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]slot
	newID   func() string
	now     func() time.Time
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]slot),
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}
}

// NewID returns a fresh correlation id.
func (r *Registry) NewID() string {
	return r.newID()
}

// Insert stores root under id, replacing any previous value.
func (r *Registry) Insert(id string, root *proctree.Node) {
	if id == "" || root == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	created := r.now()
	if existing, ok := r.entries[id]; ok {
		created = existing.created
	}
	r.entries[id] = slot{root: root, created: created}
}

// Register stores root under a fresh correlation id and returns the id.
func (r *Registry) Register(root *proctree.Node) string {
	id := r.newID()
	r.Insert(id, root)
	return id
}

// Replace swaps the root stored under id. It reports false when the entry
// no longer exists, which happens if the slot was removed concurrently.
func (r *Registry) Replace(id string, root *proctree.Node) bool {
	if root == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.entries[id]
	if !ok {
		return false
	}
	existing.root = root
	r.entries[id] = existing
	return true
}

// Get returns the root stored under id.
func (r *Registry) Get(id string) (*proctree.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry.root, ok
}

// GetEntry returns the full entry stored under id.
func (r *Registry) GetEntry(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{ID: id, Root: entry.root, Created: entry.created}, true
}

// Remove deletes the entry and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len returns the number of tracked roots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns all entries ordered by id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for id, entry := range r.entries {
		out = append(out, Entry{ID: id, Root: entry.root, Created: entry.created})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the first entry, in id order, whose root satisfies match.
func (r *Registry) Find(match func(*proctree.Node) bool) (Entry, bool) {
	for _, entry := range r.Snapshot() {
		if match(entry.Root) {
			return entry, true
		}
	}
	return Entry{}, false
}

// FindByPath returns every entry whose root executable path matches path.
func (r *Registry) FindByPath(path string) []Entry {
	var out []Entry
	for _, entry := range r.Snapshot() {
		if SamePath(entry.Root.Path(), path) {
			out = append(out, entry)
		}
	}
	return out
}

// FindLive returns a root with the given path whose process is still alive.
func (r *Registry) FindLive(ctx context.Context, path string, q proctree.Querier) (Entry, bool) {
	for _, entry := range r.FindByPath(path) {
		if IsLive(ctx, entry.Root, q) {
			return entry, true
		}
	}
	return Entry{}, false
}

// Claim runs the duplicate-by-path check and pre-registers placeholder in
// one step. If a live root for path already exists it is returned with
// existing set and placeholder is not stored. Concurrent claims for the
// same path therefore resolve to a single slot. Liveness is probed without
// holding the registry lock; the placeholder is only stored if the set of
// roots at path did not change meanwhile.
func (r *Registry) Claim(ctx context.Context, path string, q proctree.Querier, placeholder *proctree.Node) (id string, root *proctree.Node, existing bool) {
	for {
		r.mu.RLock()
		candidates := r.atPath(path)
		r.mu.RUnlock()

		for _, c := range candidates {
			if !IsLive(ctx, c.Root, q) {
				continue
			}
			r.mu.RLock()
			current, ok := r.entries[c.ID]
			r.mu.RUnlock()
			if ok && current.root == c.Root {
				return c.ID, c.Root, true
			}
		}

		r.mu.Lock()
		if !sameEntries(candidates, r.atPath(path)) {
			r.mu.Unlock()
			continue
		}
		id = r.newID()
		r.entries[id] = slot{root: placeholder, created: r.now()}
		r.mu.Unlock()
		return id, placeholder, false
	}
}

// atPath lists the entries whose root path matches, in id order. The
// caller holds r.mu.
func (r *Registry) atPath(path string) []Entry {
	var out []Entry
	for id, s := range r.entries {
		if SamePath(s.root.Path(), path) {
			out = append(out, Entry{ID: id, Root: s.root, Created: s.created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sameEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Root != b[i].Root {
			return false
		}
	}
	return true
}

// IsLive reports whether root still stands for a running process. Dead
// roots never count; placeholders count until they are resolved or removed.
func IsLive(ctx context.Context, root *proctree.Node, q proctree.Querier) bool {
	if root == nil || root.State() == proctree.StateDead {
		return false
	}
	if root.IsPlaceholder() {
		return true
	}
	return proctree.ProbeState(ctx, q, root.ID()) == proctree.StateAlive
}

// SamePath compares executable paths after cleaning. Windows paths compare
// case-insensitively.
func SamePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = filepath.Clean(a), filepath.Clean(b)
	if goruntime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
