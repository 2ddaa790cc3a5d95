package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/lineage/internal/metrics"
	"github.com/Paintersrp/lineage/internal/proctree"
	"github.com/Paintersrp/lineage/internal/registry"
)

const defaultInterval = time.Second

// WatcherConfig controls a Watcher.
type WatcherConfig struct {
	Registry *registry.Registry
	Events   chan<- Event
	// Interval between polls. Defaults to one second.
	Interval time.Duration
	// ForgetAfter removes exited trees from the registry once they have been
	// inactive this long. Zero keeps them until they are removed elsewhere.
	ForgetAfter time.Duration
}

// Watcher periodically rescans and refreshes every registered tree and
// turns node notifications into Events.
type Watcher struct {
	reg         *registry.Registry
	events      chan<- Event
	interval    time.Duration
	forgetAfter time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu    sync.Mutex
	trees map[string]*watchedTree
}

type watchedTree struct {
	root     *proctree.Node
	subs     []*proctree.Subscription
	exitedAt time.Time
	done     chan struct{}
	doneOnce sync.Once
}

func (t *watchedTree) unsubscribe() {
	for _, sub := range t.subs {
		sub.Cancel()
	}
	t.subs = nil
}

func (t *watchedTree) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// NewWatcher constructs a watcher over cfg.Registry.
func NewWatcher(cfg WatcherConfig) *Watcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Watcher{
		reg:         cfg.Registry,
		events:      cfg.Events,
		interval:    interval,
		forgetAfter: cfg.ForgetAfter,
		now:         time.Now,
		sleep:       sleepContext,
		trees:       make(map[string]*watchedTree),
	}
}

// Run polls until ctx is cancelled, then releases every subscription.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()
	for {
		if err := w.Poll(ctx); err != nil {
			return err
		}
		if err := w.sleep(ctx, w.interval); err != nil {
			return err
		}
	}
}

// Poll performs a single pass over the registry.
func (w *Watcher) Poll(ctx context.Context) error {
	if w == nil || w.reg == nil {
		return nil
	}
	for _, entry := range w.reg.Snapshot() {
		tree := w.track(entry.ID, entry.Root)
		if entry.Root.IsPlaceholder() {
			continue
		}

		start := w.now()
		entry.Root.Rescan(ctx)
		if err := entry.Root.RefreshTree(ctx); err != nil {
			return err
		}
		metrics.ObserveRefresh(w.now().Sub(start))
		w.recordCounts(ctx, entry.ID, entry.Root)

		if entry.Root.IsTreeActive() {
			continue
		}
		w.settle(entry.ID, entry.Root, tree)
	}

	w.prune()
	metrics.SetTrackedRoots(w.reg.Len())
	return ctx.Err()
}

// Done returns a channel closed once the tree stored under id has fully
// exited or is no longer registered.
func (w *Watcher) Done(id string) <-chan struct{} {
	if root, ok := w.reg.Get(id); ok {
		return w.track(id, root).done
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if tree, ok := w.trees[id]; ok {
		return tree.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Close cancels every subscription held by the watcher.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tree := range w.trees {
		tree.unsubscribe()
	}
}

// track returns the bookkeeping for id, resubscribing when the registry
// swapped the root (a placeholder resolving to its process).
func (w *Watcher) track(id string, root *proctree.Node) *watchedTree {
	w.mu.Lock()
	defer w.mu.Unlock()

	tree, ok := w.trees[id]
	if ok && tree.root == root {
		return tree
	}
	if !ok {
		tree = &watchedTree{done: make(chan struct{})}
		w.trees[id] = tree
	}
	tree.unsubscribe()
	tree.root = root
	tree.exitedAt = time.Time{}
	if root.IsPlaceholder() {
		return tree
	}

	tree.subs = append(tree.subs,
		root.OnProcessAdded(func(evt proctree.Event) {
			Send(w.events, Event{
				Timestamp: evt.Timestamp,
				Tree:      id,
				PID:       evt.Process.PID,
				Name:      evt.Process.Name,
				Path:      evt.Process.Path,
				Args:      evt.Process.Args,
				Type:      EventTypeAdded,
				Message:   fmt.Sprintf("discovered under %d", evt.Process.ParentID),
				Reason:    ReasonPoll,
			})
		}),
		root.OnChildStateChanged(func(evt proctree.Event) {
			metrics.IncrementTransition(string(evt.Current))
			if evt.Current != proctree.StateDead || evt.Source.IsFiltered() {
				return
			}
			Send(w.events, Event{
				Timestamp: evt.Timestamp,
				Tree:      id,
				PID:       evt.Source.ID(),
				Name:      evt.Source.Name(),
				Path:      evt.Source.Path(),
				Type:      EventTypeExited,
				Message:   "process exited",
				Reason:    ReasonPoll,
			})
		}),
	)
	return tree
}

func (w *Watcher) settle(id string, root *proctree.Node, tree *watchedTree) {
	now := w.now()

	w.mu.Lock()
	first := tree.exitedAt.IsZero()
	if first {
		tree.exitedAt = now
	}
	expired := !first && w.forgetAfter > 0 && now.Sub(tree.exitedAt) >= w.forgetAfter
	w.mu.Unlock()

	if first {
		tree.finish()
		Send(w.events, Event{
			Tree:    id,
			PID:     root.ID(),
			Name:    root.Name(),
			Path:    root.Path(),
			Type:    EventTypeTreeExited,
			Message: "all processes exited",
			Reason:  ReasonPoll,
		})
		return
	}
	if !expired {
		return
	}
	if w.reg.Remove(id) {
		Send(w.events, Event{
			Tree:    id,
			PID:     root.ID(),
			Name:    root.Name(),
			Path:    root.Path(),
			Type:    EventTypeForgotten,
			Message: fmt.Sprintf("forgotten after %s", w.forgetAfter),
			Reason:  ReasonRetention,
		})
	}
}

// prune drops bookkeeping for trees that left the registry.
func (w *Watcher) prune() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, tree := range w.trees {
		if _, ok := w.reg.Get(id); ok {
			continue
		}
		tree.unsubscribe()
		tree.finish()
		delete(w.trees, id)
		metrics.ResetTree(id)
	}
}

func (w *Watcher) recordCounts(ctx context.Context, id string, root *proctree.Node) {
	alive, dead := 0, 0
	_ = root.Walk(ctx, func(n *proctree.Node, _ int) error {
		if n.State() == proctree.StateAlive {
			alive++
		} else {
			dead++
		}
		return nil
	})
	metrics.SetTreeProcesses(id, alive, dead)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
