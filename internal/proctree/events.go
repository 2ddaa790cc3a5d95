package proctree

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind identifies a notification channel on a node.
type EventKind string

const (
	// EventStateChanged fires only for the node that transitioned.
	EventStateChanged EventKind = "state_changed"
	// EventChildStateChanged fires for the transitioning node and for every
	// ancestor up to the root.
	EventChildStateChanged EventKind = "child_state_changed"
	// EventProcessAdded fires on the tree root when an unfiltered descendant
	// is discovered.
	EventProcessAdded EventKind = "process_added"
)

// Event is delivered to handlers subscribed on a node.
type Event struct {
	Kind      EventKind
	Node      *Node
	Source    *Node
	Previous  State
	Current   State
	Process   ProcessInfo
	Timestamp time.Time
}

// Handler receives node events. Handlers run synchronously on the goroutine
// that caused the event and must not block for long.
type Handler func(Event)

// Subscription is a scoped handler registration.
type Subscription struct {
	owner *listeners
	kind  EventKind
	id    uint64
	once  sync.Once
}

// Cancel removes the handler. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.owner == nil {
		return
	}
	s.once.Do(func() {
		s.owner.remove(s.kind, s.id)
	})
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type listeners struct {
	mu       sync.Mutex
	next     uint64
	handlers map[EventKind][]handlerEntry
}

func (l *listeners) add(kind EventKind, fn Handler) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[EventKind][]handlerEntry)
	}
	l.next++
	l.handlers[kind] = append(l.handlers[kind], handlerEntry{id: l.next, fn: fn})
	return &Subscription{owner: l, kind: kind, id: l.next}
}

func (l *listeners) remove(kind EventKind, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.handlers[kind]
	for i, entry := range entries {
		if entry.id == id {
			l.handlers[kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (l *listeners) emit(evt Event) {
	l.mu.Lock()
	entries := append([]handlerEntry(nil), l.handlers[evt.Kind]...)
	l.mu.Unlock()
	for _, entry := range entries {
		entry.fn(evt)
	}
}

// link ties a child to its parent for upward propagation. Releasing the
// link detaches the child's notifications from the former parent.
type link struct {
	parent   *Node
	released atomic.Bool
}

func (l *link) release() {
	if l != nil {
		l.released.Store(true)
	}
}

// OnStateChanged subscribes to transitions of this node only.
func (n *Node) OnStateChanged(fn Handler) *Subscription {
	if fn == nil {
		return nil
	}
	return n.listeners.add(EventStateChanged, fn)
}

// OnChildStateChanged subscribes to transitions of this node or any of its
// descendants.
func (n *Node) OnChildStateChanged(fn Handler) *Subscription {
	if fn == nil {
		return nil
	}
	return n.listeners.add(EventChildStateChanged, fn)
}

// OnProcessAdded subscribes to discovery announcements. Announcements are
// delivered on the root of the tree the new process joined.
func (n *Node) OnProcessAdded(fn Handler) *Subscription {
	if fn == nil {
		return nil
	}
	return n.listeners.add(EventProcessAdded, fn)
}

// Parent returns the node this node is attached to, or nil for a root.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	l := n.parent
	n.mu.RUnlock()
	if l == nil || l.released.Load() {
		return nil
	}
	return l.parent
}

// Root returns the top of the tree this node belongs to.
func (n *Node) Root() *Node {
	cur := n
	for {
		parent := cur.Parent()
		if parent == nil {
			return cur
		}
		cur = parent
	}
}

func (n *Node) propagate(prev, next State) {
	now := time.Now()
	n.listeners.emit(Event{
		Kind:      EventStateChanged,
		Node:      n,
		Source:    n,
		Previous:  prev,
		Current:   next,
		Timestamp: now,
	})
	for cur := n; cur != nil; cur = cur.Parent() {
		cur.listeners.emit(Event{
			Kind:      EventChildStateChanged,
			Node:      cur,
			Source:    n,
			Previous:  prev,
			Current:   next,
			Timestamp: now,
		})
	}
}

func (n *Node) announce(child *Node) {
	if child.IsFiltered() {
		return
	}
	root := n.Root()
	root.listeners.emit(Event{
		Kind:      EventProcessAdded,
		Node:      root,
		Source:    child,
		Current:   child.State(),
		Process:   child.Info(),
		Timestamp: time.Now(),
	})
}
