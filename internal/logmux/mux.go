package logmux

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/lineage/internal/monitor"
)

// Mux fans in monitor events from multiple sources and delivers them via a
// bounded channel. Process output lines are dropped when downstream
// consumers cannot keep up, and a synthesized warning reports how many were
// discarded. Lifecycle events are never dropped; they wait for room.
type Mux struct {
	out chan monitor.Event

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan monitor.Event, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan monitor.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes events until the
// source channel is closed.
func (m *Mux) Add(source <-chan monitor.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			m.deliver(normalize(evt))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop counts,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt monitor.Event) {
	key := keyOf(evt)
	if evt.Type != monitor.EventTypeLog {
		if count := m.takeDrops(key); count > 0 {
			m.out <- synthesizeDropEvent(evt, count)
		}
		m.out <- evt
		return
	}
	if !m.flushPending(key, evt) {
		m.recordDrop(key, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(key, 1)
}

func (m *Mux) flushPending(key string, evt monitor.Event) bool {
	count := m.takeDrops(key)
	if count == 0 {
		return true
	}
	if m.trySend(synthesizeDropEvent(evt, count)) {
		return true
	}
	m.recordDrop(key, count)
	return false
}

func (m *Mux) takeDrops(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[key]
	delete(m.drops, key)
	return count
}

func (m *Mux) recordDrop(key string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[key] += count
}

func (m *Mux) flushDrops() {
	m.mu.Lock()
	pending := m.drops
	m.drops = make(map[string]int)
	m.mu.Unlock()

	for key, count := range pending {
		if count == 0 {
			continue
		}
		m.out <- synthesizeDropEvent(eventForKey(key), count)
	}
}

func (m *Mux) trySend(evt monitor.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

// keyOf groups drops by tree, or by pid for output not yet tied to a tree.
func keyOf(evt monitor.Event) string {
	if evt.Tree != "" {
		return evt.Tree
	}
	return "pid:" + strconv.Itoa(evt.PID)
}

func eventForKey(key string) monitor.Event {
	if pid, ok := strings.CutPrefix(key, "pid:"); ok {
		n, _ := strconv.Atoi(pid)
		return monitor.Event{PID: n}
	}
	return monitor.Event{Tree: key}
}

func normalize(evt monitor.Event) monitor.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = monitor.SourceSystem
	}
	if evt.Level == "" {
		evt.Level = "info"
		if evt.Err != nil {
			evt.Level = "error"
		}
	}
	return evt
}

func synthesizeDropEvent(like monitor.Event, count int) monitor.Event {
	return monitor.Event{
		Timestamp: time.Now(),
		Tree:      like.Tree,
		PID:       like.PID,
		Type:      monitor.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    monitor.SourceSystem,
	}
}
