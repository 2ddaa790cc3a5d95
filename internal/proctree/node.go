package proctree

import (
	"sync"
	"sync/atomic"
)

// State captures the liveness of a tracked process.
type State string

const (
	StateAlive State = "alive"
	StateDead  State = "dead"
)

// ProcessInfo describes a process at the moment it was discovered.
type ProcessInfo struct {
	PID      int
	ParentID int
	Name     string
	Path     string
	Args     []string
}

// Env bundles the collaborators and policy shared by every node of a tree.
// A nil Env is valid; operations needing a missing collaborator degrade
// the same way a failing collaborator would.
type Env struct {
	Querier    Querier
	Resolver   MetadataResolver
	Enumerator Enumerator
	Terminator Terminator

	// Filters are matched against node names by IsFiltered.
	Filters []string
	// KillWhitelist holds name prefixes Kill never terminates.
	KillWhitelist []string
	// DeepKill cascades Kill to every descendant.
	DeepKill bool
}

var nodeSerial atomic.Uint64

// Node is one tracked process and the root of its subtree.
type Node struct {
	serial  uint64
	pid     int
	name    string
	path    string
	args    []string
	filters []string
	env     *Env

	// scanMu serializes Rescan on a root.
	scanMu sync.Mutex

	mu       sync.RWMutex
	parentID int
	state    State
	children []*Node
	parent   *link

	listeners listeners
}

// NewNode constructs a node from the supplied process information. The
// filter list is captured from env and never changes afterwards.
func NewNode(info ProcessInfo, state State, env *Env) *Node {
	if state == "" {
		state = StateAlive
	}
	n := &Node{
		serial: nodeSerial.Add(1),
		pid:    info.PID,
		name:   info.Name,
		path:   info.Path,
		state:  state,
		env:    env,
	}
	if len(info.Args) > 0 {
		n.args = append([]string(nil), info.Args...)
	}
	if env != nil && len(env.Filters) > 0 {
		n.filters = append([]string(nil), env.Filters...)
	}
	if info.ParentID != info.PID {
		n.parentID = info.ParentID
	}
	return n
}

// NewPlaceholder constructs a provisional root for a launch that has not
// resolved to a pid yet. Placeholders start Alive and are never queried.
func NewPlaceholder(path string, args []string, env *Env) *Node {
	return NewNode(ProcessInfo{Path: path, Args: args}, StateAlive, env)
}

// ID returns the OS process id.
func (n *Node) ID() int { return n.pid }

// Name returns the process name.
func (n *Node) Name() string { return n.name }

// Path returns the executable path.
func (n *Node) Path() string { return n.path }

// Args returns a copy of the launch arguments.
func (n *Node) Args() []string {
	if len(n.args) == 0 {
		return nil
	}
	return append([]string(nil), n.args...)
}

// Filters returns a copy of the filter list captured at construction.
func (n *Node) Filters() []string {
	if len(n.filters) == 0 {
		return nil
	}
	return append([]string(nil), n.filters...)
}

// IsPlaceholder reports whether the node stands in for an unresolved launch.
func (n *Node) IsPlaceholder() bool { return n.pid <= 0 }

// ParentID returns the parent pid and whether the node has one.
func (n *Node) ParentID() (int, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parentID, n.parentID > 0
}

// SetParentID records the parent pid. Attempts to make the node its own
// parent are ignored.
func (n *Node) SetParentID(pid int) {
	if pid == n.pid {
		return
	}
	n.mu.Lock()
	n.parentID = pid
	n.mu.Unlock()
}

// State returns the current liveness state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Info returns the discovery information of the node.
func (n *Node) Info() ProcessInfo {
	parent, _ := n.ParentID()
	return ProcessInfo{
		PID:      n.pid,
		ParentID: parent,
		Name:     n.name,
		Path:     n.path,
		Args:     n.Args(),
	}
}

// setState applies a transition and fans out notifications. Dead is
// absorbing: a Dead node ignores any request to become Alive.
func (n *Node) setState(next State) bool {
	n.mu.Lock()
	prev := n.state
	if prev == next || prev == StateDead {
		n.mu.Unlock()
		return false
	}
	n.state = next
	n.mu.Unlock()

	n.propagate(prev, next)
	return true
}
