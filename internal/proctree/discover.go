package proctree

import (
	"context"
	"sort"
)

// Entry is one row of the OS process table.
type Entry struct {
	PID  int
	PPID int
	Name string
}

// Enumerator lists the processes currently known to the OS.
type Enumerator interface {
	Processes(ctx context.Context) ([]Entry, error)
}

// Metadata carries the executable path and command line of a process.
type Metadata struct {
	Path string
	Args []string
}

// MetadataResolver looks up path and arguments for a pid.
type MetadataResolver interface {
	Resolve(ctx context.Context, pid int) (Metadata, error)
}

// Discover builds a tree rooted at pid from the current OS state. Failing
// lookups degrade to a Dead root without children.
func Discover(ctx context.Context, pid int, env *Env) *Node {
	return Adopt(ctx, ProcessInfo{PID: pid}, env)
}

// Adopt builds a tree rooted at info.PID. Name, path and arguments already
// present in info win over what the OS reports, so a root keeps the
// identity it was launched under.
func Adopt(ctx context.Context, info ProcessInfo, env *Env) *Node {
	var (
		q        Querier
		resolver MetadataResolver
	)
	if env != nil {
		q = env.Querier
		resolver = env.Resolver
	}

	state := StateDead
	if q != nil && info.PID > 0 {
		if status, err := q.Query(ctx, info.PID); err == nil && status.Exists {
			if info.Name == "" {
				info.Name = status.Name
			}
			if status.Alive {
				state = StateAlive
			}
		}
	}
	if resolver != nil && state == StateAlive && (info.Path == "" || len(info.Args) == 0) {
		if meta, err := resolver.Resolve(ctx, info.PID); err == nil {
			if info.Path == "" {
				info.Path = meta.Path
			}
			if len(info.Args) == 0 {
				info.Args = meta.Args
			}
		}
	}
	info.ParentID = 0
	root := NewNode(info, state, env)
	root.Rescan(ctx)
	return root
}

// Rescan attaches processes spawned since the last scan below their live
// parents and announces each unfiltered newcomer on the root. Only Alive
// nodes are expanded, so a recycled pid never adopts strangers under a
// dead node. Concurrent rescans of one tree run one at a time. It returns
// the nodes that were added.
func (n *Node) Rescan(ctx context.Context) []*Node {
	if n.env == nil || n.env.Enumerator == nil {
		return nil
	}
	root := n.Root()
	root.scanMu.Lock()
	defer root.scanMu.Unlock()

	entries, err := n.env.Enumerator.Processes(ctx)
	if err != nil {
		return nil
	}

	byParent := make(map[int][]Entry)
	for _, entry := range entries {
		if entry.PID <= 0 || entry.PID == entry.PPID {
			continue
		}
		byParent[entry.PPID] = append(byParent[entry.PPID], entry)
	}
	for ppid := range byParent {
		siblings := byParent[ppid]
		sort.Slice(siblings, func(i, j int) bool { return siblings[i].PID < siblings[j].PID })
	}

	known := make(map[int]*Node)
	var queue []*Node
	_ = n.Walk(ctx, func(node *Node, _ int) error {
		if node.pid > 0 {
			known[node.pid] = node
			if node.State() == StateAlive {
				queue = append(queue, node)
			}
		}
		return nil
	})

	var added []*Node
	for len(queue) > 0 {
		if ctx.Err() != nil {
			break
		}
		parent := queue[0]
		queue = queue[1:]
		for _, entry := range byParent[parent.pid] {
			if _, ok := known[entry.PID]; ok {
				continue
			}
			child := n.discoverChild(ctx, parent, entry)
			if !parent.AddChild(child) {
				continue
			}
			known[entry.PID] = child
			added = append(added, child)
			parent.announce(child)
			if child.State() == StateAlive {
				queue = append(queue, child)
			}
		}
	}
	return added
}

func (n *Node) discoverChild(ctx context.Context, parent *Node, entry Entry) *Node {
	info := ProcessInfo{PID: entry.PID, ParentID: parent.pid, Name: entry.Name}
	if n.env.Resolver != nil {
		if meta, err := n.env.Resolver.Resolve(ctx, entry.PID); err == nil {
			info.Path = meta.Path
			info.Args = meta.Args
		}
	}
	state := StateAlive
	if n.env.Querier != nil {
		state = probe(ctx, n.env.Querier, entry.PID)
	}
	return NewNode(info, state, n.env)
}
