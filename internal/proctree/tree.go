package proctree

import (
	"context"
	"errors"
)

// SkipSubtree can be returned by a WalkFunc to skip the children of the
// node currently visited.
var SkipSubtree = errors.New("skip subtree")

// WalkFunc is invoked for every visited node with its depth relative to the
// walk origin.
type WalkFunc func(node *Node, depth int) error

// AddChild appends child to the ordered child collection and links its
// notifications upward. It returns false, without mutating anything, for a
// nil child, the node itself, a child already attached elsewhere, a child
// that is an ancestor of this node, or a child whose pid is already among
// the direct children.
func (n *Node) AddChild(child *Node) bool {
	if child == nil || child == n {
		return false
	}
	if child.pid > 0 && child.pid == n.pid {
		return false
	}
	for anc := n; anc != nil; anc = anc.Parent() {
		if anc == child {
			return false
		}
	}

	// Lock order is parent before child.
	n.mu.Lock()
	defer n.mu.Unlock()
	if child.pid > 0 {
		for _, existing := range n.children {
			if existing.pid == child.pid {
				return false
			}
		}
	}

	child.mu.Lock()
	if child.parent != nil && !child.parent.released.Load() {
		child.mu.Unlock()
		return false
	}
	child.parent = &link{parent: n}
	if n.pid > 0 {
		child.parentID = n.pid
	}
	child.mu.Unlock()

	n.children = append(n.children, child)
	return true
}

// RemoveChild detaches the direct child with the given pid and releases its
// upward link. It reports whether a child was removed.
func (n *Node) RemoveChild(pid int) bool {
	n.mu.Lock()
	var removed *Node
	for i, child := range n.children {
		if child.pid == pid {
			removed = child
			n.children = append(n.children[:i:i], n.children[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
	if removed == nil {
		return false
	}

	removed.mu.Lock()
	l := removed.parent
	removed.parent = nil
	removed.mu.Unlock()
	l.release()
	return true
}

// Children returns a copy of the direct children in insertion order.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.children) == 0 {
		return nil
	}
	return append([]*Node(nil), n.children...)
}

// FindChildByID searches the descendants depth-first, pre-order, and
// returns the first node with the given pid or nil.
func (n *Node) FindChildByID(pid int) *Node {
	stack := pushReversed(nil, n.Children())
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.pid == pid {
			return cur
		}
		stack = pushReversed(stack, cur.Children())
	}
	return nil
}

// IsTreeActive reports whether this node or any descendant is Alive.
func (n *Node) IsTreeActive() bool {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.State() == StateAlive {
			return true
		}
		stack = pushReversed(stack, cur.Children())
	}
	return false
}

// Len counts this node and all of its descendants.
func (n *Node) Len() int {
	count := 0
	_ = n.Walk(context.Background(), func(*Node, int) error {
		count++
		return nil
	})
	return count
}

// Walk visits this node and its descendants depth-first, pre-order, using
// an explicit stack. It stops at the first error returned by fn (other than
// SkipSubtree) or when ctx is done.
func (n *Node) Walk(ctx context.Context, fn WalkFunc) error {
	type frame struct {
		node  *Node
		depth int
	}
	stack := []frame{{node: n}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		err := fn(cur.node, cur.depth)
		if errors.Is(err, SkipSubtree) {
			continue
		}
		if err != nil {
			return err
		}
		children := cur.node.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], depth: cur.depth + 1})
		}
	}
	return nil
}

func pushReversed(stack []*Node, nodes []*Node) []*Node {
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	return stack
}

// Snapshot is an immutable view of a subtree suitable for rendering and
// encoding.
type Snapshot struct {
	PID         int        `json:"pid"`
	ParentID    int        `json:"parent_id,omitempty"`
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Args        []string   `json:"args,omitempty"`
	State       State      `json:"state"`
	Filtered    bool       `json:"filtered"`
	Placeholder bool       `json:"placeholder,omitempty"`
	Children    []Snapshot `json:"children,omitempty"`
}

// Snapshot captures the subtree rooted at n.
func (n *Node) Snapshot() Snapshot {
	type frame struct {
		node *Node
		dst  *Snapshot
	}
	var root Snapshot
	stack := []frame{{node: n, dst: &root}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info := cur.node.Info()
		*cur.dst = Snapshot{
			PID:         info.PID,
			ParentID:    info.ParentID,
			Name:        info.Name,
			Path:        info.Path,
			Args:        info.Args,
			State:       cur.node.State(),
			Filtered:    cur.node.IsFiltered(),
			Placeholder: cur.node.IsPlaceholder(),
		}
		children := cur.node.Children()
		if len(children) == 0 {
			continue
		}
		cur.dst.Children = make([]Snapshot, len(children))
		for i, child := range children {
			stack = append(stack, frame{node: child, dst: &cur.dst.Children[i]})
		}
	}
	return root
}
