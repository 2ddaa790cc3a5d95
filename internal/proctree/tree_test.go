package proctree

import (
	"context"
	"errors"
	"testing"
)

func TestFindChildByID(t *testing.T) {
	root, _, _, leafB := buildTree(nil)

	if got := root.FindChildByID(4); got != leafB {
		t.Fatalf("FindChildByID(4) = %v, want leaf with pid 4", got)
	}
	if got := root.FindChildByID(99); got != nil {
		t.Fatalf("FindChildByID(99) = %v, want nil", got)
	}
	if got := root.FindChildByID(1); got != nil {
		t.Fatalf("FindChildByID searched the node itself: %v", got)
	}
	empty := NewNode(ProcessInfo{PID: 7}, StateAlive, nil)
	if got := empty.FindChildByID(7); got != nil {
		t.Fatalf("expected nil on empty child collection, got %v", got)
	}
}

func TestFindChildByIDReturnsFirstPreOrderMatch(t *testing.T) {
	root := NewNode(ProcessInfo{PID: 1}, StateAlive, nil)
	a := NewNode(ProcessInfo{PID: 2}, StateAlive, nil)
	b := NewNode(ProcessInfo{PID: 3}, StateAlive, nil)
	deep := NewNode(ProcessInfo{PID: 5, Name: "deep"}, StateDead, nil)
	shallow := NewNode(ProcessInfo{PID: 5, Name: "shallow"}, StateAlive, nil)
	root.AddChild(a)
	root.AddChild(b)
	a.AddChild(deep)
	b.AddChild(shallow)

	if got := root.FindChildByID(5); got != deep {
		t.Fatalf("expected depth-first match under first child, got %q", got.Name())
	}
}

func TestAddChild(t *testing.T) {
	parent := NewNode(ProcessInfo{PID: 10}, StateAlive, nil)

	if parent.AddChild(nil) {
		t.Fatalf("AddChild(nil) returned true")
	}
	if got := len(parent.Children()); got != 0 {
		t.Fatalf("AddChild(nil) mutated children: %d", got)
	}
	if parent.AddChild(parent) {
		t.Fatalf("AddChild(self) returned true")
	}
	if parent.AddChild(NewNode(ProcessInfo{PID: 10}, StateAlive, nil)) {
		t.Fatalf("AddChild accepted a child with the parent's pid")
	}

	child := NewNode(ProcessInfo{PID: 11}, StateAlive, nil)
	if !parent.AddChild(child) {
		t.Fatalf("AddChild rejected a valid child")
	}
	if ppid, ok := child.ParentID(); !ok || ppid != 10 {
		t.Fatalf("expected parent id 10, got %d (ok=%v)", ppid, ok)
	}
	if child.Parent() != parent {
		t.Fatalf("child not linked to parent")
	}

	other := NewNode(ProcessInfo{PID: 12}, StateAlive, nil)
	if other.AddChild(child) {
		t.Fatalf("child attached to two parents")
	}
	if child.AddChild(parent) {
		t.Fatalf("AddChild accepted an ancestor")
	}
	if parent.AddChild(NewNode(ProcessInfo{PID: 11}, StateAlive, nil)) {
		t.Fatalf("AddChild accepted a second child with pid 11")
	}
	if got := len(parent.Children()); got != 1 {
		t.Fatalf("expected 1 child, got %d", got)
	}
}

func TestSetParentIDIgnoresSelf(t *testing.T) {
	node := NewNode(ProcessInfo{PID: 5, ParentID: 5}, StateAlive, nil)
	if _, ok := node.ParentID(); ok {
		t.Fatalf("node constructed as its own parent")
	}
	node.SetParentID(5)
	if _, ok := node.ParentID(); ok {
		t.Fatalf("SetParentID accepted self")
	}
	node.SetParentID(3)
	if ppid, _ := node.ParentID(); ppid != 3 {
		t.Fatalf("expected parent 3, got %d", ppid)
	}
}

func TestRemoveChild(t *testing.T) {
	root, mid, _, _ := buildTree(nil)

	if root.RemoveChild(99) {
		t.Fatalf("RemoveChild(99) reported success")
	}
	if !root.RemoveChild(2) {
		t.Fatalf("RemoveChild(2) failed")
	}
	if mid.Parent() != nil {
		t.Fatalf("removed child still linked")
	}
	if root.FindChildByID(4) != nil {
		t.Fatalf("removed subtree still reachable")
	}
	if !NewNode(ProcessInfo{PID: 20}, StateAlive, nil).AddChild(mid) {
		t.Fatalf("released child could not be re-attached")
	}
}

func TestIsTreeActive(t *testing.T) {
	tests := []struct {
		name   string
		states [4]State
		want   bool
	}{
		{name: "allAlive", states: [4]State{StateAlive, StateAlive, StateAlive, StateAlive}, want: true},
		{name: "rootDeadLeafAlive", states: [4]State{StateDead, StateDead, StateDead, StateAlive}, want: true},
		{name: "onlyRootAlive", states: [4]State{StateAlive, StateDead, StateDead, StateDead}, want: true},
		{name: "allDead", states: [4]State{StateDead, StateDead, StateDead, StateDead}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nodes := make([]*Node, 4)
			for i := range nodes {
				nodes[i] = NewNode(ProcessInfo{PID: i + 1}, tc.states[i], nil)
			}
			nodes[0].AddChild(nodes[1])
			nodes[1].AddChild(nodes[2])
			nodes[1].AddChild(nodes[3])

			if got := nodes[0].IsTreeActive(); got != tc.want {
				t.Fatalf("IsTreeActive() = %v, want %v", got, tc.want)
			}
		})
	}

	lone := NewNode(ProcessInfo{PID: 1}, StateDead, nil)
	if lone.IsTreeActive() {
		t.Fatalf("dead node without children reported active")
	}
}

func TestWalkOrderAndSkip(t *testing.T) {
	root, _, _, _ := buildTree(nil)

	var visited []int
	err := root.Walk(context.Background(), func(node *Node, depth int) error {
		visited = append(visited, node.ID())
		return nil
	})
	if err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}

	visited = nil
	_ = root.Walk(context.Background(), func(node *Node, depth int) error {
		visited = append(visited, node.ID())
		if depth == 1 {
			return SkipSubtree
		}
		return nil
	})
	if len(visited) != 2 {
		t.Fatalf("SkipSubtree not honored: %v", visited)
	}

	boom := errors.New("boom")
	if err := root.Walk(context.Background(), func(*Node, int) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected walk error, got %v", err)
	}
}

func TestWalkStopsOnCancelledContext(t *testing.T) {
	root, _, _, _ := buildTree(nil)
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	err := root.Walk(ctx, func(*Node, int) error {
		count++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if count != 1 {
		t.Fatalf("expected walk to stop after first node, visited %d", count)
	}
}

func TestSnapshot(t *testing.T) {
	env := &Env{Filters: []string{"worker"}}
	root, _, _, _ := buildTree(env)

	snap := root.Snapshot()
	if snap.PID != 1 || len(snap.Children) != 1 {
		t.Fatalf("unexpected root snapshot: %+v", snap)
	}
	mid := snap.Children[0]
	if mid.ParentID != 1 || len(mid.Children) != 2 {
		t.Fatalf("unexpected mid snapshot: %+v", mid)
	}
	if !mid.Children[0].Filtered || mid.Children[1].Filtered {
		t.Fatalf("unexpected filter flags: %+v", mid.Children)
	}
	if root.Len() != 4 {
		t.Fatalf("expected Len 4, got %d", root.Len())
	}
}
