package proctree

import "context"

// Status is the answer of an OS process query.
type Status struct {
	Exists bool
	Alive  bool
	Name   string
}

// Querier asks the operating system about a single pid.
type Querier interface {
	Query(ctx context.Context, pid int) (Status, error)
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(ctx context.Context, pid int) (Status, error)

// Query implements Querier.
func (f QuerierFunc) Query(ctx context.Context, pid int) (Status, error) {
	return f(ctx, pid)
}

// RefreshTree re-checks the liveness of this node and every descendant.
// Query failures and absent processes mark a node Dead. Dead nodes are not
// queried again and placeholders keep their preset state. The only error
// returned is the context's.
func (n *Node) RefreshTree(ctx context.Context) error {
	var q Querier
	if n.env != nil {
		q = n.env.Querier
	}
	return n.Walk(ctx, func(node *Node, _ int) error {
		if node.IsPlaceholder() || node.State() == StateDead {
			return nil
		}
		next := probe(ctx, q, node.pid)
		if err := ctx.Err(); err != nil {
			return err
		}
		node.setState(next)
		return nil
	})
}

// ProbeState resolves the liveness of pid through q, degrading any failure
// to Dead.
func ProbeState(ctx context.Context, q Querier, pid int) State {
	return probe(ctx, q, pid)
}

func probe(ctx context.Context, q Querier, pid int) State {
	if q == nil || pid <= 0 {
		return StateDead
	}
	status, err := q.Query(ctx, pid)
	if err != nil || !status.Exists || !status.Alive {
		return StateDead
	}
	return StateAlive
}
