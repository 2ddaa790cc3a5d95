package proctree

import (
	"context"
	"strings"
)

// Output is what a termination attempt printed.
type Output struct {
	Stdout string
	Stderr string
}

// Terminator ends an OS process. includeDescendants asks the collaborator to
// take the process' descendants down as well.
type Terminator interface {
	Terminate(ctx context.Context, pid int, force, includeDescendants bool) (Output, error)
}

// KillOutcome classifies the result of a termination attempt on one node.
type KillOutcome string

const (
	// KillTerminated means the collaborator confirmed the termination.
	KillTerminated KillOutcome = "terminated"
	// KillAttempted means termination was requested but not confirmed.
	KillAttempted KillOutcome = "attempted"
	// KillSkipped means the node matched the kill whitelist.
	KillSkipped KillOutcome = "skipped"
)

// KillResult records the outcome for a single node.
type KillResult struct {
	PID     int         `json:"pid"`
	Name    string      `json:"name"`
	Outcome KillOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
}

// KillReport lists per-node outcomes in visit order.
type KillReport struct {
	Results []KillResult `json:"results"`
}

// Count returns the number of results with the given outcome.
func (r KillReport) Count(outcome KillOutcome) int {
	count := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			count++
		}
	}
	return count
}

// Kill terminates the process behind this node and, in deep-kill mode,
// every descendant, regardless of earlier failures. It never fails; the
// report tells what happened. Node state is left untouched for a later
// RefreshTree to reconcile.
func (n *Node) Kill(ctx context.Context) KillReport {
	var (
		term      Terminator
		whitelist []string
		deep      bool
	)
	if n.env != nil {
		term = n.env.Terminator
		whitelist = n.env.KillWhitelist
		deep = n.env.DeepKill
	}

	var report KillReport
	_ = n.Walk(ctx, func(node *Node, _ int) error {
		report.Results = append(report.Results, node.killSelf(ctx, term, whitelist, deep))
		if !deep {
			return SkipSubtree
		}
		return nil
	})
	return report
}

func (n *Node) killSelf(ctx context.Context, term Terminator, whitelist []string, deep bool) KillResult {
	res := KillResult{PID: n.pid, Name: n.name}
	if isWhitelisted(n.name, whitelist) {
		res.Outcome = KillSkipped
		res.Detail = "whitelisted"
		return res
	}
	if n.IsPlaceholder() {
		res.Outcome = KillAttempted
		res.Detail = "launch not resolved"
		return res
	}
	if term == nil {
		res.Outcome = KillAttempted
		res.Detail = "no terminator"
		return res
	}

	out, err := term.Terminate(ctx, n.pid, true, deep)
	switch {
	case err != nil:
		res.Outcome = KillAttempted
		res.Detail = err.Error()
	case strings.TrimSpace(out.Stderr) != "":
		res.Outcome = KillAttempted
		res.Detail = strings.TrimSpace(out.Stderr)
	default:
		res.Outcome = KillTerminated
		res.Detail = strings.TrimSpace(out.Stdout)
	}
	return res
}

func isWhitelisted(name string, prefixes []string) bool {
	lowerName := strings.ToLower(name)
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(lowerName, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
