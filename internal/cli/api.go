package cli

import (
	stdcontext "context"
	"fmt"
	"strings"
	"time"

	"github.com/Paintersrp/lineage/internal/api"
	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/metrics"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/proctree"
)

// ControlAPI exposes supervisor operations for the HTTP control plane and
// the TUI.
type ControlAPI struct {
	sup *supervisor
	now func() time.Time
}

var _ api.Controller = (*ControlAPI)(nil)

// NewControlAPI constructs a ControlAPI around a running supervisor.
func NewControlAPI(sup *supervisor) *ControlAPI {
	if sup == nil {
		return nil
	}
	return &ControlAPI{sup: sup, now: time.Now}
}

func (c *ControlAPI) ready(ctx stdcontext.Context) error {
	if c == nil || c.sup == nil {
		return api.ErrControllerClosed
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Trees returns a report for every registered tree.
func (c *ControlAPI) Trees(ctx stdcontext.Context) (*api.ListReport, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	entries := c.sup.reg.Snapshot()
	report := &api.ListReport{
		GeneratedAt: c.now(),
		Trees:       make([]api.TreeReport, 0, len(entries)),
	}
	for _, entry := range entries {
		report.Trees = append(report.Trees, api.NewTreeReport(entry))
	}
	return report, nil
}

// Tree returns the report for a single tree.
func (c *ControlAPI) Tree(ctx stdcontext.Context, id string) (*api.TreeReport, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	entry, ok := c.sup.reg.GetEntry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownTree, id)
	}
	report := api.NewTreeReport(entry)
	return &report, nil
}

// Refresh rescans and refreshes a tree immediately instead of waiting for
// the next watcher poll.
func (c *ControlAPI) Refresh(ctx stdcontext.Context, id string) (*api.TreeReport, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	entry, ok := c.sup.reg.GetEntry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownTree, id)
	}
	if !entry.Root.IsPlaceholder() {
		entry.Root.Rescan(ctx)
		if err := entry.Root.RefreshTree(ctx); err != nil {
			return nil, err
		}
	}
	report := api.NewTreeReport(entry)
	return &report, nil
}

// Kill terminates a tree according to the configured whitelist and deep
// kill mode.
func (c *ControlAPI) Kill(ctx stdcontext.Context, id string) (*api.KillResult, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	root, ok := c.sup.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownTree, id)
	}
	if root.IsPlaceholder() {
		return nil, fmt.Errorf("%w: %s", api.ErrTreeNotResolved, id)
	}

	report := killTree(ctx, c.sup, id, root)
	return api.NewKillResult(id, report), nil
}

// Launch starts or adopts a tree according to req.Kind.
func (c *ControlAPI) Launch(ctx stdcontext.Context, req api.LaunchRequest) (*api.LaunchResult, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	coord := c.sup.coord

	var (
		l   *launch.Launch
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case api.KindDirect, "":
		l, err = coord.Start(ctx, launch.StartRequest{File: req.File, Args: req.Args, WorkDir: req.WorkDir})
	case api.KindAsUser:
		l, err = coord.Start(ctx, launch.StartRequest{File: req.File, Args: req.Args, WorkDir: req.WorkDir, AsUser: true})
	case api.KindURI:
		l, err = coord.StartURI(ctx, launch.URIStartInfo{URI: req.URI, Target: req.Target, Args: req.Args})
	case api.KindURIDeferred:
		l, err = coord.StartURIDeferred(ctx, launch.URIStartInfo{URI: req.URI, Target: req.Target, Args: req.Args}, nil)
	case api.KindPackage:
		l, err = coord.StartPackagedApp(ctx, launch.PackageRequest{Family: req.Family, AppID: req.AppID, Args: req.Args, Target: req.Target})
	case api.KindAttach:
		l, err = coord.GetProcessFromID(ctx, req.PID)
	default:
		return nil, fmt.Errorf("%w: %q", api.ErrUnsupportedKind, req.Kind)
	}
	if err != nil {
		return nil, err
	}

	entry, ok := c.sup.reg.GetEntry(l.ID)
	if !ok {
		// A deferred launch may already have failed and been removed.
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownTree, l.ID)
	}
	return &api.LaunchResult{
		ID:       l.ID,
		Existing: l.Existing,
		Tree:     api.NewTreeReport(entry),
	}, nil
}

// killTree kills root, records the outcome and announces it.
func killTree(ctx stdcontext.Context, sup *supervisor, id string, root *proctree.Node) proctree.KillReport {
	report := root.Kill(ctx)
	for _, outcome := range []proctree.KillOutcome{proctree.KillTerminated, proctree.KillAttempted, proctree.KillSkipped} {
		metrics.AddKillOutcome(string(outcome), report.Count(outcome))
	}
	sup.emit(monitor.Event{
		Tree: id,
		PID:  root.ID(),
		Name: root.Name(),
		Path: root.Path(),
		Type: monitor.EventTypeKilled,
		Message: fmt.Sprintf("%d terminated, %d attempted, %d skipped",
			report.Count(proctree.KillTerminated),
			report.Count(proctree.KillAttempted),
			report.Count(proctree.KillSkipped)),
		Reason: monitor.ReasonKill,
	})
	return report
}
