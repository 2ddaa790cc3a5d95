package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Paintersrp/lineage/internal/metrics"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/proctree"
	"github.com/Paintersrp/lineage/internal/registry"
)

// Config controls construction of a Coordinator.
type Config struct {
	Registry  *registry.Registry
	Env       *proctree.Env
	Launchers Launchers
	Events    chan<- monitor.Event
}

// Launch is the handle returned by every entry point.
type Launch struct {
	ID   string
	Root *proctree.Node
	// Existing is set when a live instance at the same path was returned
	// instead of starting a new one.
	Existing bool
}

// Coordinator creates process trees through the launch collaborators and
// records them in the registry.
type Coordinator struct {
	reg       *registry.Registry
	env       *proctree.Env
	launchers Launchers
	events    chan<- monitor.Event

	initialized atomic.Bool
	pending     sync.WaitGroup

	// waiters holds callbacks of deferred launches that joined a slot
	// whose own launch was still in flight.
	waitMu  sync.Mutex
	waiters map[string][]func(ok bool)
}

// New constructs an initialized coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	env := cfg.Env
	if env == nil {
		env = &proctree.Env{}
	}
	c := &Coordinator{
		reg:       cfg.Registry,
		env:       env,
		launchers: cfg.Launchers,
		events:    cfg.Events,
		waiters:   make(map[string][]func(ok bool)),
	}
	c.initialized.Store(true)
	return c, nil
}

// Registry exposes the registry the coordinator writes to.
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Env exposes the environment shared by every tree the coordinator builds.
func (c *Coordinator) Env() *proctree.Env {
	return c.env
}

// Lookup returns the current root of a launch.
func (c *Coordinator) Lookup(id string) (*proctree.Node, bool) {
	if c == nil || c.reg == nil {
		return nil, false
	}
	return c.reg.Get(id)
}

// Shutdown waits for deferred launches to settle and returns the
// coordinator to the uninitialized state.
func (c *Coordinator) Shutdown() {
	if c == nil || !c.initialized.CompareAndSwap(true, false) {
		return
	}
	c.pending.Wait()
}

func (c *Coordinator) ready() error {
	if c == nil || !c.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Start launches req.File directly, or with dropped privileges when
// req.AsUser is set.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*Launch, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.File) == "" {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidArgument)
	}
	path, err := filepath.Abs(req.File)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrInvalidArgument, req.File, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileMissing, path, err)
	}

	strategy, launcher := monitor.ReasonDirect, c.launchers.Direct
	if req.AsUser {
		strategy, launcher = monitor.ReasonAsUser, c.launchers.AsUser
	}

	return c.claimAndLaunch(ctx, strategy, path, req.Args, func(ctx context.Context) (int, error) {
		if launcher == nil {
			return 0, fmt.Errorf("no %s launcher configured", strategy)
		}
		return launcher.Launch(ctx, path, req.Args, req.WorkDir, req.AsUser)
	})
}

// StartURI activates info.URI and blocks until the spawned process is
// discovered. Cancelling ctx aborts the wait.
func (c *Coordinator) StartURI(ctx context.Context, info URIStartInfo) (*Launch, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := validateURI(info); err != nil {
		return nil, err
	}

	return c.claimAndLaunch(ctx, monitor.ReasonURI, info.Target, info.Args, func(ctx context.Context) (int, error) {
		if c.launchers.URI == nil {
			return 0, errors.New("no uri launcher configured")
		}
		return c.launchers.URI.LaunchURI(ctx, info)
	})
}

// StartURIDeferred activates info.URI and returns at once with a
// provisional root. done, if non-nil, is called once discovery resolves.
// The provisional root is swapped for the discovered one in the registry,
// so callers should re-read it with Lookup after done(true). When the
// target is already being launched, done reports that launch's outcome.
func (c *Coordinator) StartURIDeferred(ctx context.Context, info URIStartInfo, done func(ok bool)) (*Launch, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := validateURI(info); err != nil {
		return nil, err
	}
	if done == nil {
		done = func(bool) {}
	}

	path := filepath.Clean(info.Target)
	placeholder := proctree.NewPlaceholder(path, info.Args, c.env)
	id, root, existing := c.reg.Claim(ctx, path, c.env.Querier, placeholder)
	if existing {
		c.emitDuplicate(id, root)
		c.await(id, done)
		return &Launch{ID: id, Root: root, Existing: true}, nil
	}

	if c.launchers.DeferredURI == nil {
		return nil, c.fail(id, monitor.ReasonURIDeferred, path, errors.New("no deferred uri launcher configured"))
	}

	var once sync.Once
	c.pending.Add(1)
	release := func() { once.Do(c.pending.Done) }

	err := c.launchers.DeferredURI.LaunchURIDeferred(info, func(pid int, err error) {
		defer release()
		if err != nil {
			_ = c.fail(id, monitor.ReasonURIDeferred, path, err)
			done(false)
			return
		}
		// Discovery outlives the request that started it.
		c.resolve(context.WithoutCancel(ctx), id, monitor.ReasonURIDeferred, pid, path, info.Args)
		done(true)
	})
	if err != nil {
		release()
		return nil, c.fail(id, monitor.ReasonURIDeferred, path, err)
	}
	return &Launch{ID: id, Root: placeholder}, nil
}

// StartPackagedApp activates a packaged application.
func (c *Coordinator) StartPackagedApp(ctx context.Context, req PackageRequest) (*Launch, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Family) == "" {
		return nil, fmt.Errorf("%w: package family is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.AppID) == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidArgument)
	}

	return c.claimAndLaunch(ctx, monitor.ReasonPackage, req.Identity(), req.Args, func(ctx context.Context) (int, error) {
		if c.launchers.Package == nil {
			return 0, errors.New("no package launcher configured")
		}
		return c.launchers.Package.LaunchPackage(ctx, req.Family, req.AppID, req.Args)
	})
}

// GetProcessFromID starts tracking an already running process. A live
// root with the same pid is returned if one is already registered.
func (c *Coordinator) GetProcessFromID(ctx context.Context, pid int) (*Launch, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if pid <= 0 {
		return nil, fmt.Errorf("%w: pid must be positive, got %d", ErrInvalidArgument, pid)
	}

	if entry, ok := c.reg.Find(func(n *proctree.Node) bool {
		return n.ID() == pid && registry.IsLive(ctx, n, c.env.Querier)
	}); ok {
		c.emitDuplicate(entry.ID, entry.Root)
		return &Launch{ID: entry.ID, Root: entry.Root, Existing: true}, nil
	}

	root := proctree.Discover(ctx, pid, c.env)
	if root.State() != proctree.StateAlive {
		metrics.ObserveLaunch(monitor.ReasonAdopt, "failed")
		return nil, fmt.Errorf("%w: process %d is not running", ErrLaunchFailed, pid)
	}
	id := c.reg.Register(root)
	metrics.ObserveLaunch(monitor.ReasonAdopt, "ok")
	c.emitLaunched(id, monitor.ReasonAdopt, root)
	return &Launch{ID: id, Root: root}, nil
}

func (c *Coordinator) claimAndLaunch(ctx context.Context, strategy, path string, args []string, start func(context.Context) (int, error)) (*Launch, error) {
	path = filepath.Clean(path)
	placeholder := proctree.NewPlaceholder(path, args, c.env)
	id, root, existing := c.reg.Claim(ctx, path, c.env.Querier, placeholder)
	if existing {
		c.emitDuplicate(id, root)
		return &Launch{ID: id, Root: root, Existing: true}, nil
	}

	pid, err := start(ctx)
	if err != nil {
		return nil, c.fail(id, strategy, path, err)
	}
	root = c.resolve(ctx, id, strategy, pid, path, args)
	return &Launch{ID: id, Root: root}, nil
}

func (c *Coordinator) resolve(ctx context.Context, id, strategy string, pid int, path string, args []string) *proctree.Node {
	info := proctree.ProcessInfo{
		PID:  pid,
		Name: filepath.Base(path),
		Path: path,
		Args: args,
	}
	root := proctree.Adopt(ctx, info, c.env)
	if !c.reg.Replace(id, root) {
		c.reg.Insert(id, root)
	}
	metrics.ObserveLaunch(strategy, "ok")
	c.emitLaunched(id, strategy, root)
	c.settle(id, true)
	return root
}

func (c *Coordinator) fail(id, strategy, path string, cause error) error {
	c.reg.Remove(id)
	metrics.ObserveLaunch(strategy, "failed")
	err := fmt.Errorf("%w: %s via %s: %w", ErrLaunchFailed, path, strategy, cause)
	monitor.Send(c.events, monitor.Event{
		Tree:    id,
		Path:    path,
		Type:    monitor.EventTypeLaunchFailed,
		Message: "launch failed",
		Reason:  strategy,
		Err:     err,
	})
	c.settle(id, false)
	return err
}

// await calls done with the outcome of the launch occupying slot id: at
// once when the slot is resolved or gone, otherwise when it settles.
func (c *Coordinator) await(id string, done func(ok bool)) {
	c.waitMu.Lock()
	root, ok := c.reg.Get(id)
	if ok && root.IsPlaceholder() {
		c.waiters[id] = append(c.waiters[id], done)
		c.waitMu.Unlock()
		return
	}
	c.waitMu.Unlock()
	c.goPending(func() { done(ok) })
}

// settle reports the outcome of slot id to deferred launches waiting on
// it. The registry must already reflect the outcome.
func (c *Coordinator) settle(id string, ok bool) {
	c.waitMu.Lock()
	waiting := c.waiters[id]
	delete(c.waiters, id)
	c.waitMu.Unlock()
	for _, done := range waiting {
		done(ok)
	}
}

func (c *Coordinator) goPending(fn func()) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		fn()
	}()
}

func (c *Coordinator) emitLaunched(id, strategy string, root *proctree.Node) {
	monitor.Send(c.events, monitor.Event{
		Tree:    id,
		PID:     root.ID(),
		Name:    root.Name(),
		Path:    root.Path(),
		Args:    root.Args(),
		Type:    monitor.EventTypeLaunched,
		Message: fmt.Sprintf("tracking %d process(es)", root.Len()),
		Reason:  strategy,
	})
}

func (c *Coordinator) emitDuplicate(id string, root *proctree.Node) {
	monitor.Send(c.events, monitor.Event{
		Tree:    id,
		PID:     root.ID(),
		Name:    root.Name(),
		Path:    root.Path(),
		Type:    monitor.EventTypeDuplicate,
		Message: "instance already running",
	})
}

func validateURI(info URIStartInfo) error {
	if strings.TrimSpace(info.URI) == "" {
		return fmt.Errorf("%w: uri is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(info.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidArgument)
	}
	return nil
}
