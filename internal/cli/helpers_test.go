package cli

import (
	"bytes"
	stdcontext "context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Paintersrp/lineage/internal/config"
	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/proctree"
)

type tableProc struct {
	ppid int
	name string
	path string
}

// procTable is an in-memory process table implementing the proctree
// collaborators and a direct launcher.
type procTable struct {
	mu      sync.Mutex
	procs   map[int]tableProc
	nextPID int
	killed  []int
}

func newProcTable() *procTable {
	return &procTable{procs: make(map[int]tableProc), nextPID: 1000}
}

func (p *procTable) spawn(pid, ppid int, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.procs[pid] = tableProc{ppid: ppid, name: name}
}

func (p *procTable) alive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.procs[pid]
	return ok
}

func (p *procTable) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

func (p *procTable) Query(_ stdcontext.Context, pid int) (proctree.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.procs[pid]
	if !ok {
		return proctree.Status{}, nil
	}
	return proctree.Status{Exists: true, Alive: true, Name: proc.name}, nil
}

func (p *procTable) Processes(stdcontext.Context) ([]proctree.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]proctree.Entry, 0, len(p.procs))
	for pid, proc := range p.procs {
		out = append(out, proctree.Entry{PID: pid, PPID: proc.ppid, Name: proc.name})
	}
	return out, nil
}

func (p *procTable) Resolve(_ stdcontext.Context, pid int) (proctree.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return proctree.Metadata{Path: p.procs[pid].path}, nil
}

func (p *procTable) Terminate(_ stdcontext.Context, pid int, _, _ bool) (proctree.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.procs[pid]; !ok {
		return proctree.Output{Stderr: fmt.Sprintf("process %d not found", pid)}, nil
	}
	delete(p.procs, pid)
	p.killed = append(p.killed, pid)
	return proctree.Output{Stdout: fmt.Sprintf("killed %d", pid)}, nil
}

func (p *procTable) Launch(_ stdcontext.Context, file string, _ []string, _ string, _ bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextPID++
	p.procs[p.nextPID] = tableProc{ppid: 1, name: filepath.Base(file), path: file}
	return p.nextPID, nil
}

// LaunchURIDeferred spawns info.Target in the background, or reports a
// discovery failure for fail:// URIs.
func (p *procTable) LaunchURIDeferred(info launch.URIStartInfo, discovered func(int, error)) error {
	go func() {
		if strings.HasPrefix(info.URI, "fail://") {
			discovered(0, fmt.Errorf("%s never appeared", info.Target))
			return
		}
		pid, err := p.Launch(stdcontext.Background(), info.Target, info.Args, "", false)
		discovered(pid, err)
	}()
	return nil
}

func (p *procTable) env(cfg *config.Config) *proctree.Env {
	return &proctree.Env{
		Querier:       p,
		Resolver:      p,
		Enumerator:    p,
		Terminator:    p,
		Filters:       cfg.Filters,
		KillWhitelist: cfg.KillWhitelist,
		DeepKill:      cfg.DeepKill,
	}
}

func (p *procTable) launchers(*config.Config, *proctree.Env, chan<- monitor.Event) launch.Launchers {
	return launch.Launchers{Direct: p, AsUser: p, DeferredURI: p}
}

// newTestSupervisor starts a supervisor over table and stops it when the
// test ends.
func newTestSupervisor(t *testing.T, table *procTable, cfg *config.Config) *supervisor {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	sup, err := newSupervisor(supervisorConfig{
		Config:       cfg,
		Env:          table.env(cfg),
		NewLaunchers: table.launchers,
	})
	if err != nil {
		t.Fatalf("newSupervisor: %v", err)
	}
	sup.start(stdcontext.Background())
	t.Cleanup(sup.close)
	return sup
}

// syncBuffer guards a bytes.Buffer shared by the command and the event
// printer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// newTestRoot builds the root command with the in-memory process table and
// an empty configuration file.
func newTestRoot(t *testing.T, table *procTable) (*syncBuffer, *syncBuffer, func(args ...string) error) {
	t.Helper()
	cfgPath := writeConfigFile(t, "")
	var stdout, stderr syncBuffer
	run := func(args ...string) error {
		root, ctx := newRootCommand()
		ctx.newEnv = table.env
		ctx.newLaunchers = table.launchers
		root.SetOut(&stdout)
		root.SetErr(&stderr)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		return root.ExecuteContext(stdcontext.Background())
	}
	return &stdout, &stderr, run
}
