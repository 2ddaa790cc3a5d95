package proctree

import (
	"context"
	"errors"
	"sync"
)

type fakeProc struct {
	ppid  int
	name  string
	path  string
	args  []string
	alive bool
}

// fakeOS is an in-memory process table implementing every collaborator.
type fakeOS struct {
	mu        sync.Mutex
	procs     map[int]*fakeProc
	queryErr  map[int]error
	termErr   map[int]error
	termCalls []termCall
	queries   int
}

type termCall struct {
	pid         int
	force       bool
	descendants bool
}

func newFakeOS() *fakeOS {
	return &fakeOS{
		procs:    make(map[int]*fakeProc),
		queryErr: make(map[int]error),
		termErr:  make(map[int]error),
	}
}

func (f *fakeOS) spawn(pid, ppid int, name, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = &fakeProc{ppid: ppid, name: name, path: path, alive: true}
}

func (f *fakeOS) exit(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

func (f *fakeOS) env() *Env {
	return &Env{Querier: f, Resolver: f, Enumerator: f, Terminator: f}
}

func (f *fakeOS) Query(_ context.Context, pid int) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err := f.queryErr[pid]; err != nil {
		return Status{}, err
	}
	p, ok := f.procs[pid]
	if !ok {
		return Status{}, nil
	}
	return Status{Exists: true, Alive: p.alive, Name: p.name}, nil
}

func (f *fakeOS) Resolve(_ context.Context, pid int) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return Metadata{}, errors.New("no such process")
	}
	return Metadata{Path: p.path, Args: p.args}, nil
}

func (f *fakeOS) Processes(context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]Entry, 0, len(f.procs))
	for pid, p := range f.procs {
		entries = append(entries, Entry{PID: pid, PPID: p.ppid, Name: p.name})
	}
	return entries, nil
}

func (f *fakeOS) Terminate(_ context.Context, pid int, force, descendants bool) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.termCalls = append(f.termCalls, termCall{pid: pid, force: force, descendants: descendants})
	if err := f.termErr[pid]; err != nil {
		return Output{}, err
	}
	if _, ok := f.procs[pid]; !ok {
		return Output{Stderr: "process not found"}, nil
	}
	delete(f.procs, pid)
	return Output{Stdout: "terminated"}, nil
}

func (f *fakeOS) terminated() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pids := make([]int, 0, len(f.termCalls))
	for _, call := range f.termCalls {
		pids = append(pids, call.pid)
	}
	return pids
}

// buildTree returns 1 -> 2 -> {3, 4}, all Alive.
func buildTree(env *Env) (root, mid, leafA, leafB *Node) {
	root = NewNode(ProcessInfo{PID: 1, Name: "launcher", Path: "/opt/game/launcher"}, StateAlive, env)
	mid = NewNode(ProcessInfo{PID: 2, Name: "game", Path: "/opt/game/game"}, StateAlive, env)
	leafA = NewNode(ProcessInfo{PID: 3, Name: "worker", Path: "/opt/game/worker"}, StateAlive, env)
	leafB = NewNode(ProcessInfo{PID: 4, Name: "renderer", Path: "/opt/game/renderer"}, StateAlive, env)
	root.AddChild(mid)
	mid.AddChild(leafA)
	mid.AddChild(leafB)
	return root, mid, leafA, leafB
}
