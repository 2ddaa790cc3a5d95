package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/lineage/internal/api"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/proctree"
)

type fakeController struct {
	mu      sync.Mutex
	trees   []api.TreeReport
	killed  []string
	killErr error
}

func (f *fakeController) Trees(context.Context) (*api.ListReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &api.ListReport{Trees: append([]api.TreeReport(nil), f.trees...)}, nil
}

func (f *fakeController) Tree(_ context.Context, id string) (*api.TreeReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if tree.ID == id {
			report := tree
			return &report, nil
		}
	}
	return nil, api.ErrUnknownTree
}

func (f *fakeController) Refresh(ctx context.Context, id string) (*api.TreeReport, error) {
	return f.Tree(ctx, id)
}

func (f *fakeController) Kill(_ context.Context, id string) (*api.KillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	if f.killErr != nil {
		return nil, f.killErr
	}
	return &api.KillResult{Tree: id, Terminated: 2, Skipped: 1}, nil
}

func (f *fakeController) Launch(context.Context, api.LaunchRequest) (*api.LaunchResult, error) {
	return nil, api.ErrUnsupportedKind
}

func newTestUI(t *testing.T, ctrl api.Controller) *UI {
	t.Helper()
	ui := New(ctrl)
	ui.queue = func(f func()) { f() }
	ui.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return ui
}

func sampleReport(id string) api.TreeReport {
	return api.TreeReport{
		ID:        id,
		PID:       100,
		Name:      "launcher",
		Path:      "/opt/game/launcher",
		State:     proctree.StateAlive,
		Active:    true,
		Processes: 2,
		Alive:     2,
		Created:   time.Date(2024, 1, 1, 11, 58, 0, 0, time.UTC),
		Tree: proctree.Snapshot{
			PID:   100,
			Name:  "launcher",
			State: proctree.StateAlive,
			Children: []proctree.Snapshot{
				{PID: 101, Name: "game", State: proctree.StateAlive},
			},
		},
	}
}

func TestHandleKeyRespectsOverlayFocus(t *testing.T) {
	ui := newTestUI(t, &fakeController{})
	ui.app.SetFocus(ui.table)

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := ui.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed when table focused")
	}

	if _, ok := ui.app.GetFocus().(*tview.InputField); !ok {
		t.Fatalf("expected filter input to have focus, got %T", ui.app.GetFocus())
	}

	tab := tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)
	if res := ui.handleKey(tab); res != tab {
		t.Fatalf("expected Tab to bypass global handler when overlay focused")
	}

	runeEvent := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if res := ui.handleKey(runeEvent); res != runeEvent {
		t.Fatalf("expected rune to bypass global handler when overlay focused")
	}

	ui.pages.RemovePage(filterPageName)
	ui.app.SetFocus(ui.table)

	other := tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	if res := ui.handleKey(other); res != other {
		t.Fatalf("expected unbound rune to pass through when table focused")
	}
}

func TestHandleKeyCyclesFocus(t *testing.T) {
	ui := newTestUI(t, &fakeController{})
	ui.app.SetFocus(ui.table)

	tab := tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)
	want := []tview.Primitive{ui.process, ui.logs, ui.table}
	for i, pane := range want {
		if res := ui.handleKey(tab); res != nil {
			t.Fatalf("expected Tab to be consumed")
		}
		if ui.app.GetFocus() != pane {
			t.Fatalf("step %d: unexpected focus %T", i, ui.app.GetFocus())
		}
	}
}

func TestApplyReportsRendersTableAndProcesses(t *testing.T) {
	ui := newTestUI(t, &fakeController{})
	ui.applyReports([]api.TreeReport{sampleReport("0f4c2a9e-aaaa")})

	if got := ui.table.GetCell(1, 0).Text; got != "0f4c2a9e" {
		t.Fatalf("unexpected tree id cell %q", got)
	}
	if got := ui.table.GetCell(1, 3).Text; got != "Active" {
		t.Fatalf("unexpected state cell %q", got)
	}
	if got := ui.table.GetCell(1, 4).Text; got != "2/2" {
		t.Fatalf("unexpected process count cell %q", got)
	}
	if got := ui.table.GetCell(1, 5).Text; got != "2 minutes" {
		t.Fatalf("unexpected age cell %q", got)
	}

	root := ui.process.GetRoot()
	if root == nil {
		t.Fatalf("expected process tree for selected tree")
	}
	if got := root.GetText(); got != "100 launcher (alive)" {
		t.Fatalf("unexpected root text %q", got)
	}
	children := root.GetChildren()
	if len(children) != 1 || children[0].GetReference() != 101 {
		t.Fatalf("unexpected children %v", children)
	}

	ui.applyReports(nil)
	if ui.table.GetRowCount() != 1 || ui.selectedID() != "" {
		t.Fatalf("expected vanished trees to be dropped")
	}
}

func TestApplyEventTracksMessagesAndForgetting(t *testing.T) {
	ui := newTestUI(t, &fakeController{})

	ui.applyEvent(monitor.Event{Type: monitor.EventTypeLog, Message: "no tree"})
	if len(ui.trees) != 0 {
		t.Fatalf("events without a tree should be ignored")
	}

	ui.applyEvent(monitor.Event{
		Tree:    "t1",
		PID:     7,
		Name:    "game",
		Type:    monitor.EventTypeLaunched,
		Message: "tracking 1 process(es)",
		Reason:  monitor.ReasonDirect,
	})
	ui.applyEvent(monitor.Event{Tree: "t1", PID: 7, Type: monitor.EventTypeLog, Message: "stdout line"})

	state := ui.trees["t1"]
	if state == nil {
		t.Fatalf("expected tree state from event")
	}
	if got, want := state.message, "tracking 1 process(es) (direct)"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
	if len(state.logs) != 2 {
		t.Fatalf("expected both events retained, got %d", len(state.logs))
	}
	if got := ui.table.GetCell(1, 1).Text; got != "game" {
		t.Fatalf("unexpected root cell %q", got)
	}

	ui.applyEvent(monitor.Event{Tree: "t1", Type: monitor.EventTypeForgotten})
	if _, ok := ui.trees["t1"]; ok {
		t.Fatalf("expected forgotten tree to be removed")
	}
}

func TestApplyEventTrimsLogs(t *testing.T) {
	ui := newTestUI(t, &fakeController{})
	ui.maxLogs = 2
	for i := 0; i < 5; i++ {
		ui.applyEvent(monitor.Event{Tree: "t1", Type: monitor.EventTypeLog, Message: "line"})
	}
	if got := len(ui.trees["t1"].logs); got != 2 {
		t.Fatalf("expected logs trimmed to 2, got %d", got)
	}
}

func TestFilterHidesTrees(t *testing.T) {
	ui := newTestUI(t, &fakeController{})
	other := sampleReport("b-tree")
	other.Name = "browser"
	other.Path = "/usr/bin/browser"
	ui.applyReports([]api.TreeReport{sampleReport("a-tree"), other})

	ui.applyFilter("brow")
	if len(ui.visible) != 1 || ui.visible[0] != "b-tree" {
		t.Fatalf("expected only browser visible, got %v", ui.visible)
	}
	if ui.selectedID() != "b-tree" {
		t.Fatalf("expected selection to follow filter, got %q", ui.selectedID())
	}

	ui.applyFilter("")
	if len(ui.visible) != 2 {
		t.Fatalf("expected filter cleared, got %v", ui.visible)
	}
}

func TestKillTreeRecordsOutcome(t *testing.T) {
	ctrl := &fakeController{trees: []api.TreeReport{sampleReport("t1")}}
	ui := newTestUI(t, ctrl)
	ui.poll(context.Background())

	ui.killTree(context.Background(), "t1")
	if len(ctrl.killed) != 1 || ctrl.killed[0] != "t1" {
		t.Fatalf("expected kill for t1, got %v", ctrl.killed)
	}
	if got, want := ui.trees["t1"].message, "kill: 2 terminated, 0 attempted, 1 skipped"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}

	ctrl.killErr = errors.New("boom")
	ui.killTree(context.Background(), "t1")
	if got, want := ui.trees["t1"].message, "kill failed: boom"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
}

func TestFormatEventMessage(t *testing.T) {
	tests := []struct {
		name string
		evt  monitor.Event
		want string
	}{
		{
			name: "message only",
			evt:  monitor.Event{Message: "process exited"},
			want: "process exited",
		},
		{
			name: "error only",
			evt:  monitor.Event{Err: errors.New("exec format error")},
			want: "exec format error",
		},
		{
			name: "message and error",
			evt:  monitor.Event{Message: "launch failed", Err: errors.New("exit status 1")},
			want: "launch failed: exit status 1",
		},
		{
			name: "message and reason",
			evt:  monitor.Event{Message: "all processes exited", Reason: monitor.ReasonPoll},
			want: "all processes exited (poll)",
		},
		{
			name: "reason only",
			evt:  monitor.Event{Reason: monitor.ReasonKill},
			want: "kill",
		},
		{
			name: "redacts secrets",
			evt:  monitor.Event{Message: "opening ${STEAM_TOKEN}"},
			want: "opening ${[redacted]}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEventMessage(tt.evt); got != tt.want {
				t.Fatalf("formatEventMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
