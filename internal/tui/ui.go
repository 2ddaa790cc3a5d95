package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/lineage/internal/api"
	"github.com/Paintersrp/lineage/internal/cliutil"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/proctree"
)

const (
	tableTitle          = "Trees"
	processTitle        = "Processes"
	logsTitle           = "Events"
	mainPageName        = "main"
	filterPageName      = "filter"
	confirmPageName     = "confirm"
	defaultLogRetention = 500
	defaultPollInterval = time.Second
	requestTimeout      = 10 * time.Second
)

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the maximum number of events retained for each tree.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// WithPollInterval sets how often tree snapshots are fetched from the
// controller.
func WithPollInterval(d time.Duration) Option {
	return func(u *UI) {
		if d > 0 {
			u.interval = d
		}
	}
}

// UI coordinates the interactive tree browser backed by tview.
type UI struct {
	app     *tview.Application
	pages   *tview.Pages
	table   *tview.Table
	process *tview.TreeView
	logs    *tview.TextView
	events  chan monitor.Event
	ctrl    api.Controller

	trees map[string]*treeState

	visible    []string
	selected   string
	logsPretty bool
	filter     string
	filterExpr *regexp.Regexp
	focus      int
	selecting  atomic.Bool
	maxLogs    int
	interval   time.Duration

	// queue runs f on the application goroutine and redraws.
	queue func(f func())
	now   func() time.Time

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	ctx      context.Context

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type treeState struct {
	report    api.TreeReport
	lastEvent time.Time
	message   string

	logs []cliutil.LogRecord
}

// New constructs a UI that browses the trees exposed by ctrl.
func New(ctrl api.Controller, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	process := tview.NewTreeView()
	process.SetBorder(true).SetTitle(processTitle)

	logs := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)

	detail := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(process, 0, 1, false).
		AddItem(logs, 0, 1, false)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(detail, 0, 2, false)

	pages := tview.NewPages().AddPage(mainPageName, flex, true, true)

	ui := &UI{
		app:        app,
		pages:      pages,
		table:      table,
		process:    process,
		logs:       logs,
		events:     make(chan monitor.Event, 256),
		ctrl:       ctrl,
		trees:      make(map[string]*treeState),
		logsPretty: true,
		maxLogs:    defaultLogRetention,
		interval:   defaultPollInterval,
		now:        time.Now,
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}
	ui.queue = func(f func()) { app.QueueUpdateDraw(f) }

	for _, opt := range opts {
		opt(ui)
	}

	onSelect := func(row, column int) {
		// Select called from ensureSelectionLocked already holds mu.
		if ui.selecting.Load() {
			return
		}
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderDetailLocked()
	}
	table.SetSelectedFunc(onSelect)
	table.SetSelectionChangedFunc(onSelect)

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

// EventSink exposes the channel where monitor events should be delivered.
func (u *UI) EventSink() chan<- monitor.Event {
	return u.events
}

// CloseEvents releases the event channel, allowing internal goroutines to exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.events)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and processes incoming events until Stop is invoked
// or the provided context is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.ctx = ctx
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) runContext() context.Context {
	u.cancelMu.Lock()
	defer u.cancelMu.Unlock()
	return u.ctx
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	draining := false
	ctxDone := ctx.Done()

	u.poll(ctx)
	for {
		var tick <-chan time.Time
		if !draining {
			tick = ticker.C
		}

		select {
		case <-ctxDone:
			if !draining {
				draining = true
				ticker.Stop()
			}
			ctxDone = nil
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			if draining {
				continue
			}
			u.applyEvent(evt)
		case <-tick:
			if !draining {
				u.poll(ctx)
			}
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if name, _ := u.pages.GetFrontPage(); name != mainPageName {
		return event
	}
	switch event.Key() {
	case tcell.KeyTab:
		u.cycleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		case 'r', 'R':
			if id := u.selectedID(); id != "" {
				go u.refreshTree(u.runContext(), id)
			}
			return nil
		case 'k', 'K':
			if id := u.selectedID(); id != "" {
				u.showKillConfirm(id)
			}
			return nil
		}
	}
	return event
}

func (u *UI) panes() []tview.Primitive {
	return []tview.Primitive{u.table, u.process, u.logs}
}

func (u *UI) cycleFocus() {
	panes := u.panes()
	u.focus = (u.focus + 1) % len(panes)
	u.app.SetFocus(panes[u.focus])
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logsPretty = !u.logsPretty
	u.renderLogsLocked()
}

func (u *UI) selectedID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.selected
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Trees")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) showKillConfirm(id string) {
	u.mu.RLock()
	label := id
	if state := u.trees[id]; state != nil {
		label = fmt.Sprintf("%s (%d process(es))", treeLabel(state.report), state.report.Processes)
	}
	u.mu.RUnlock()

	modal := tview.NewModal().
		SetText("Kill " + label + "?").
		AddButtons([]string{"Kill", "Cancel"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(confirmPageName)
			u.app.SetFocus(u.table)
			if buttonLabel == "Kill" {
				go u.killTree(u.runContext(), id)
			}
		})

	u.pages.AddPage(confirmPageName, modal, true, true)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh(true)
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	// Replace the prompt so pages do not stack.
	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) poll(ctx context.Context) {
	if u.ctrl == nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	list, err := u.ctrl.Trees(reqCtx)
	if err != nil || list == nil {
		return
	}
	u.applyReports(list.Trees)
}

func (u *UI) applyReports(reports []api.TreeReport) {
	u.mu.Lock()
	seen := make(map[string]struct{}, len(reports))
	for _, report := range reports {
		seen[report.ID] = struct{}{}
		state := u.trees[report.ID]
		if state == nil {
			state = &treeState{}
			u.trees[report.ID] = state
		}
		state.report = report
	}
	for id := range u.trees {
		if _, ok := seen[id]; !ok {
			delete(u.trees, id)
		}
	}
	u.mu.Unlock()

	u.queueRefresh(true)
}

func (u *UI) refreshTree(ctx context.Context, id string) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	report, err := u.ctrl.Refresh(reqCtx, id)

	u.mu.Lock()
	if state := u.trees[id]; state != nil {
		if err != nil {
			state.message = fmt.Sprintf("refresh failed: %v", err)
		} else {
			state.report = *report
			state.message = fmt.Sprintf("refreshed: %d/%d alive", report.Alive, report.Processes)
		}
	}
	u.mu.Unlock()

	u.queueRefresh(true)
}

func (u *UI) killTree(ctx context.Context, id string) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	result, err := u.ctrl.Kill(reqCtx, id)

	u.mu.Lock()
	if state := u.trees[id]; state != nil {
		if err != nil {
			state.message = fmt.Sprintf("kill failed: %v", err)
		} else {
			state.message = fmt.Sprintf("kill: %d terminated, %d attempted, %d skipped",
				result.Terminated, result.Attempted, result.Skipped)
		}
	}
	u.mu.Unlock()

	u.queueRefresh(true)
}

func (u *UI) applyEvent(evt monitor.Event) {
	if evt.Tree == "" {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = u.now()
	}

	u.mu.Lock()

	if evt.Type == monitor.EventTypeForgotten {
		delete(u.trees, evt.Tree)
		u.mu.Unlock()
		u.queueRefresh(true)
		return
	}

	state := u.trees[evt.Tree]
	if state == nil {
		state = &treeState{report: api.TreeReport{
			ID:      evt.Tree,
			PID:     evt.PID,
			Name:    evt.Name,
			Path:    evt.Path,
			Pending: evt.PID <= 0,
			Created: evt.Timestamp,
		}}
		u.trees[evt.Tree] = state
	}
	state.lastEvent = evt.Timestamp

	if evt.Type != monitor.EventTypeLog {
		state.message = formatEventMessage(evt)
	}

	state.logs = append(state.logs, cliutil.NewLogRecord(evt))
	if len(state.logs) > u.maxLogs {
		trim := len(state.logs) - u.maxLogs
		state.logs = append([]cliutil.LogRecord(nil), state.logs[trim:]...)
	}

	updateDetail := evt.Tree == u.selected || u.selected == ""
	u.mu.Unlock()

	u.queueRefresh(updateDetail)
}

func (u *UI) queueRefresh(updateDetail bool) {
	u.queue(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateDetail {
			u.renderDetailLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"TREE", "ROOT", "PID", "STATE", "PROCS", "AGE", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	ids := make([]string, 0, len(u.trees))
	for id, state := range u.trees {
		if u.filterExpr != nil && !matchesFilter(u.filterExpr, state.report) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := u.trees[ids[i]].report, u.trees[ids[j]].report
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.ID < b.ID
	})

	u.visible = ids

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	now := u.now()
	for row, id := range ids {
		state := u.trees[id]
		report := state.report
		pid := "-"
		if report.PID > 0 {
			pid = fmt.Sprintf("%d", report.PID)
		}
		procs := "-"
		if report.Processes > 0 {
			procs = fmt.Sprintf("%d/%d", report.Alive, report.Processes)
		}
		message := state.message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{
			shortID(id),
			treeLabel(report),
			pid,
			formatState(report),
			procs,
			cliutil.Age(report.Created, now),
			message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(id)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderDetailLocked() {
	u.renderProcessesLocked()
	u.renderLogsLocked()
}

func (u *UI) renderProcessesLocked() {
	var state *treeState
	if u.selected != "" {
		state = u.trees[u.selected]
	}
	if state == nil {
		u.process.SetRoot(nil).SetCurrentNode(nil)
		u.process.SetTitle(processTitle)
		return
	}

	root := buildProcessTree(state.report.Tree)
	u.process.SetRoot(root).SetCurrentNode(root)
	u.process.SetTitle(fmt.Sprintf("%s (%s)", processTitle, treeLabel(state.report)))
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	var state *treeState
	if u.selected != "" {
		state = u.trees[u.selected]
	}
	if state == nil {
		u.logs.SetTitle(logsTitle)
		return
	}

	u.logs.SetTitle(fmt.Sprintf("%s (%s)", logsTitle, treeLabel(state.report)))

	for _, record := range state.logs {
		var data []byte
		var err error
		if u.logsPretty {
			data, err = json.MarshalIndent(record, "", "  ")
		} else {
			data, err = json.Marshal(record)
		}
		if err != nil {
			fmt.Fprintf(u.logs, "{\"error\":\"%v\"}\n", err)
			continue
		}
		fmt.Fprintf(u.logs, "%s\n", tview.Escape(string(data)))
	}
	u.logs.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	u.selecting.Store(true)
	defer u.selecting.Store(false)

	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := -1
	for i, id := range u.visible {
		if id == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func buildProcessTree(snap proctree.Snapshot) *tview.TreeNode {
	type frame struct {
		snap   proctree.Snapshot
		parent *tview.TreeNode
	}

	root := newProcessNode(snap)
	var stack []frame
	for i := len(snap.Children) - 1; i >= 0; i-- {
		stack = append(stack, frame{snap: snap.Children[i], parent: root})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := newProcessNode(f.snap)
		f.parent.AddChild(node)
		for i := len(f.snap.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{snap: f.snap.Children[i], parent: node})
		}
	}
	return root
}

func newProcessNode(snap proctree.Snapshot) *tview.TreeNode {
	node := tview.NewTreeNode(cliutil.DescribeProcess(snap)).
		SetReference(snap.PID).
		SetSelectable(true)
	switch {
	case snap.State == proctree.StateDead:
		node.SetColor(tcell.ColorGray)
	case snap.Filtered:
		node.SetColor(tcell.ColorDarkCyan)
	}
	return node
}

func matchesFilter(re *regexp.Regexp, report api.TreeReport) bool {
	return re.MatchString(report.ID) || re.MatchString(report.Name) || re.MatchString(report.Path)
}

func treeLabel(report api.TreeReport) string {
	if report.Name != "" {
		return report.Name
	}
	if report.Path != "" {
		return report.Path
	}
	return shortID(report.ID)
}

func formatState(report api.TreeReport) string {
	switch {
	case report.Pending:
		return "Pending"
	case report.Active:
		return "Active"
	case report.Processes == 0 && report.State == "":
		return "-"
	default:
		return "Exited"
	}
}

func formatEventMessage(evt monitor.Event) string {
	message := evt.Message
	if evt.Err != nil {
		errText := cliutil.RedactSecrets(evt.Err.Error())
		if message != "" {
			message = message + ": " + errText
		} else {
			message = errText
		}
	}
	message = cliutil.RedactSecrets(message)
	if evt.Reason != "" {
		if message != "" {
			return fmt.Sprintf("%s (%s)", message, evt.Reason)
		}
		return evt.Reason
	}
	return message
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
