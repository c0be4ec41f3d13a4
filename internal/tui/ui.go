package tui

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/minicars/internal/backend"
)

const (
	tableTitle          = "Backend"
	logsTitle           = "Logs"
	filterPageName      = "filter"
	defaultLogRetention = 500
	refreshInterval     = 250 * time.Millisecond
	actionTimeout       = 30 * time.Second
)

// Actions is what the UI can ask of the host shell. Every call is made off
// the UI goroutine.
type Actions interface {
	EnsureBackendRunning(ctx context.Context) (string, error)
	StopBackend(ctx context.Context) error
	Close(ctx context.Context) <-chan struct{}
	Snapshot() backend.Status
}

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the maximum number of log lines retained.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// UI is a terminal stand-in for the desktop window: it shows the backend
// status and lets the user start and stop it.
type UI struct {
	app     *tview.Application
	pages   *tview.Pages
	table   *tview.Table
	logs    *tview.TextView
	actions Actions

	// redraw schedules f on the UI goroutine. It must not be called from the
	// UI goroutine itself.
	redraw func(f func())

	mu          sync.RWMutex
	lines       []string
	partial     []byte
	logsDirty   bool
	filter      string
	filterExpr  *regexp.Regexp
	lastAction  string
	busy        bool
	logsFocused bool
	maxLogs     int

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	stopOnce sync.Once
	quitOnce sync.Once
	done     chan struct{}
}

// New constructs a UI driving actions.
func New(actions Actions, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(0, 1)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)

	help := tview.NewTextView().SetText(" s: start backend   x: stop backend   /: filter logs   enter: switch pane   q: quit")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 11, 0, true).
		AddItem(logs, 0, 1, false).
		AddItem(help, 1, 0, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:     app,
		pages:   pages,
		table:   table,
		logs:    logs,
		actions: actions,
		maxLogs: defaultLogRetention,
		done:    make(chan struct{}),
	}
	ui.redraw = func(f func()) { app.QueueUpdateDraw(f) }

	for _, opt := range opts {
		opt(ui)
	}

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and refreshes the status table until Stop
// is invoked or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	go u.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()
	u.Stop()
	return err
}

// Stop terminates the application loop.
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

// Write appends log output to the log pane. It never blocks on the UI
// goroutine, so the UI can serve as a logger sink before Run and after Stop.
func (u *UI) Write(p []byte) (int, error) {
	u.mu.Lock()
	data := append(u.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		u.appendLineLocked(strings.TrimRight(string(data[:idx]), "\r"))
		data = data[idx+1:]
	}
	u.partial = append([]byte(nil), data...)
	u.logsDirty = true
	u.mu.Unlock()
	return len(p), nil
}

func (u *UI) appendLineLocked(line string) {
	u.lines = append(u.lines, line)
	if len(u.lines) > u.maxLogs {
		trim := len(u.lines) - u.maxLogs
		u.lines = append([]string(nil), u.lines[trim:]...)
	}
}

func (u *UI) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.mu.Lock()
			dirty := u.logsDirty
			u.logsDirty = false
			u.mu.Unlock()
			u.queueRefresh(dirty)
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayActive() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 's', 'S':
			u.dispatch("start", func(ctx context.Context) (string, error) {
				return u.actions.EnsureBackendRunning(ctx)
			})
			return nil
		case 'x', 'X':
			u.dispatch("stop", func(ctx context.Context) (string, error) {
				if err := u.actions.StopBackend(ctx); err != nil {
					return "", err
				}
				return "backend stopped", nil
			})
			return nil
		case 'q', 'Q':
			go u.quit()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		}
	}
	return event
}

func (u *UI) overlayActive() bool {
	return u.pages.HasPage(filterPageName)
}

// dispatch runs fn on its own goroutine and the refresh loop picks up the
// result. Keys pressed while an action is in flight are ignored.
func (u *UI) dispatch(name string, fn func(context.Context) (string, error)) {
	u.mu.Lock()
	if u.busy {
		u.mu.Unlock()
		return
	}
	u.busy = true
	u.lastAction = name + "..."
	u.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		msg, err := fn(ctx)

		u.mu.Lock()
		u.busy = false
		if err != nil {
			u.lastAction = err.Error()
		} else {
			u.lastAction = msg
		}
		u.mu.Unlock()
	}()
}

// quit stops the backend, then the UI.
func (u *UI) quit() {
	u.quitOnce.Do(func() {
		u.mu.Lock()
		u.lastAction = "closing..."
		u.mu.Unlock()

		<-u.actions.Close(context.Background())
		u.Stop()
	})
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
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

	form.SetBorder(true).SetTitle("Filter Logs")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.renderLogsLocked()
		u.mu.Unlock()
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
	u.renderLogsLocked()
	u.mu.Unlock()
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) queueRefresh(updateLogs bool) {
	u.redraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateLogs {
			u.renderLogsLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	var st backend.Status
	if u.actions != nil {
		st = u.actions.Snapshot()
	}

	uptime := "-"
	if st.State == backend.StateRunning && !st.StartedAt.IsZero() {
		uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
	}
	lastErr := "-"
	if st.ErrorCode != "" {
		lastErr = st.ErrorCode + ": " + st.Error
	}

	rows := [][2]string{
		{"STATE", formatState(st.State)},
		{"PID", formatPID(st.PID)},
		{"URL", orDash(st.URL)},
		{"DIR", orDash(st.Dir)},
		{"SOURCE", orDash(string(st.Source))},
		{"PYTHON", orDash(st.Interpreter)},
		{"UPTIME", uptime},
		{"LAST ERROR", truncate(lastErr, 120)},
		{"ACTION", orDash(u.lastAction)},
	}
	for row, kv := range rows {
		u.table.SetCell(row, 0, tview.NewTableCell(kv[0]).SetAttributes(tcell.AttrBold))
		cell := tview.NewTableCell(kv[1])
		if kv[0] == "STATE" {
			cell.SetTextColor(stateColor(st.State))
		}
		u.table.SetCell(row, 1, cell)
	}
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	if u.filter != "" {
		u.logs.SetTitle(fmt.Sprintf("%s /%s/", logsTitle, u.filter))
	} else {
		u.logs.SetTitle(logsTitle)
	}
	for _, line := range u.lines {
		if u.filterExpr != nil && !u.filterExpr.MatchString(line) {
			continue
		}
		fmt.Fprintln(u.logs, line)
	}
	u.logs.ScrollToEnd()
}

func formatState(s backend.State) string {
	if s == "" {
		return "-"
	}
	str := string(s)
	return strings.ToUpper(str[:1]) + str[1:]
}

func stateColor(s backend.State) tcell.Color {
	switch s {
	case backend.StateRunning:
		return tcell.ColorGreen
	case backend.StateStarting, backend.StateStopping:
		return tcell.ColorYellow
	default:
		return tcell.ColorWhite
	}
}

func formatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
