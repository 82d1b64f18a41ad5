package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mickamy/kvrelay/clipboard"
)

type viewMode int

const (
	viewList viewMode = iota
	viewInspect
	viewExec
	viewAnalytics
)

type sortMode int

const (
	sortChronological sortMode = iota
	sortKey
)

type rowKind int

const (
	rowEvent rowKind = iota
	rowConnSummary
)

type displayRow struct {
	kind     rowKind
	eventIdx int    // rowEvent: index into Model.events
	connID   string // rowConnSummary: connection ID
	events   []int  // rowConnSummary: indices of all events on this connection (order preserved)
}

// Model is the Bubble Tea model for the kvrelay TUI.
type Model struct {
	adminTarget  string
	serverTarget string // data-plane address for the execute view; "" disables it
	stream       *stream

	events       []Event
	cursor       int // index into displayRows
	follow       bool
	width        int
	height       int
	err          error
	view         viewMode
	collapsed    map[string]bool
	displayRows  []displayRow
	connColorMap map[string]lipgloss.Color

	searchMode   bool
	searchQuery  string
	searchCursor int
	filterMode   bool
	filterQuery  string
	filterCursor int
	sortMode     sortMode

	inspectScroll int

	execInput  string
	execOutput string
	execErr    error
	execScroll int

	analyticsRows     []analyticsRow
	analyticsCursor   int
	analyticsHScroll  int
	analyticsSortMode analyticsSortMode

	alertText string
}

// eventMsg carries a received Event from the admin feed.
type eventMsg struct{ Event Event }

// errMsg carries an error from the admin feed connection.
type errMsg struct{ Err error }

// connectedMsg is sent after successfully opening the admin event feed.
type connectedMsg struct{ stream *stream }

type execResultMsg struct {
	input  string
	output string
	err    error
}

type clearAlertMsg struct{}

// New creates a new Model. adminTarget is the admin HTTP address the
// event feed is read from; serverTarget is the data-plane address used
// by the execute view, or "" to disable it.
func New(adminTarget, serverTarget string) Model {
	return Model{
		adminTarget:  adminTarget,
		serverTarget: serverTarget,
		follow:       true,
		collapsed:    make(map[string]bool),
	}
}

// Init opens the admin event feed.
func (m Model) Init() tea.Cmd {
	return connect(m.adminTarget)
}

func connect(target string) tea.Cmd {
	return func() tea.Msg {
		s, err := dialStream(target)
		if err != nil {
			return errMsg{Err: err}
		}
		return connectedMsg{stream: s}
	}
}

func recvEvent(s *stream) tea.Cmd {
	return func() tea.Msg {
		ev, err := s.recv()
		if err != nil {
			return errMsg{Err: err}
		}
		return eventMsg{Event: ev}
	}
}

func (m Model) showAlert(text string) (tea.Model, tea.Cmd) {
	m.alertText = text
	return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return clearAlertMsg{}
	})
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case connectedMsg:
		m.stream = msg.stream
		return m, recvEvent(msg.stream)

	case eventMsg:
		m.events = append(m.events, msg.Event)
		if m.view != viewList {
			return m, recvEvent(m.stream)
		}
		m = m.rebuild()
		if m.follow {
			m.cursor = max(len(m.displayRows)-1, 0)
		}
		return m, recvEvent(m.stream)

	case errMsg:
		m.err = msg.Err
		return m, nil

	case execResultMsg:
		m.view = viewExec
		m.execInput = msg.input
		m.execOutput = msg.output
		m.execErr = msg.err
		m.execScroll = 0
		return m, nil

	case editorResultMsg:
		if msg.err != nil {
			return m.showAlert("editor: " + msg.err.Error())
		}
		if msg.input == "" {
			return m, nil // canceled
		}
		return m.startExec(msg.input)

	case clearAlertMsg:
		m.alertText = ""
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case viewInspect:
			return m.updateInspect(msg)
		case viewExec:
			return m.updateExec(msg)
		case viewAnalytics:
			return m.updateAnalytics(msg)
		case viewList:
			return m.updateList(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	if m.err != nil {
		return friendlyError(m.err, m.width)
	}

	if len(m.events) == 0 {
		return "Waiting for commands..."
	}

	switch m.view {
	case viewInspect:
		return m.renderInspector()
	case viewExec:
		return m.renderExec()
	case viewAnalytics:
		return m.renderAnalytics()
	case viewList:
	}

	var footer string
	switch {
	case m.searchMode:
		footer = "  / " + renderInputWithCursor(m.searchQuery, m.searchCursor)
	case m.filterMode:
		footer = "  filter: " + renderInputWithCursor(m.filterQuery, m.filterCursor)
	default:
		items := []string{
			"q: quit", "j/k: navigate", "space: toggle conn",
			"enter: inspect", "a: analytics",
			"c/C: copy", "x: re-run", "e: compose",
			"o/O: export", "/: search", "f: filter", "s: sort",
		}
		footer = wrapFooterItems(items, m.width)
		if m.filterQuery != "" {
			footer += "\n  " + fmt.Sprintf("[filter: %s]", describeFilter(m.filterQuery))
		}
		if m.searchQuery != "" || m.filterQuery != "" {
			footer += "  esc: clear"
		}
		if m.sortMode == sortKey {
			footer += "  [sorted: key]"
		}
		if m.alertText != "" {
			footer += "\n  " + lipgloss.NewStyle().Bold(true).Render(m.alertText)
		}
	}

	footerLines := strings.Count(footer, "\n") + 1
	listHeight := m.listHeight(footerLines)

	return strings.Join([]string{
		m.renderList(listHeight),
		m.renderPreview(),
		footer,
	}, "\n")
}

func (m Model) listHeight(footerLines int) int {
	// 12 = header border (1) + preview box (~8-9 lines) + footer (1) + padding.
	// Adjust by extra footer lines beyond the default 1.
	extra := max(footerLines-1, 0)
	return max(m.height-12-extra, 3)
}

// rebuild recomputes displayRows and connColorMap from the current
// events, filter, search, and sort settings.
func (m Model) rebuild() Model {
	m.displayRows, m.connColorMap = m.rebuildDisplayRows()
	return m
}

func (m Model) rebuildDisplayRows() ([]displayRow, map[string]lipgloss.Color) {
	matchedEvents := matchingEventsFiltered(m.events, m.filterQuery, m.searchQuery)

	active := m.filterQuery != "" || m.searchQuery != ""
	// When filtering or sorting by key, show flat list (no conn grouping).
	if active || m.sortMode == sortKey {
		var rows []displayRow
		colorMap := make(map[string]lipgloss.Color)
		connCount := 0
		for i, ev := range m.events {
			if !matchedEvents[i] {
				continue
			}
			if ev.ConnID != "" {
				if _, ok := colorMap[ev.ConnID]; !ok {
					colorMap[ev.ConnID] = connColors[connCount%len(connColors)]
					connCount++
				}
			}
			rows = append(rows, displayRow{
				kind:     rowEvent,
				eventIdx: i,
			})
		}
		if m.sortMode == sortKey {
			sort.SliceStable(rows, func(a, b int) bool {
				return m.events[rows[a].eventIdx].Key < m.events[rows[b].eventIdx].Key
			})
		}
		return rows, colorMap
	}

	var rows []displayRow
	seenConn := make(map[string]bool)
	colorMap := make(map[string]lipgloss.Color)
	connCount := 0

	for i := range m.events {
		ev := m.events[i]
		connID := ev.ConnID

		switch {
		case connID != "" && !seenConn[connID]:
			seenConn[connID] = true
			colorMap[connID] = connColors[connCount%len(connColors)]
			connCount++
			// Collect all events on this connection.
			var indices []int
			for j := range m.events {
				if m.events[j].ConnID == connID {
					indices = append(indices, j)
				}
			}
			rows = append(rows, displayRow{
				kind:   rowConnSummary,
				connID: connID,
				events: indices,
			})
			if !m.collapsed[connID] {
				for _, j := range indices {
					rows = append(rows, displayRow{
						kind:     rowEvent,
						eventIdx: j,
					})
				}
			}
		case connID != "" && seenConn[connID]:
			// Already handled by summary — skip.
		default:
			// Event with no connection tag.
			rows = append(rows, displayRow{
				kind:     rowEvent,
				eventIdx: i,
			})
		}
	}

	return rows, colorMap
}

// matchingEventsFiltered returns a set of event indices that pass both the structured
// filter (filterQuery) and the text search (searchQuery). Either may be empty.
func matchingEventsFiltered(events []Event, filterQuery, searchQuery string) map[int]bool {
	matched := make(map[int]bool, len(events))

	var filterConds []filterCondition
	if filterQuery != "" {
		filterConds = parseFilter(filterQuery)
	}
	searchLower := strings.ToLower(searchQuery)

	for i, ev := range events {
		if len(filterConds) > 0 && !matchAllConditions(ev, filterConds) {
			continue
		}
		if searchLower != "" && !strings.Contains(strings.ToLower(ev.commandText()), searchLower) {
			continue
		}
		matched[i] = true
	}
	return matched
}

// connMutationCount returns the number of mutating events on a connection.
func (m Model) connMutationCount(indices []int) int {
	n := 0
	for _, idx := range indices {
		if m.events[idx].Mutated {
			n++
		}
	}
	return n
}

// connWallDuration returns the wall-clock span from the first to the
// last event on a connection.
func (m Model) connWallDuration(indices []int) time.Duration {
	if len(indices) == 0 {
		return 0
	}
	first := m.events[indices[0]]
	last := m.events[indices[len(indices)-1]]
	return last.Time.Sub(first.Time)
}

// cursorConnID returns the connection ID for the current cursor row, or
// "" if not connection-related.
func (m Model) cursorConnID() string {
	if m.cursor < 0 || m.cursor >= len(m.displayRows) {
		return ""
	}
	dr := m.displayRows[m.cursor]
	switch dr.kind {
	case rowConnSummary:
		return dr.connID
	case rowEvent:
		return m.events[dr.eventIdx].ConnID
	}
	return ""
}

// isConnChild returns true if the display row at index drIdx is an event
// that belongs to a connection summary.
func (m Model) isConnChild(drIdx int) bool {
	if drIdx < 0 || drIdx >= len(m.displayRows) {
		return false
	}
	dr := m.displayRows[drIdx]
	if dr.kind != rowEvent {
		return false
	}
	return m.events[dr.eventIdx].ConnID != ""
}

// cursorEvent returns the Event at the cursor, or nil for summary rows.
func (m Model) cursorEvent() *Event {
	if m.cursor < 0 || m.cursor >= len(m.displayRows) {
		return nil
	}
	dr := m.displayRows[m.cursor]
	if dr.kind != rowEvent {
		return nil
	}
	return &m.events[dr.eventIdx]
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searchMode {
		return m.updateSearch(msg)
	}
	if m.filterMode {
		return m.updateFilter(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return m, tea.Quit
	case "enter":
		if len(m.displayRows) > 0 {
			m.view = viewInspect
			m.inspectScroll = 0
		}
		return m, nil
	case "x":
		return m.startRerun()
	case "e":
		return m.startCompose()
	case "c", "C":
		return m.copyCommand(msg.String() == "C")
	case "o", "O":
		return m.export(exportFormatFromKey(msg.String()))
	case "/":
		m.searchMode = true
		m.searchQuery = ""
		m.searchCursor = 0
		return m, nil
	case "f":
		m.filterMode = true
		m.filterQuery = ""
		m.filterCursor = 0
		return m, nil
	case "s":
		return m.toggleSort(), nil
	case "a":
		return m.enterAnalytics(), nil
	case "esc":
		return m.clearFilter(), nil
	case " ":
		return m.toggleConn(), nil
	case "j", "down":
		return m.navigateCursor(msg.String()), nil
	case "k", "up":
		return m.navigateCursor(msg.String()), nil
	case "ctrl+d", "pgdown":
		return m.pageScroll(msg.String()), nil
	case "ctrl+u", "pgup":
		return m.pageScroll(msg.String()), nil
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		return m, nil
	case "esc":
		m.searchMode = false
		m.searchQuery = ""
		m = m.rebuild()
		m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
		return m, nil
	case "backspace":
		if m.searchCursor > 0 {
			runes := []rune(m.searchQuery)
			m.searchQuery = string(runes[:m.searchCursor-1]) + string(runes[m.searchCursor:])
			m.searchCursor--
			m = m.rebuild()
			m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
		}
		return m, nil
	case "ctrl+c":
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return m, tea.Quit
	case "left":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil
	case "right":
		if m.searchCursor < len([]rune(m.searchQuery)) {
			m.searchCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	// Ignore non-printable keys.
	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}

	runes := []rune(m.searchQuery)
	m.searchQuery = string(runes[:m.searchCursor]) + string(r) + string(runes[m.searchCursor:])
	m.searchCursor += len(r)
	m = m.rebuild()
	m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filterMode = false
		return m, nil
	case "esc":
		m.filterMode = false
		m.filterQuery = ""
		m = m.rebuild()
		m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
		return m, nil
	case "backspace":
		if m.filterCursor > 0 {
			runes := []rune(m.filterQuery)
			m.filterQuery = string(runes[:m.filterCursor-1]) + string(runes[m.filterCursor:])
			m.filterCursor--
			m = m.rebuild()
			m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
		}
		return m, nil
	case "ctrl+c":
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return m, tea.Quit
	case "left":
		if m.filterCursor > 0 {
			m.filterCursor--
		}
		return m, nil
	case "right":
		if m.filterCursor < len([]rune(m.filterQuery)) {
			m.filterCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	// Ignore non-printable keys.
	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}

	runes := []rune(m.filterQuery)
	m.filterQuery = string(runes[:m.filterCursor]) + string(r) + string(runes[m.filterCursor:])
	m.filterCursor += len(r)
	m = m.rebuild()
	m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
	return m, nil
}

func (m Model) toggleConn() Model {
	connID := m.cursorConnID()
	if connID == "" {
		return m
	}
	m.collapsed[connID] = !m.collapsed[connID]
	m = m.rebuild()
	for i, r := range m.displayRows {
		if r.kind == rowConnSummary && r.connID == connID {
			m.cursor = i
			break
		}
	}
	return m
}

func (m Model) pageScroll(key string) Model {
	half := max(m.listHeight(1)/2, 1)
	switch key {
	case "ctrl+d", "pgdown":
		m.cursor = min(m.cursor+half, max(len(m.displayRows)-1, 0))
		if len(m.displayRows) > 0 && m.cursor == len(m.displayRows)-1 {
			m.follow = true
		}
	case "ctrl+u", "pgup":
		m.cursor = max(m.cursor-half, 0)
		m.follow = false
	}
	return m
}

func (m Model) navigateCursor(key string) Model {
	switch key {
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
			m.follow = false
		}
	case "j", "down":
		if len(m.displayRows) > 0 && m.cursor < len(m.displayRows)-1 {
			m.cursor++
		}
		if len(m.displayRows) > 0 && m.cursor == len(m.displayRows)-1 {
			m.follow = true
		}
	}
	return m
}

func (m Model) copyCommand(withValue bool) (tea.Model, tea.Cmd) {
	ev := m.cursorEvent()
	if ev == nil {
		return m, nil
	}
	text := ev.Op + " " + ev.Key
	if withValue {
		text = ev.commandText()
	}
	_ = clipboard.Copy(context.Background(), text)
	return m.showAlert("copied!")
}

func (m Model) toggleSort() Model {
	switch m.sortMode {
	case sortChronological:
		m.sortMode = sortKey
		m.follow = false
	case sortKey:
		m.sortMode = sortChronological
	}
	m = m.rebuild()
	m.cursor = 0
	return m
}

func (m Model) enterAnalytics() Model {
	m.analyticsRows = m.buildAnalyticsRows()
	sortAnalyticsRows(m.analyticsRows, m.analyticsSortMode)
	m.analyticsCursor = 0
	m.analyticsHScroll = 0
	m.view = viewAnalytics
	return m
}

func (m Model) clearFilter() Model {
	changed := false
	if m.searchQuery != "" {
		m.searchQuery = ""
		changed = true
	}
	if m.filterQuery != "" {
		m.filterQuery = ""
		changed = true
	}
	if changed {
		m = m.rebuild()
		m.cursor = min(m.cursor, max(len(m.displayRows)-1, 0))
	}
	return m
}

func exportFormatFromKey(key string) exportFormat {
	if key == "O" {
		return exportMarkdown
	}
	return exportJSON
}

func (m Model) export(format exportFormat) (tea.Model, tea.Cmd) {
	path, err := writeExport(m.events, m.filterQuery, m.searchQuery, format, "")
	if err != nil {
		return m.showAlert("export failed: " + err.Error())
	}
	return m.showAlert("exported to " + path)
}

// startRerun re-sends the cursor event's command to the server.
func (m Model) startRerun() (tea.Model, tea.Cmd) {
	ev := m.cursorEvent()
	if ev == nil {
		return m, nil
	}
	return m.startExec(ev.commandText())
}

// startCompose opens $EDITOR pre-filled with the cursor event's command
// (or a template) for editing, then executes the result.
func (m Model) startCompose() (tea.Model, tea.Cmd) {
	initial := "set key value"
	if ev := m.cursorEvent(); ev != nil {
		initial = ev.commandText()
	}
	return m, openEditor(initial)
}

func (m Model) startExec(input string) (tea.Model, tea.Cmd) {
	if m.serverTarget == "" {
		return m.showAlert("no server address configured (-server)")
	}
	m.view = viewExec
	m.execInput = input
	m.execOutput = ""
	m.execErr = nil
	m.execScroll = 0
	return m, runCommand(m.serverTarget, input)
}
