package tui

import (
	"context"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mickamy/kvrelay/clipboard"
	"github.com/mickamy/kvrelay/highlight"
)

func (m Model) updateInspect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return m, tea.Quit
	case "q":
		m.view = viewList
		m = m.rebuild()
		if m.follow {
			m.cursor = max(len(m.displayRows)-1, 0)
		}
		return m, nil
	case "x":
		return m.startRerun()
	case "e":
		return m.startCompose()
	case "c":
		ev := m.cursorEvent()
		if ev == nil {
			return m, nil
		}
		_ = clipboard.Copy(context.Background(), ev.Op+" "+ev.Key)
		return m, nil
	case "C":
		ev := m.cursorEvent()
		if ev == nil {
			return m, nil
		}
		_ = clipboard.Copy(context.Background(), ev.commandText())
		return m, nil
	case "j", "down":
		maxScroll := max(len(m.inspectLines())-m.inspectVisibleRows(), 0)
		if m.inspectScroll < maxScroll {
			m.inspectScroll++
		}
		return m, nil
	case "k", "up":
		if m.inspectScroll > 0 {
			m.inspectScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m Model) inspectLines() []string {
	if m.cursor < 0 || m.cursor >= len(m.displayRows) {
		return nil
	}
	dr := m.displayRows[m.cursor]
	innerWidth := max(m.width-4, 20)
	switch dr.kind {
	case rowConnSummary:
		return m.inspectorConnLines(dr, innerWidth)
	case rowEvent:
		return m.inspectorEventLines(dr)
	}
	return nil
}

func (m Model) inspectVisibleRows() int {
	return max(m.height-2, 3) // -2 for top/bottom border
}

func (m Model) renderInspector() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.inspectVisibleRows()

	lines := m.inspectLines()
	if lines == nil {
		return ""
	}

	// clamp scroll
	maxScroll := max(len(lines)-visibleRows, 0)
	if m.inspectScroll > maxScroll {
		m.inspectScroll = maxScroll
	}

	end := min(m.inspectScroll+visibleRows, len(lines))
	visible := lines[m.inspectScroll:end]
	content := strings.Join(visible, "\n")

	borderColor := lipgloss.Color("240")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(borderColor).
		Render(content)

	// Replace top border with title
	boxLines := strings.Split(box, "\n")
	if len(boxLines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		title := " Inspector "
		dashes := max(innerWidth-len([]rune(title)), 0)
		boxLines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
	}

	// Replace bottom border with help
	if n := len(boxLines); n > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		help := " q: back  j/k: scroll  c: copy  C: copy with value  x: re-run  e: compose "
		dashes := max(innerWidth-len([]rune(help)), 0)
		boxLines[n-1] = borderFg.Render("╰") +
			lipgloss.NewStyle().Faint(true).Render(help) +
			borderFg.Render(strings.Repeat("─", dashes)+"╯")
	}

	return strings.Join(boxLines, "\n")
}

func (m Model) inspectorConnLines(dr displayRow, innerWidth int) []string {
	lines := make([]string, 0, 7+len(dr.events))
	lines = append(lines, "Type:     Connection")

	n := len(dr.events)
	label := "1 command"
	if n != 1 {
		label = strconv.Itoa(n) + " commands"
	}
	lines = append(lines, "Commands: "+label)
	lines = append(lines, "Writes:   "+strconv.Itoa(m.connMutationCount(dr.events)))
	lines = append(lines, "Span:     "+formatDurationValue(m.connWallDuration(dr.events)))
	lines = append(lines, "Time:     "+formatTimeFull(m.events[dr.events[0]].Time))
	lines = append(lines, "Conn:     "+dr.connID)

	lines = append(lines, "")
	lines = append(lines, "Commands:")
	for _, idx := range dr.events {
		ev := m.events[idx]
		c := truncate(ev.commandText(), max(innerWidth-24, 20))
		c = highlight.Command(c)
		lines = append(lines, "  "+padRight(ev.Op, 8)+" "+c+" "+replyString(ev))
	}

	return lines
}

func (m Model) inspectorEventLines(dr displayRow) []string {
	ev := m.events[dr.eventIdx]

	var lines []string
	lines = append(lines, "Op:       "+ev.Op)
	lines = append(lines, "Key:      "+ev.Key)
	if ev.Op == "set" {
		lines = append(lines, "Value:    "+ev.Value)
	}
	lines = append(lines, "Reply:    "+replyString(ev))
	lines = append(lines, "Time:     "+formatTimeFull(ev.Time))
	if ev.Mutated {
		lines = append(lines, "Mutated:  yes")
	}
	if ev.Hot {
		lines = append(lines, "Hot key:  yes")
	}
	if ev.ConnID != "" {
		lines = append(lines, "Conn:     "+ev.ConnID)
	}

	lines = append(lines, "")
	lines = append(lines, "Wire:")
	for _, l := range strings.Split(highlight.Wire(wireEncode(ev.commandText())), "\n") {
		lines = append(lines, "  "+l)
	}

	return lines
}
