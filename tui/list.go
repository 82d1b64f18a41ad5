package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mickamy/kvrelay/highlight"
)

func eventStatus(ev Event) string {
	if ev.Hot {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")).Render("HOT")
	}
	if ev.Mutated {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).Render("MUT")
	}
	return ""
}

// Column widths.
const (
	colMarker = 4 // "▶ " or "▾ " (2) + indent/space (2)
	colOp     = 7
	colReply  = 8
	colTime   = 12
	colStatus = 4
)

// connColors is a palette for coloring per-connection rows.
var connColors = []lipgloss.Color{"6", "3", "5", "2", "4", "1"}

func (m Model) renderList(maxRows int) string {
	innerWidth := max(m.width-4, 20)
	colCommand := max(innerWidth-colMarker-colOp-colReply-colTime-colStatus-4, 10)

	var title string
	if m.searchQuery != "" || m.filterQuery != "" {
		matched := 0
		for _, dr := range m.displayRows {
			if dr.kind == rowEvent {
				matched++
			}
		}
		title = fmt.Sprintf(" kvrelay (%d/%d commands) ", matched, len(m.events))
	} else {
		title = fmt.Sprintf(" kvrelay (%d commands) ", len(m.events))
	}
	if m.sortMode == sortKey {
		title += "[key] "
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth)

	dataRows := max(maxRows-1, 1) // -1 for header row

	start := 0
	if len(m.displayRows) > dataRows {
		start = max(m.cursor-dataRows/2, 0)
		if start+dataRows > len(m.displayRows) {
			start = len(m.displayRows) - dataRows
		}
	}
	end := min(start+dataRows, len(m.displayRows))

	header := fmt.Sprintf("    %-*s %-*s %*s %*s %-*s",
		colOp, "Op",
		colCommand, "Command",
		colReply, "Reply",
		colTime, "Time",
		colStatus, "",
	)

	var rows []string
	rows = append(rows, lipgloss.NewStyle().Bold(true).Render(header))
	for i := start; i < end; i++ {
		dr := m.displayRows[i]
		isCursor := i == m.cursor

		switch dr.kind {
		case rowConnSummary:
			rows = append(rows, m.renderConnSummaryRow(dr, isCursor, colCommand))
		case rowEvent:
			rows = append(rows, m.renderEventRow(dr, i, isCursor, colCommand))
		}
	}

	borderColor := lipgloss.Color("240")
	border = border.BorderForeground(borderColor)
	content := strings.Join(rows, "\n")

	box := border.Render(content)
	lines := strings.Split(box, "\n")
	if len(lines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		dashes := max(innerWidth-len([]rune(title)), 0)
		lines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
		box = strings.Join(lines, "\n")
	}

	return box
}

func (m Model) renderConnSummaryRow(dr displayRow, isCursor bool, colCommand int) string {
	marker := "  "
	if isCursor {
		marker = "▶ "
	}

	chevron := "▾ "
	if m.collapsed[dr.connID] {
		chevron = "▸ "
	}

	n := len(dr.events)
	label := fmt.Sprintf("%d commands", n)
	if n == 1 {
		label = "1 command"
	}
	if muts := m.connMutationCount(dr.events); muts > 0 {
		label += fmt.Sprintf(" (%d writes)", muts)
	}

	dur := formatDurationValue(m.connWallDuration(dr.events))
	t := formatTime(m.events[dr.events[0]].Time)

	styled := lipgloss.NewStyle().Foreground(m.connColorMap[dr.connID])

	if isCursor {
		styled = styled.Bold(true)
		bold := lipgloss.NewStyle().Bold(true)
		return bold.Render(marker) +
			styled.Render(chevron) +
			padRight(styled.Render("Conn"), colOp) + " " +
			padRight(bold.Render(label), colCommand) + " " +
			padLeft(bold.Render(dur), colReply) + " " +
			padLeft(bold.Render(t), colTime)
	}

	return fmt.Sprintf("%s%s%s %-*s %*s %*s",
		marker,
		styled.Render(chevron),
		padRight(styled.Render("Conn"), colOp),
		colCommand, label,
		colReply, dur,
		colTime, t,
	)
}

func (m Model) renderEventRow(dr displayRow, drIdx int, isCursor bool, colCommand int) string {
	ev := m.events[dr.eventIdx]
	marker := "  "
	if isCursor {
		marker = "▶ "
	}

	op := ev.Op
	reply := replyString(ev)
	t := formatTime(ev.Time)

	indent := "  " // non-grouped: align with chevron space
	cc := colCommand
	if m.isConnChild(drIdx) {
		indent = "    " // conn child: extra indent
		cc = max(colCommand-2, 1)
	}

	c := truncate(ev.commandText(), cc)
	if c == "" {
		c = "-"
	}

	status := eventStatus(ev)

	if m.isConnChild(drIdx) {
		styled := lipgloss.NewStyle().Foreground(m.connColorMap[ev.ConnID])
		if isCursor {
			styled = styled.Bold(true)
			bold := lipgloss.NewStyle().Bold(true)
			return bold.Render(marker) +
				bold.Render(indent) +
				padRight(styled.Render(op), colOp) + " " +
				padRight(bold.Render(c), cc) + " " +
				padLeft(bold.Render(reply), colReply) + " " +
				padLeft(bold.Render(t), colTime) + " " +
				status
		}
		return fmt.Sprintf("%s%s%s %-*s %*s %*s",
			marker,
			indent,
			padRight(styled.Render(op), colOp),
			cc, c,
			colReply, reply,
			colTime, t,
		) + " " + status
	}

	row := fmt.Sprintf("%s%s%-*s %-*s %*s %*s",
		marker,
		indent,
		colOp, op,
		cc, c,
		colReply, reply,
		colTime, t,
	) + " " + status
	if isCursor {
		row = lipgloss.NewStyle().Bold(true).Render(row)
	}
	return row
}

// replyString summarizes what the server answered: "nil" for an absent
// previous value, "value" otherwise.
func replyString(ev Event) string {
	if ev.NilReply {
		return "nil"
	}
	return "value"
}

func (m Model) renderPreview() string {
	innerWidth := max(m.width-4, 20)

	if m.cursor < 0 || m.cursor >= len(m.displayRows) {
		return ""
	}

	dr := m.displayRows[m.cursor]

	switch dr.kind {
	case rowConnSummary:
		return m.renderConnPreview(dr, innerWidth)
	case rowEvent:
		return m.renderEventPreview(dr, innerWidth)
	}

	return ""
}

func (m Model) renderConnPreview(dr displayRow, innerWidth int) string {
	var lines []string
	lines = append(lines, "Type:     Connection")

	n := len(dr.events)
	label := fmt.Sprintf("%d commands", n)
	if n == 1 {
		label = "1 command"
	}
	lines = append(lines, "Commands: "+label)
	lines = append(lines, fmt.Sprintf("Writes:   %d", m.connMutationCount(dr.events)))
	lines = append(lines, "Span:     "+formatDurationValue(m.connWallDuration(dr.events)))
	lines = append(lines, "Conn:     "+dr.connID)

	maxCmdLen := max(innerWidth-12, 20)
	shown := dr.events
	if len(shown) > 4 {
		shown = shown[len(shown)-4:]
	}
	for _, idx := range shown {
		ev := m.events[idx]
		c := truncate(ev.commandText(), maxCmdLen)
		lines = append(lines, fmt.Sprintf("  %-6s %s", ev.Op, highlight.Command(c)))
	}

	content := strings.Join(lines, "\n")

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240"))

	return border.Render(content)
}

func (m Model) renderEventPreview(dr displayRow, innerWidth int) string {
	ev := m.events[dr.eventIdx]

	var lines []string
	lines = append(lines, "Op:       "+ev.Op)

	maxCmdLen := max(innerWidth-10, 20) // 10 = len("Command:  ")
	lines = append(lines, "Command:  "+highlight.Command(truncate(ev.commandText(), maxCmdLen)))

	lines = append(lines, "Reply:    "+replyString(ev))
	lines = append(lines, "Time:     "+formatTime(ev.Time))

	if ev.Mutated {
		lines = append(lines, "Mutated:  yes")
	}
	if ev.Hot {
		lines = append(lines, "Hot key:  yes")
	}
	if ev.ConnID != "" {
		lines = append(lines, "Conn:     "+ev.ConnID)
	}

	content := strings.Join(lines, "\n")

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240"))

	return border.Render(content)
}
