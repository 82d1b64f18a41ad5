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

type analyticsSortMode int

const (
	analyticsSortCount analyticsSortMode = iota
	analyticsSortWrites
	analyticsSortHot
	analyticsSortRecent
)

func (s analyticsSortMode) String() string {
	switch s {
	case analyticsSortCount:
		return "count"
	case analyticsSortWrites:
		return "writes"
	case analyticsSortHot:
		return "hot"
	case analyticsSortRecent:
		return "recent"
	}
	return "count"
}

func (s analyticsSortMode) next() analyticsSortMode {
	switch s {
	case analyticsSortCount:
		return analyticsSortWrites
	case analyticsSortWrites:
		return analyticsSortHot
	case analyticsSortHot:
		return analyticsSortRecent
	case analyticsSortRecent:
		return analyticsSortCount
	}
	return analyticsSortCount
}

type analyticsRow struct {
	key      string
	count    int
	gets     int
	writes   int
	hot      int
	lastSeen time.Time
}

func (m Model) buildAnalyticsRows() []analyticsRow {
	type agg struct {
		count    int
		gets     int
		writes   int
		hot      int
		lastSeen time.Time
	}
	groups := make(map[string]*agg)

	for _, ev := range m.events {
		if ev.Key == "" {
			continue
		}
		g, ok := groups[ev.Key]
		if !ok {
			g = &agg{}
			groups[ev.Key] = g
		}
		g.count++
		if ev.Op == "get" {
			g.gets++
		}
		if ev.Mutated {
			g.writes++
		}
		if ev.Hot {
			g.hot++
		}
		if ev.Time.After(g.lastSeen) {
			g.lastSeen = ev.Time
		}
	}

	rows := make([]analyticsRow, 0, len(groups))
	for k, g := range groups {
		rows = append(rows, analyticsRow{
			key:      k,
			count:    g.count,
			gets:     g.gets,
			writes:   g.writes,
			hot:      g.hot,
			lastSeen: g.lastSeen,
		})
	}
	return rows
}

func sortAnalyticsRows(rows []analyticsRow, mode analyticsSortMode) {
	sort.Slice(rows, func(i, j int) bool {
		switch mode {
		case analyticsSortCount:
			return rows[i].count > rows[j].count
		case analyticsSortWrites:
			return rows[i].writes > rows[j].writes
		case analyticsSortHot:
			return rows[i].hot > rows[j].hot
		case analyticsSortRecent:
			return rows[i].lastSeen.After(rows[j].lastSeen)
		}
		return rows[i].count > rows[j].count
	})
}

func (m Model) updateAnalytics(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
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
	case "j", "down":
		if len(m.analyticsRows) > 0 && m.analyticsCursor < len(m.analyticsRows)-1 {
			m.analyticsCursor++
		}
		return m, nil
	case "k", "up":
		if m.analyticsCursor > 0 {
			m.analyticsCursor--
		}
		return m, nil
	case "h", "left":
		if m.analyticsHScroll > 0 {
			m.analyticsHScroll--
		}
		return m, nil
	case "l", "right":
		innerWidth := max(m.width-4, 20)
		maxW := m.analyticsMaxLineWidth()
		maxHScroll := max(maxW-innerWidth, 0)
		if m.analyticsHScroll < maxHScroll {
			m.analyticsHScroll++
		}
		return m, nil
	case "ctrl+d":
		half := m.analyticsVisibleRows() / 2
		m.analyticsCursor = min(m.analyticsCursor+half, max(len(m.analyticsRows)-1, 0))
		return m, nil
	case "ctrl+u":
		half := m.analyticsVisibleRows() / 2
		m.analyticsCursor = max(m.analyticsCursor-half, 0)
		return m, nil
	case "s":
		m.analyticsSortMode = m.analyticsSortMode.next()
		sortAnalyticsRows(m.analyticsRows, m.analyticsSortMode)
		m.analyticsCursor = 0
		return m, nil
	case "c":
		if m.analyticsCursor >= 0 && m.analyticsCursor < len(m.analyticsRows) {
			_ = clipboard.Copy(context.Background(), m.analyticsRows[m.analyticsCursor].key)
			return m.showAlert("copied!")
		}
		return m, nil
	}
	return m, nil
}

const (
	analyticsColMarker = 2 // "▶ " or "  "
	analyticsColCount  = 7 // "  Count" right-aligned
	analyticsColGets   = 7
	analyticsColWrites = 7
	analyticsColHot    = 5
	analyticsColLast   = 12
)

func (m Model) analyticsVisibleRows() int {
	return max(m.height-4, 3) // -2 for top/bottom border, -1 for header, -1 for padding
}

func (m Model) analyticsMaxLineWidth() int {
	fixedCols := analyticsColMarker + analyticsColCount + analyticsColGets +
		analyticsColWrites + analyticsColHot + analyticsColLast + 6
	maxW := 0
	for _, r := range m.analyticsRows {
		w := fixedCols + len([]rune(r.key))
		if w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m Model) renderAnalytics() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.analyticsVisibleRows()

	title := fmt.Sprintf(" Analytics (%d keys) [sort: %s] ", len(m.analyticsRows), m.analyticsSortMode)

	// 6 = separator spaces between columns
	fixedWidth := analyticsColMarker + analyticsColCount + analyticsColGets +
		analyticsColWrites + analyticsColHot + analyticsColLast + 6
	colKey := max(innerWidth-fixedWidth, 10)

	header := fmt.Sprintf("  %*s %*s %*s %*s %*s  %s",
		analyticsColCount, "Count",
		analyticsColGets, "Gets",
		analyticsColWrites, "Writes",
		analyticsColHot, "Hot",
		analyticsColLast, "Last",
		"Key",
	)

	dataRows := max(visibleRows-1, 1) // -1 for header

	start := 0
	if len(m.analyticsRows) > dataRows {
		start = max(m.analyticsCursor-dataRows/2, 0)
		if start+dataRows > len(m.analyticsRows) {
			start = len(m.analyticsRows) - dataRows
		}
	}
	end := min(start+dataRows, len(m.analyticsRows))

	var rows []string
	rows = append(rows, lipgloss.NewStyle().Bold(true).Render(header))
	for i := start; i < end; i++ {
		r := m.analyticsRows[i]
		marker := "  "
		if i == m.analyticsCursor {
			marker = "▶ "
		}

		k := r.key
		// Apply horizontal scroll then truncate.
		runes := []rune(k)
		if m.analyticsHScroll < len(runes) {
			runes = runes[m.analyticsHScroll:]
		} else {
			runes = nil
		}
		k = string(runes)
		if len([]rune(k)) > colKey {
			k = string([]rune(k)[:colKey-1]) + "…"
		}

		row := fmt.Sprintf("%s%*d %*d %*d %*d %*s  %s",
			marker,
			analyticsColCount, r.count,
			analyticsColGets, r.gets,
			analyticsColWrites, r.writes,
			analyticsColHot, r.hot,
			analyticsColLast, formatTime(r.lastSeen),
			k,
		)
		rows = append(rows, row)
	}

	content := strings.Join(rows, "\n")

	borderColor := lipgloss.Color("240")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(borderColor).
		Render(content)

	boxLines := strings.Split(box, "\n")
	if len(boxLines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		dashes := max(innerWidth-len([]rune(title)), 0)
		boxLines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
	}

	if n := len(boxLines); n > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		help := " q: back  j/k: scroll  h/l: pan  s: sort  c: copy key "
		dashes := max(innerWidth-len([]rune(help)), 0)
		boxLines[n-1] = borderFg.Render("╰") +
			lipgloss.NewStyle().Faint(true).Render(help) +
			borderFg.Render(strings.Repeat("─", dashes)+"╯")
	}

	return strings.Join(boxLines, "\n")
}
