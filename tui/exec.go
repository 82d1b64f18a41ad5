package tui

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/mickamy/kvrelay/highlight"
	"github.com/mickamy/kvrelay/resp"
)

// execTimeout bounds the dial, write, and reply read of one executed
// command.
const execTimeout = 3 * time.Second

func runCommand(target, input string) tea.Cmd {
	return func() tea.Msg {
		out, err := execute(target, input)
		return execResultMsg{input: input, output: out, err: err}
	}
}

// execute sends one command line to a kvrelay server over a fresh
// connection and returns the rendered reply.
func execute(target, input string) (string, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", errors.New("empty command")
	}

	items := make([]resp.Object, 0, len(fields))
	items = append(items, resp.SimpleString(fields[0]))
	for _, arg := range fields[1:] {
		items = append(items, resp.BulkString([]byte(arg)))
	}
	wire := resp.Encode(resp.Array(items))

	d := net.Dialer{Timeout: execTimeout}
	conn, err := d.Dial("tcp", target)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", target, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(execTimeout))

	if _, err := conn.Write(wire); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}

	obj, _, err := resp.Decode(buf[:n])
	if err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return formatReply(obj), nil
}

// formatReply renders a reply Object the way an interactive client
// would print it.
func formatReply(obj resp.Object) string {
	switch obj.Kind() {
	case resp.KindSimpleString:
		s, _ := obj.Text()
		return s
	case resp.KindError:
		s, _ := obj.Text()
		return "(error) " + s
	case resp.KindInteger:
		i, _ := obj.Int()
		return fmt.Sprintf("(integer) %d", i)
	case resp.KindBulkString:
		if obj.IsNilBulk() {
			return "(nil)"
		}
		b, _ := obj.Bulk()
		return fmt.Sprintf("%q", b)
	case resp.KindArray:
		items, _ := obj.Items()
		var sb strings.Builder
		for i, it := range items {
			fmt.Fprintf(&sb, "%d) %s\n", i+1, formatReply(it))
		}
		return strings.TrimRight(sb.String(), "\n")
	}
	return obj.String()
}

func (m Model) updateExec(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return m, tea.Quit
	case "q", "esc":
		m.view = viewList
		m = m.rebuild()
		if m.follow {
			m.cursor = max(len(m.displayRows)-1, 0)
		}
		return m, nil
	case "e":
		return m, openEditor(m.execInput)
	case "x":
		return m.startExec(m.execInput)
	case "j", "down":
		maxScroll := max(len(m.execLines())-m.execVisibleRows(), 0)
		if m.execScroll < maxScroll {
			m.execScroll++
		}
		return m, nil
	case "k", "up":
		if m.execScroll > 0 {
			m.execScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m Model) execVisibleRows() int {
	return max(m.height-2, 3) // -2 for top/bottom border
}

func (m Model) execLines() []string {
	var lines []string
	lines = append(lines, "> "+highlight.Command(m.execInput))
	lines = append(lines, "")
	switch {
	case m.execErr != nil:
		lines = append(lines, "Error: "+m.execErr.Error())
	case m.execOutput == "":
		lines = append(lines, "Running...")
	default:
		lines = append(lines, strings.Split(m.execOutput, "\n")...)
	}
	return lines
}

func (m Model) renderExec() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.execVisibleRows()

	lines := m.execLines()

	maxScroll := max(len(lines)-visibleRows, 0)
	if m.execScroll > maxScroll {
		m.execScroll = maxScroll
	}

	end := min(m.execScroll+visibleRows, len(lines))
	visible := lines[m.execScroll:end]
	// ANSI-aware clamp so highlighted lines never break the border.
	for i, line := range visible {
		visible[i] = ansi.Cut(line, 0, innerWidth)
	}
	content := strings.Join(visible, "\n")

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
		title := " Execute "
		dashes := max(innerWidth-len([]rune(title)), 0)
		boxLines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
	}

	if n := len(boxLines); n > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		help := " q: back  j/k: scroll  e: edit  x: run again "
		dashes := max(innerWidth-len([]rune(help)), 0)
		boxLines[n-1] = borderFg.Render("╰") +
			lipgloss.NewStyle().Faint(true).Render(help) +
			borderFg.Render(strings.Repeat("─", dashes)+"╯")
	}

	return strings.Join(boxLines, "\n")
}

// wireEncode rebuilds the wire bytes of a command line, for the
// inspector's raw-protocol pane.
func wireEncode(input string) []byte {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}
	items := make([]resp.Object, 0, len(fields))
	items = append(items, resp.SimpleString(fields[0]))
	for _, arg := range fields[1:] {
		items = append(items, resp.BulkString([]byte(arg)))
	}
	return resp.Encode(resp.Array(items))
}
