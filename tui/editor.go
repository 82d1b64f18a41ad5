package tui

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type editorResultMsg struct {
	input string
	err   error
}

func openEditor(initial string) tea.Cmd {
	f, err := os.CreateTemp("", "kvrelay-*.txt")
	if err != nil {
		return func() tea.Msg {
			return editorResultMsg{err: err}
		}
	}
	path := f.Name()

	header := "# Edit this command, then save and quit to run it.\n" +
		"# To cancel, clear the file or quit without saving.\n" +
		"# Lines starting with # are stripped before execution.\n\n"

	if _, err := f.WriteString(header + initial); err != nil {
		_ = f.Close()
		_ = os.Remove(path) //nolint:gosec // path is a controlled temp file created by this function
		return func() tea.Msg {
			return editorResultMsg{err: err}
		}
	}
	_ = f.Close()

	var written time.Time
	if info, err := os.Stat(path); err == nil {
		written = info.ModTime()
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	c := exec.CommandContext(context.Background(), editor, path) //nolint:gosec // $EDITOR is user-controlled by design
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	return tea.ExecProcess(c, func(err error) tea.Msg {
		defer func() { _ = os.Remove(path) }()

		if err != nil {
			return editorResultMsg{err: err}
		}

		// Quit without saving: the file was never rewritten.
		if info, err := os.Stat(path); err == nil && info.ModTime().Equal(written) {
			return editorResultMsg{}
		}

		edited, err := os.ReadFile(path) //nolint:gosec // path is our own temp file
		if err != nil {
			return editorResultMsg{err: err}
		}

		return editorResultMsg{input: stripComments(string(edited))}
	})
}

// stripComments removes comment lines (# ...) and trims whitespace.
func stripComments(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
