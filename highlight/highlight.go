package highlight

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
)

func init() {
	lexer = lexers.Get("redis")
	formatter = formatters.Get("terminal256")
	style = styles.Get("monokai")
}

// Command returns the input with ANSI terminal syntax highlighting applied,
// treating it as a redis-style command line ("set drink water").
// On error or empty input, the original string is returned unchanged.
func Command(s string) string {
	if s == "" {
		return s
	}

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimRight(buf.String(), "\n")
}

var (
	sigilRe = regexp.MustCompile(`^[+\-:$*]`)
	lenRe   = regexp.MustCompile(`^([$*])(-?\d+)$`)
	crlfRe  = regexp.MustCompile(`\\r\\n`)

	boldStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Wire returns a raw wire record rendered one frame per line with ANSI
// highlighting applied. Framing sigils and length prefixes are bold,
// escaped CRLF terminators are dim, payload bytes are left untouched.
func Wire(record []byte) string {
	s := strings.ReplaceAll(string(record), "\r\n", "\\r\\n\n")
	s = strings.TrimRight(s, "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		plain := crlfRe.ReplaceAllString(line, "")
		if m := lenRe.FindStringSubmatch(plain); m != nil {
			line = strings.Replace(line, m[0], boldStyle.Render(m[0]), 1)
		} else if sigilRe.MatchString(plain) {
			line = boldStyle.Render(line[:1]) + line[1:]
		}
		lines[i] = crlfRe.ReplaceAllStringFunc(line, func(m string) string {
			return dimStyle.Render(m)
		})
	}

	return strings.Join(lines, "\n")
}
