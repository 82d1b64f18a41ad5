package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type exportFormat int

const (
	exportJSON exportFormat = iota
	exportMarkdown
)

func (f exportFormat) ext() string {
	if f == exportMarkdown {
		return "md"
	}
	return "json"
}

type exportAnalyticsRow struct {
	Key    string `json:"key"`
	Count  int    `json:"count"`
	Gets   int    `json:"gets"`
	Writes int    `json:"writes"`
	Hot    int    `json:"hot"`
}

type exportCommand struct {
	Time     string `json:"time"`
	Op       string `json:"op"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Mutated  bool   `json:"mutated"`
	NilReply bool   `json:"nil_reply"`
	Hot      bool   `json:"hot"`
	ConnID   string `json:"conn_id"`
}

type exportData struct {
	Captured int    `json:"captured"`
	Exported int    `json:"exported"`
	Filter   string `json:"filter"`
	Search   string `json:"search"`
	Period   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
	Commands  []exportCommand      `json:"commands"`
	Analytics []exportAnalyticsRow `json:"analytics"`
}

// filteredEvents returns the subset of events matching filter and search.
func filteredEvents(events []Event, filterQuery, searchQuery string) []Event {
	matched := matchingEventsFiltered(events, filterQuery, searchQuery)
	result := make([]Event, 0, len(matched))
	for i, ev := range events {
		if matched[i] {
			result = append(result, ev)
		}
	}
	return result
}

// buildExportAnalytics aggregates per-key metrics from the given events.
func buildExportAnalytics(events []Event) []exportAnalyticsRow {
	type agg struct {
		count  int
		gets   int
		writes int
		hot    int
	}
	groups := make(map[string]*agg)
	var order []string

	for _, ev := range events {
		if ev.Key == "" {
			continue
		}
		g, ok := groups[ev.Key]
		if !ok {
			g = &agg{}
			groups[ev.Key] = g
			order = append(order, ev.Key)
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
	}

	rows := make([]exportAnalyticsRow, 0, len(groups))
	for _, k := range order {
		g := groups[k]
		rows = append(rows, exportAnalyticsRow{
			Key:    k,
			Count:  g.count,
			Gets:   g.gets,
			Writes: g.writes,
			Hot:    g.hot,
		})
	}
	return rows
}

func buildExportData(allEvents []Event, filterQuery, searchQuery string) exportData {
	exported := filteredEvents(allEvents, filterQuery, searchQuery)

	var d exportData
	d.Captured = len(allEvents)
	d.Exported = len(exported)
	d.Filter = filterQuery
	d.Search = searchQuery

	if len(exported) > 0 {
		first := exported[0].Time
		last := exported[len(exported)-1].Time
		//nolint:gosmopolitan // export uses local time
		d.Period.Start = first.In(time.Local).Format("15:04:05")
		//nolint:gosmopolitan // export uses local time
		d.Period.End = last.In(time.Local).Format("15:04:05")
	}

	d.Commands = make([]exportCommand, 0, len(exported))
	for _, ev := range exported {
		//nolint:gosmopolitan // export uses local time
		ts := ev.Time.In(time.Local)
		d.Commands = append(d.Commands, exportCommand{
			Time:     ts.Format("15:04:05.000"),
			Op:       ev.Op,
			Key:      ev.Key,
			Value:    ev.Value,
			Mutated:  ev.Mutated,
			NilReply: ev.NilReply,
			Hot:      ev.Hot,
			ConnID:   ev.ConnID,
		})
	}

	d.Analytics = buildExportAnalytics(exported)
	return d
}

func renderJSON(allEvents []Event, filterQuery, searchQuery string) (string, error) {
	d := buildExportData(allEvents, filterQuery, searchQuery)
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(b) + "\n", nil
}

func renderMarkdown(allEvents []Event, filterQuery, searchQuery string) string {
	d := buildExportData(allEvents, filterQuery, searchQuery)

	var sb strings.Builder
	sb.WriteString("# kvrelay export\n\n")

	fmt.Fprintf(&sb, "- Captured: %d commands\n", d.Captured)
	exportLine := fmt.Sprintf("- Exported: %d commands", d.Exported)
	if d.Filter != "" || d.Search != "" {
		var parts []string
		if d.Filter != "" {
			parts = append(parts, "filter: "+d.Filter)
		}
		if d.Search != "" {
			parts = append(parts, "search: "+d.Search)
		}
		exportLine += " (" + strings.Join(parts, ", ") + ")"
	}
	sb.WriteString(exportLine + "\n")
	if d.Period.Start != "" {
		fmt.Fprintf(&sb, "- Period: %s — %s\n", d.Period.Start, d.Period.End)
	}

	sb.WriteString("\n## Commands\n\n")
	sb.WriteString("| # | Time | Op | Key | Value | Reply | Flags | Conn |\n")
	sb.WriteString("|---|------|----|-----|-------|-------|-------|------|\n")
	for i, c := range d.Commands {
		reply := "value"
		if c.NilReply {
			reply = "nil"
		}
		var flags []string
		if c.Mutated {
			flags = append(flags, "mut")
		}
		if c.Hot {
			flags = append(flags, "hot")
		}
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s | %s | %s |\n",
			i+1, c.Time, c.Op,
			escapeMarkdownPipe(c.Key),
			escapeMarkdownPipe(c.Value),
			reply,
			strings.Join(flags, ","),
			shortConn(c.ConnID),
		)
	}

	if len(d.Analytics) > 0 {
		sb.WriteString("\n## Analytics\n\n")
		sb.WriteString("| Key | Count | Gets | Writes | Hot |\n")
		sb.WriteString("|-----|-------|------|--------|-----|\n")
		for _, a := range d.Analytics {
			fmt.Fprintf(&sb, "| %s | %d | %d | %d | %d |\n",
				escapeMarkdownPipe(a.Key),
				a.Count, a.Gets, a.Writes, a.Hot,
			)
		}
	}

	return sb.String()
}

// shortConn abbreviates a connection UUID to its first segment.
func shortConn(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// writeExport writes filtered events to a file and returns the path.
// dir specifies the output directory; if empty, the current directory is used.
func writeExport(
	allEvents []Event,
	filterQuery, searchQuery string,
	format exportFormat,
	dir string,
) (string, error) {
	var content string
	var err error

	switch format {
	case exportJSON:
		content, err = renderJSON(allEvents, filterQuery, searchQuery)
		if err != nil {
			return "", err
		}
	case exportMarkdown:
		content = renderMarkdown(allEvents, filterQuery, searchQuery)
	}

	filename := fmt.Sprintf("kvrelay-%s.%s",
		time.Now().Format("20060102-150405"), format.ext())
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return filename, nil
}
