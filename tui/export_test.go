package tui //nolint:testpackage // testing internal export helpers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func exportFixture() []Event {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []Event{
		{Seq: 1, Time: t0, ConnID: "c1", Op: "set", Key: "drink", Value: "water", Mutated: true, NilReply: true},
		{Seq: 2, Time: t0.Add(time.Second), ConnID: "c1", Op: "get", Key: "drink"},
		{Seq: 3, Time: t0.Add(2 * time.Second), ConnID: "c2", Op: "remove", Key: "ghost", NilReply: true},
		{Seq: 4, Time: t0.Add(3 * time.Second), ConnID: "c2", Op: "get", Key: "drink", Hot: true},
	}
}

func TestBuildExportData(t *testing.T) {
	t.Parallel()

	d := buildExportData(exportFixture(), "", "")

	if d.Captured != 4 || d.Exported != 4 {
		t.Fatalf("captured/exported = %d/%d, want 4/4", d.Captured, d.Exported)
	}
	if len(d.Commands) != 4 {
		t.Fatalf("len(Commands) = %d, want 4", len(d.Commands))
	}
	if d.Commands[0].Op != "set" || d.Commands[0].Key != "drink" || d.Commands[0].Value != "water" {
		t.Errorf("first command = %+v", d.Commands[0])
	}
	if len(d.Analytics) != 2 {
		t.Fatalf("len(Analytics) = %d, want 2", len(d.Analytics))
	}
	// Insertion order: drink first, ghost second.
	if d.Analytics[0].Key != "drink" || d.Analytics[0].Count != 3 {
		t.Errorf("analytics[0] = %+v, want drink with count 3", d.Analytics[0])
	}
	if d.Analytics[0].Gets != 2 || d.Analytics[0].Writes != 1 || d.Analytics[0].Hot != 1 {
		t.Errorf("analytics[0] = %+v, want gets=2 writes=1 hot=1", d.Analytics[0])
	}
}

func TestBuildExportDataFiltered(t *testing.T) {
	t.Parallel()

	d := buildExportData(exportFixture(), "op:get", "")

	if d.Captured != 4 {
		t.Errorf("Captured = %d, want 4", d.Captured)
	}
	if d.Exported != 2 {
		t.Errorf("Exported = %d, want 2", d.Exported)
	}
	for _, c := range d.Commands {
		if c.Op != "get" {
			t.Errorf("filtered export contains op %q", c.Op)
		}
	}
}

func TestRenderJSONRoundTrips(t *testing.T) {
	t.Parallel()

	out, err := renderJSON(exportFixture(), "", "")
	if err != nil {
		t.Fatalf("renderJSON: %v", err)
	}

	var d exportData
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if d.Exported != 4 {
		t.Errorf("Exported = %d, want 4", d.Exported)
	}
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	out := renderMarkdown(exportFixture(), "", "")

	for _, want := range []string{
		"# kvrelay export",
		"- Captured: 4 commands",
		"## Commands",
		"## Analytics",
		"| drink | 3 | 2 | 1 | 1 |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q\n%s", want, out)
		}
	}
}

func TestMarkdownEscapesPipes(t *testing.T) {
	t.Parallel()

	events := []Event{
		{Time: time.Now(), Op: "set", Key: "a|b", Value: "c|d", Mutated: true},
	}
	out := renderMarkdown(events, "", "")
	if !strings.Contains(out, `a\|b`) || !strings.Contains(out, `c\|d`) {
		t.Errorf("pipes not escaped:\n%s", out)
	}
}

func TestWriteExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, err := writeExport(exportFixture(), "", "", exportJSON, dir)
	if err != nil {
		t.Fatalf("writeExport: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("export written to %q, want directory %q", path, dir)
	}
	if !strings.HasSuffix(path, ".json") {
		t.Errorf("export path = %q, want .json suffix", path)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is under t.TempDir
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var d exportData
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("export file is not valid JSON: %v", err)
	}
}
