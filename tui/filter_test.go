package tui //nolint:testpackage // testing internal filter parsing logic

import (
	"testing"
	"time"
)

func TestParseFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []filterCondition
	}{
		{
			name:  "plain text",
			input: "drink",
			want:  []filterCondition{{kind: filterText, text: "drink"}},
		},
		{
			name:  "op filter",
			input: "op:set",
			want:  []filterCondition{{kind: filterOp, opPattern: "set"}},
		},
		{
			name:  "key filter",
			input: "key:dri",
			want:  []filterCondition{{kind: filterKey, text: "dri"}},
		},
		{
			name:  "conn filter",
			input: "conn:ab12",
			want:  []filterCondition{{kind: filterConn, connPrefix: "ab12"}},
		},
		{
			name:  "hot keyword",
			input: "hot",
			want:  []filterCondition{{kind: filterHot}},
		},
		{
			name:  "mut keyword",
			input: "mut",
			want:  []filterCondition{{kind: filterMut}},
		},
		{
			name:  "nil keyword",
			input: "nil",
			want:  []filterCondition{{kind: filterNil}},
		},
		{
			name:  "combined",
			input: "op:get hot key:x",
			want: []filterCondition{
				{kind: filterOp, opPattern: "get"},
				{kind: filterHot},
				{kind: filterKey, text: "x"},
			},
		},
		{
			name:  "empty op falls back to text",
			input: "op:",
			want:  []filterCondition{{kind: filterText, text: "op:"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseFilter(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parseFilter(%q) returned %d conditions, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("condition %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFilterMatchesEvent(t *testing.T) {
	t.Parallel()

	base := Event{
		Op:     "set",
		Key:    "drink",
		Value:  "water",
		ConnID: "ab12cd34-0000",
	}
	mutated := base
	mutated.Mutated = true
	hot := base
	hot.Hot = true
	nilReply := Event{Op: "get", Key: "ghost", NilReply: true}

	tests := []struct {
		name  string
		input string
		ev    Event
		want  bool
	}{
		{"op match", "op:set", base, true},
		{"op mismatch", "op:get", base, false},
		{"unknown op never matches", "op:flush", base, false},
		{"key substring", "key:rin", base, true},
		{"key mismatch", "key:zzz", base, false},
		{"conn prefix", "conn:ab12", base, true},
		{"conn prefix mismatch", "conn:cd", base, false},
		{"hot", "hot", hot, true},
		{"hot mismatch", "hot", base, false},
		{"mut", "mut", mutated, true},
		{"mut mismatch", "mut", base, false},
		{"nil reply", "nil", nilReply, true},
		{"text matches command", "water", base, true},
		{"all conditions must hold", "op:set key:drink zzz", base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conds := parseFilter(tt.input)
			if got := matchAllConditions(tt.ev, conds); got != tt.want {
				t.Errorf("matchAllConditions(%+v, %q) = %v, want %v", tt.ev, tt.input, got, tt.want)
			}
		})
	}
}

func TestDescribeFilter(t *testing.T) {
	t.Parallel()

	got := describeFilter("op:get hot abc")
	want := "op:get hot text:abc"
	if got != want {
		t.Errorf("describeFilter = %q, want %q", got, want)
	}
}

func TestMatchingEventsFiltered(t *testing.T) {
	t.Parallel()

	events := []Event{
		{Op: "set", Key: "a", Value: "1", Mutated: true, Time: time.Now()},
		{Op: "get", Key: "a", Time: time.Now()},
		{Op: "get", Key: "b", NilReply: true, Time: time.Now()},
	}

	matched := matchingEventsFiltered(events, "op:get", "")
	if len(matched) != 2 {
		t.Fatalf("op:get matched %d events, want 2", len(matched))
	}
	if matched[0] {
		t.Error("set event should not match op:get")
	}

	matched = matchingEventsFiltered(events, "", "set a")
	if len(matched) != 1 || !matched[0] {
		t.Errorf("search %q matched %v, want only event 0", "set a", matched)
	}
}

func TestWrapFooterItems(t *testing.T) {
	t.Parallel()

	items := []string{"q: quit", "j/k: navigate", "enter: inspect"}

	wide := wrapFooterItems(items, 200)
	if want := "  q: quit  j/k: navigate  enter: inspect"; wide != want {
		t.Errorf("wide = %q, want %q", wide, want)
	}

	narrow := wrapFooterItems(items, 20)
	if lines := len(splitLines(narrow)); lines != 3 {
		t.Errorf("narrow wrapped to %d lines, want 3", lines)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
