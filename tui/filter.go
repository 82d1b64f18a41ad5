package tui

import (
	"strings"
)

type filterKind int

const (
	filterText filterKind = iota // plain text substring match
	filterOp                     // op:get, op:set, op:remove
	filterKey                    // key:<substring>
	filterConn                   // conn:<prefix>
	filterHot                    // "hot" keyword
	filterMut                    // "mut" keyword — mutating commands only
	filterNil                    // "nil" keyword — nil replies only
)

type filterCondition struct {
	kind filterKind

	// filterText / filterKey
	text string

	// filterOp
	opPattern string

	// filterConn
	connPrefix string
}

// ops recognised by op: filters.
var opNames = map[string]bool{
	"get":    true,
	"set":    true,
	"remove": true,
}

func parseFilter(input string) []filterCondition {
	tokens := strings.Fields(input)
	conds := make([]filterCondition, 0, len(tokens))

	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		switch {
		case lower == "hot":
			conds = append(conds, filterCondition{kind: filterHot})
		case lower == "mut":
			conds = append(conds, filterCondition{kind: filterMut})
		case lower == "nil":
			conds = append(conds, filterCondition{kind: filterNil})
		case strings.HasPrefix(lower, "op:") && len(lower) > 3:
			conds = append(conds, filterCondition{kind: filterOp, opPattern: lower[3:]})
		case strings.HasPrefix(lower, "key:") && len(lower) > 4:
			conds = append(conds, filterCondition{kind: filterKey, text: lower[4:]})
		case strings.HasPrefix(lower, "conn:") && len(lower) > 5:
			conds = append(conds, filterCondition{kind: filterConn, connPrefix: lower[5:]})
		default:
			// Fallback: plain text match.
			conds = append(conds, filterCondition{kind: filterText, text: lower})
		}
	}
	return conds
}

func (c filterCondition) matchesEvent(ev Event) bool {
	switch c.kind {
	case filterText:
		return strings.Contains(strings.ToLower(ev.commandText()), c.text)
	case filterOp:
		if !opNames[c.opPattern] {
			return false
		}
		return ev.Op == c.opPattern
	case filterKey:
		return strings.Contains(strings.ToLower(ev.Key), c.text)
	case filterConn:
		return strings.HasPrefix(strings.ToLower(ev.ConnID), c.connPrefix)
	case filterHot:
		return ev.Hot
	case filterMut:
		return ev.Mutated
	case filterNil:
		return ev.NilReply
	}
	return false
}

func matchAllConditions(ev Event, conds []filterCondition) bool {
	for _, c := range conds {
		if !c.matchesEvent(ev) {
			return false
		}
	}
	return true
}

func describeFilter(input string) string {
	conds := parseFilter(input)
	if len(conds) == 0 {
		return input
	}
	var parts []string
	for _, c := range conds {
		switch c.kind {
		case filterText:
			parts = append(parts, "text:"+c.text)
		case filterOp:
			parts = append(parts, "op:"+c.opPattern)
		case filterKey:
			parts = append(parts, "key:"+c.text)
		case filterConn:
			parts = append(parts, "conn:"+c.connPrefix)
		case filterHot:
			parts = append(parts, "hot")
		case filterMut:
			parts = append(parts, "mut")
		case filterNil:
			parts = append(parts, "nil")
		}
	}
	return strings.Join(parts, " ")
}

// wrapFooterItems arranges items into lines that fit within the given width.
// Each line starts with "  " and items are separated by "  ".
func wrapFooterItems(items []string, width int) string {
	if width <= 0 {
		return "  " + strings.Join(items, "  ")
	}

	const prefix = "  "
	const sep = "  "

	var lines []string
	line := prefix

	for _, item := range items {
		switch {
		case line == prefix:
			// First item on a new line — always add it.
			line += item
		case len(line)+len(sep)+len(item) <= width:
			line += sep + item
		default:
			// Wrap to next line.
			lines = append(lines, line)
			line = prefix + item
		}
	}
	if line != prefix {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
