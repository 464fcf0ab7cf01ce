package segment

import (
	"regexp"
	"strings"
)

// Kind identifies a block-splitting strategy.
type Kind int

const (
	KindNone Kind = iota
	KindMarker
	KindDoubleSeparator
	KindHugeTable
	KindSeparator
	KindIndentation
)

// Split method names recorded as section provenance.
const (
	MethodNone            = "none"
	MethodCompanyName     = "tabular, company name"
	MethodSecurity1       = "tabular, security1"
	MethodSecurity2       = "tabular, security2"
	MethodDoubleSep       = "double_sep, ---"
	MethodHugeTable       = "huge_table"
	MethodIndentation     = "indentation"
	MethodSeparatorPrefix = "sep, "
)

// separatorLookback is how many non-blank lines above the anchor are searched
// for a separator token.
const separatorLookback = 25

var separatorLineRe = regexp.MustCompile(`^\s*[=_-]{3,}`)

// Strategy is one block-splitting rule. A document is split with exactly one
// strategy, chosen by Select around its first anchor line.
type Strategy struct {
	Kind      Kind
	Method    string
	Marker    string // KindMarker
	Offset    int    // KindMarker: lines before the marker where a block starts
	Separator string // KindSeparator, KindDoubleSeparator
}

// Name is the provenance tag of the strategy.
func (s Strategy) Name() string { return s.Method }

// Split applies the strategy to the whole document.
func (s Strategy) Split(lines []string) []Block {
	switch s.Kind {
	case KindMarker:
		return splitMarker(lines, s.Marker, s.Offset)
	case KindDoubleSeparator:
		return splitDoubleSeparator(lines, s.Separator)
	case KindHugeTable:
		return splitHugeTable(lines)
	case KindSeparator:
		return splitSeparator(lines, s.Separator)
	case KindIndentation:
		return splitIndentation(lines)
	}
	return nil
}

func lineAt(lines []string, i int) string {
	if i < 0 || i >= len(lines) {
		return ""
	}
	return lines[i]
}

// Select inspects the lines around needle and returns the first strategy
// whose cue is present, in fixed priority order.
func Select(lines []string, needle int) Strategy {
	cur := lineAt(lines, needle)
	prev, next, next2 := lineAt(lines, needle-1), lineAt(lines, needle+1), lineAt(lines, needle+2)

	switch {
	case strings.Contains(cur, "Company Name: "):
		return Strategy{Kind: KindMarker, Method: MethodCompanyName, Marker: "Company Name: ", Offset: 0}
	case strings.Contains(next, "| Security"):
		return Strategy{Kind: KindMarker, Method: MethodSecurity1, Marker: "| Security", Offset: 1}
	case strings.Contains(next2, "| Security: "):
		return Strategy{Kind: KindMarker, Method: MethodSecurity2, Marker: "| Security: ", Offset: 2}
	case strings.Contains(prev, "---") && strings.Contains(next, "---"):
		return Strategy{Kind: KindDoubleSeparator, Method: MethodDoubleSep, Separator: "---"}
	case isHugeTable(cur, prev, next):
		return Strategy{Kind: KindHugeTable, Method: MethodHugeTable}
	}

	if sep := findSeparator(lines, needle); sep != "" {
		return Strategy{Kind: KindSeparator, Method: MethodSeparatorPrefix + sep, Separator: sep}
	}
	return Strategy{Kind: KindIndentation, Method: MethodIndentation}
}

// isHugeTable reports whether vote words or single-letter vote codes appear
// on the anchor line and on a line next to it.
func isHugeTable(cur, prev, next string) bool {
	cur = strings.ToUpper(cur)
	around := strings.ToUpper(prev + " " + next)
	hasVote := func(s string) bool {
		return strings.Contains(s, "FOR") || strings.Contains(s, "AGAINST")
	}
	hasCode := func(s string) bool {
		return strings.Contains(s, "| F |") || strings.Contains(s, "| N |")
	}
	return (hasVote(cur) && hasVote(around)) || (hasCode(cur) && hasCode(around))
}

// findSeparator walks up from the anchor over at most separatorLookback
// non-blank lines. A line that is itself a rule yields the whole trimmed
// line; otherwise the first embedded run of three -, = or _ wins.
func findSeparator(lines []string, needle int) string {
	seen := 0
	for i := needle - 1; i >= 0 && seen < separatorLookback; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		seen++
		if separatorLineRe.MatchString(line) {
			return line
		}
		for _, tok := range []string{"---", "===", "___"} {
			if strings.Contains(line, tok) {
				return tok
			}
		}
	}
	return ""
}
