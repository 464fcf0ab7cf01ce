// Package anchor finds the lines of a rendered filing that mention the
// subject security.
package anchor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Locator matches lines against a security's names and ticker symbols.
// Names match as case-insensitive substrings. A ticker matches
// case-insensitively when it is not immediately followed by a letter.
type Locator struct {
	names   []string
	tickers []string
}

// New builds a Locator. Empty names and tickers are ignored.
func New(names, tickers []string) *Locator {
	l := &Locator{}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			l.names = append(l.names, strings.ToUpper(n))
		}
	}
	for _, t := range tickers {
		if t = strings.TrimSpace(t); t != "" {
			l.tickers = append(l.tickers, strings.ToUpper(t))
		}
	}
	return l
}

// Empty reports whether the locator has nothing to look for.
func (l *Locator) Empty() bool {
	return len(l.names) == 0 && len(l.tickers) == 0
}

// Match reports whether line mentions the security.
func (l *Locator) Match(line string) bool {
	if l.Empty() || line == "" {
		return false
	}
	upper := strings.ToUpper(line)
	for _, n := range l.names {
		if strings.Contains(upper, n) {
			return true
		}
	}
	for _, t := range l.tickers {
		if tickerIn(upper, t) {
			return true
		}
	}
	return false
}

func tickerIn(s, ticker string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], ticker)
		if i < 0 {
			return false
		}
		end := from + i + len(ticker)
		r, _ := utf8.DecodeRuneInString(s[end:])
		if end == len(s) || !unicode.IsLetter(r) {
			return true
		}
		from += i + 1
	}
	return false
}

// Find returns the indexes of all lines in [start, end) that match.
func (l *Locator) Find(lines []string, start, end int) []int {
	start = max(start, 0)
	end = min(end, len(lines))
	var hits []int
	for i := start; i < end; i++ {
		if l.Match(lines[i]) {
			hits = append(hits, i)
		}
	}
	return hits
}

// First returns the index of the first matching line, or -1.
func (l *Locator) First(lines []string) int {
	for i, line := range lines {
		if l.Match(line) {
			return i
		}
	}
	return -1
}
