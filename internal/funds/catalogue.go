// Package funds resolves fund and series names in proxy voting filings
// against the catalogue declared in the filing preamble.
package funds

import (
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Fund is a series declared by a filing. Identity is OriginalName.
type Fund struct {
	OriginalName string   `json:"original_name"`
	Name         string   `json:"name"` // normalized
	SeriesID     string   `json:"series_id,omitempty"`
	Tickers      []string `json:"ticker_symbols"`

	alnum string
	chars charSet
}

// NewFund builds a fund with its normalized forms. Tickers are sorted.
func NewFund(originalName string, tickers []string) *Fund {
	name := Normalize(originalName)
	a := alphanum(name)
	t := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		t = append(t, strings.ToUpper(strings.TrimSpace(ticker)))
	}
	sort.Strings(t)
	return &Fund{
		OriginalName: originalName,
		Name:         name,
		Tickers:      t,
		alnum:        a,
		chars:        newCharSet(a),
	}
}

func (f *Fund) String() string { return f.OriginalName }

// Same reports whether two funds are the same series.
func (f *Fund) Same(other *Fund) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.OriginalName == other.OriginalName
}

func (f *Fund) hasTicker(s string) bool {
	_, found := slices.BinarySearch(f.Tickers, s)
	return found
}

// genericWords never make a line look like a fund name on their own.
var genericWords = []string{"FUND", "PORTFOLIO", "TRUST"}

var wordRe = regexp.MustCompile(`\w+`)

// Catalogue is the read-only fund list of one filing, ordered by descending
// normalized name length so more specific names are tried first.
type Catalogue struct {
	Funds []*Fund

	words  map[string]bool
	maxLen int
}

// NewCatalogue sorts funds and indexes their vocabulary.
func NewCatalogue(funds []*Fund) *Catalogue {
	c := &Catalogue{Funds: slices.Clone(funds), words: make(map[string]bool)}
	sort.SliceStable(c.Funds, func(i, j int) bool {
		return len(c.Funds[i].Name) > len(c.Funds[j].Name)
	})
	for _, f := range c.Funds {
		for _, w := range wordRe.FindAllString(f.Name, -1) {
			c.words[w] = true
		}
		c.maxLen = max(c.maxLen, len(f.Name))
	}
	for _, w := range genericWords {
		delete(c.words, w)
	}
	return c
}

// Len is the number of funds.
func (c *Catalogue) Len() int { return len(c.Funds) }

// MaxNameLen is the length of the longest normalized name.
func (c *Catalogue) MaxNameLen() int { return c.maxLen }

// sharesWord reports whether upper contains any catalogue word.
func (c *Catalogue) sharesWord(upper string) bool {
	for _, w := range wordRe.FindAllString(upper, -1) {
		if c.words[w] {
			return true
		}
	}
	return false
}

// DefaultAdditions lists funds that filing bodies report under although the
// preamble never declares them, keyed by a declared normalized series name.
var DefaultAdditions = map[string][]string{
	"SPROTT GOLD MINERS ETF":              {"Sprott Buzz Social Media Insights ETF"},
	"SPDR MSCI WORLD STRATEGICFACTORS ETF": {"SPDR MSCI ACWI IMI ETF"},
}

// ParseSeries extracts the fund catalogue from a filing preamble.
//
// Series come from <SERIES-NAME>, <SERIES-ID> and
// <CLASS-CONTRACT-TICKER-SYMBOL> lines, each series closed by </SERIES>.
// When no series is declared, every COMPANY CONFORMED NAME line yields a
// fund. additions is consulted by normalized series name; nil means
// DefaultAdditions.
func ParseSeries(preamble string, additions map[string][]string) *Catalogue {
	if additions == nil {
		additions = DefaultAdditions
	}

	var funds []*Fund
	seen := make(map[string]bool)
	add := func(f *Fund) {
		if seen[f.OriginalName] {
			return
		}
		seen[f.OriginalName] = true
		funds = append(funds, f)
	}

	var (
		name     string
		hasName  bool
		seriesID string
		tickers  []string
	)
	lines := strings.Split(preamble, "\n")
	for _, raw := range lines {
		line := strings.TrimLeft(raw, " \t")
		switch {
		case strings.HasPrefix(line, "<SERIES-NAME>"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "<SERIES-NAME>"))
			hasName = true
		case strings.HasPrefix(line, "<SERIES-ID>"):
			seriesID = strings.TrimSpace(strings.TrimPrefix(line, "<SERIES-ID>"))
		case strings.HasPrefix(line, "<CLASS-CONTRACT-TICKER-SYMBOL>"):
			if t := strings.TrimSpace(strings.TrimPrefix(line, "<CLASS-CONTRACT-TICKER-SYMBOL>")); t != "" {
				tickers = append(tickers, strings.ToUpper(t))
			}
		case strings.HasPrefix(line, "</SERIES>"):
			if hasName && name != "" {
				f := NewFund(name, tickers)
				f.SeriesID = seriesID
				add(f)
			}
			name, hasName, seriesID, tickers = "", false, "", nil
		}
	}

	if len(funds) == 0 {
		for _, line := range lines {
			if !strings.Contains(line, "COMPANY CONFORMED NAME:") {
				continue
			}
			if parts := strings.Split(line, ":"); len(parts) > 1 {
				if n := strings.TrimSpace(parts[1]); n != "" {
					add(NewFund(n, nil))
				}
			}
		}
	}

	declared := slices.Clone(funds)
	for _, f := range declared {
		for _, extra := range additions[f.Name] {
			add(NewFund(extra, nil))
		}
	}

	return NewCatalogue(funds)
}
