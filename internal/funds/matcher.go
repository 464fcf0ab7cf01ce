package funds

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Match attributes the lines [FirstLine, LastLine) to a fund. Method lists
// the heuristics that fired, in order.
type Match struct {
	Fund      *Fund    `json:"fund"`
	Text      string   `json:"text"`
	Method    []string `json:"method"`
	Score     int      `json:"score"`
	FirstLine int      `json:"first_line"`
	LastLine  int      `json:"last_line"`

	// Set by Review.
	Suspect  bool     `json:"suspect"`
	Excluded bool     `json:"excluded"`
	Reasons  []string `json:"reasons,omitempty"`
}

func (m *Match) String() string {
	return fmt.Sprintf("L%d %s (%s)", m.FirstLine, m.Fund.Name, strings.Join(m.Method, ";"))
}

// HasMethod reports whether tag is in the method trail.
func (m *Match) HasMethod(tag string) bool {
	for _, t := range m.Method {
		if t == tag {
			return true
		}
	}
	return false
}

var (
	corporateRe = regexp.MustCompile(`\b(INC|INCORPORATED|CORP|CORPORATION|CO|COMPANY|LIMITED|LTD|LLC|PLC)\.?$`)
	fundTokenRe = regexp.MustCompile(`FUND|PORTFOLIO|EQUITY`)

	voteItemRe   = regexp.MustCompile(`^\s*\|?\s*([A-Z](.\d)?|\d+|\d+[A-Za-z].?|CMMT)\b`)
	ruleLineRe   = regexp.MustCompile(`^[-=_]*\s*$`)
	voteVocabRe  = regexp.MustCompile(`Ticker|Voted|Meeting|Annual|Issue No|Mgmt|Proposal|ISIN|Type|Record Date|no proxy voting|during the reporting|SECURITY ID:|Security:|Please|Agenda Number:`)
	notFundRe    = regexp.MustCompile(`INSTITUTIONAL CLIENT|WHETHER FUND|C/O`)
	candSplitRe  = regexp.MustCompile(`\s-\s|-\s|\s-|,`)
	subAdviserRe = regexp.MustCompile(`(?i)\s*-?\s*SUB-?ADVIS[OE]R`)
	registrantRe = regexp.MustCompile(`(?i)^REGISTRANT\s*:\s*`)
	fundLabelRe  = regexp.MustCompile(`(?i)^FUND(\s+NAME)?\s*:\s*`)
	classRe      = regexp.MustCompile(`(?i)-?\s*CLASS\b`)
	effectiveRe  = regexp.MustCompile(`(?i)\bEFFECTIVE\b`)
	itemRe       = regexp.MustCompile(`(?i)\bITEM\b`)
	asideRe      = regexp.MustCompile(`\s*\([^()]{3,}(\)|$)`)
	levenTagRe   = regexp.MustCompile(`^levenshtein\((\d+)\)$`)
)

var nonNames = map[string]bool{"FUND": true, "TRUST FUND": true, "PROPOSED FUND": true}

// genericMatches are common substrings too uninformative to attribute a fund.
var genericMatches = map[string]bool{"FUND": true, "PORTFOLIO": true, "TRUST": true, "EQUITY": true}

// looksCorporate reports whether text names an issuer rather than a fund.
func looksCorporate(upper string) bool {
	return corporateRe.MatchString(upper) && !fundTokenRe.MatchString(upper)
}

// Matcher finds fund names in a filing's lines. It holds no mutable state, so
// one Matcher can serve several goroutines working on disjoint ranges.
type Matcher struct {
	cat   *Catalogue
	lines []string
	th    Thresholds
	log   *slog.Logger
}

// NewMatcher creates a matcher. A nil logger discards the per-candidate
// debug trace.
func NewMatcher(cat *Catalogue, lines []string, th Thresholds, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Matcher{cat: cat, lines: lines, th: th, log: log}
}

// ProcessRange returns the matches found in lines [first, last). A match for
// the same fund as the previous match in the range is dropped.
func (m *Matcher) ProcessRange(first, last int) []*Match {
	last = min(last, len(m.lines))
	var out []*Match
	var prev *Fund
	for i := max(first, 0); i < last; i++ {
		i = m.skipIrrelevant(i, last)
		if i >= last {
			break
		}
		match := m.FindAt(i)
		if match != nil && !match.Fund.Same(prev) {
			out = append(out, match)
			prev = match.Fund
		}
	}
	return out
}

// skipIrrelevant advances past lines that cannot carry a fund name: vote
// items and their indented continuation, blank or rule lines, vote table
// vocabulary, lines sharing no word with the catalogue, and issuer names.
func (m *Matcher) skipIrrelevant(i, last int) int {
	for i < last {
		line := m.lines[i]

		if loc := voteItemRe.FindStringIndex(line); loc != nil {
			i++
			indent := strings.Repeat(" ", loc[1])
			for i < last && strings.HasPrefix(m.lines[i], indent) {
				i++
			}
			continue
		}
		if ruleLineRe.MatchString(line) || voteVocabRe.MatchString(line) {
			i++
			continue
		}
		upper := strings.ToUpper(line)
		if !m.cat.sharesWord(upper) {
			i++
			continue
		}
		text := strings.TrimSpace(upper)
		if text == "" || nonNames[text] || looksCorporate(text) || notFundRe.MatchString(text) {
			i++
			continue
		}
		break
	}
	return i
}

// FindAt matches the line at index. Titles framed by '=' may span several
// lines; the lines above index are joined into the candidate.
func (m *Matcher) FindAt(index int) *Match {
	if index < 0 || index >= len(m.lines) {
		return nil
	}
	line := m.lines[index]
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return nil
	}

	var tags, candidates []string
	switch {
	case strings.HasPrefix(stripped, "="):
		tags = append(tags, "title")
		candidates = append(candidates, m.title(index, stripped))
	case strings.HasPrefix(line, "  | "):
		tags = append(tags, "row")
		candidates, tags = rowCandidates(line, tags)
	default:
		candidates = append(candidates, line)
	}

	n := len(candidates)
	for _, c := range candidates[:n] {
		if !strings.Contains(c, "-") {
			continue
		}
		for _, part := range candSplitRe.Split(c, -1) {
			candidates = append(candidates, strings.TrimSpace(part))
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
	m.log.Debug("candidates", "line", index, "candidates", candidates)

	var best *Match
	limit := m.cat.MaxNameLen() + m.th.LengthSlack
	for _, text := range candidates {
		if len(text) > limit {
			continue
		}
		match := m.candidate(index, text, tags)
		if match != nil && (best == nil || match.Score > best.Score) {
			best = match
		}
	}
	return best
}

// title unwraps a '='-framed title, joining the framed lines above it.
func (m *Matcher) title(index int, stripped string) string {
	text := strings.TrimSpace(strings.ReplaceAll(stripped, "=", ""))
	for start := index; start > 0; start-- {
		above := strings.TrimSpace(m.lines[start-1])
		if !strings.HasPrefix(above, "=") {
			break
		}
		text = strings.TrimSpace(strings.ReplaceAll(above, "=", "")) + " " + text
	}
	return text
}

// rowCandidates extracts candidates from a grid row. The first cell is the
// primary candidate. Trailing cells become candidates too, unless they carry
// item/exhibit noise, a "FUND NAME" label or a proxy voting record marker.
func rowCandidates(line string, tags []string) ([]string, []string) {
	var candidates []string
	line = line[len("  | "):]
	cells := strings.Split(line, "|")
	rest := strings.ToUpper(strings.TrimSpace(strings.Join(cells[1:], "")))
	if rest != "" {
		junk := true
		if strings.Contains(rest, "ITEM") && (strings.Contains(rest, "EXHIBIT") || strings.Contains(rest, "EX ")) {
			tags = append(tags, "trailing(itemex)")
			junk = false
		} else if strings.HasPrefix(rest, "FUND NAME") {
			tags = append(tags, "trailing(fund name)")
			line = strings.TrimSpace(rest[len("FUND NAME"):])
			line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
			junk = false
		}
		if i := strings.Index(rest, "PROXY VOTING RECORD"); i >= 0 {
			tags = append(tags, "trailing(pvr)")
			line = strings.TrimSpace(rest[:i])
			junk = false
		}
		if junk {
			for _, cell := range cells[1:] {
				if text := strings.TrimSpace(cell); text != "" {
					candidates = append(candidates, text)
				}
			}
		}
	}
	first, _, _ := strings.Cut(line, "|")
	candidates = append(candidates, strings.TrimSpace(first))
	return candidates, tags
}

// cleanup strips labels and suffixes that surround fund names, returning the
// cleaned text and a tag per rule applied.
func cleanup(text string) (string, []string) {
	var tags []string
	cut := func(re *regexp.Regexp, tag string, keepBefore bool) {
		loc := re.FindStringIndex(text)
		if loc == nil {
			return
		}
		if keepBefore {
			text = strings.TrimSpace(text[:loc[0]])
		} else {
			text = text[loc[1]:]
		}
		tags = append(tags, tag)
	}
	cut(subAdviserRe, "trailing(subadvisor)", true)
	cut(registrantRe, "leading(registrant)", false)
	cut(fundLabelRe, "leading(fund name)", false)
	cut(classRe, "trailing(class)", true)
	cut(effectiveRe, "trailing(effective)", true)
	cut(itemRe, "trailing(item)", true)
	if asideRe.MatchString(text) {
		text = strings.TrimSpace(asideRe.ReplaceAllString(text, ""))
		tags = append(tags, "aside")
	}
	return text, tags
}

func (m *Matcher) candidate(index int, text string, tags []string) *Match {
	if looksCorporate(strings.ToUpper(text)) {
		return nil
	}
	text, extra := cleanup(text)
	match := m.Match(text)
	if match == nil {
		m.log.Debug("no match", "line", index, "text", text)
		return nil
	}
	match.FirstLine = index
	match.Text = strings.TrimSpace(text)
	match.Method = append(append(match.Method, tags...), extra...)
	return match
}

// Match resolves a single text against the catalogue: strict rules first,
// then the common-substring score.
func (m *Matcher) Match(text string) *Match {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	if match := m.strict(normalized); match != nil {
		match.Score = len(normalized)
		return match
	}
	return m.common(normalized)
}

// strict checks exact equality against every fund before any looser rule, so
// a name that prefixes a longer sibling still resolves to itself.
func (m *Matcher) strict(title string) *Match {
	for _, f := range m.cat.Funds {
		if f.Name == title {
			return &Match{Fund: f, Method: []string{"exact"}}
		}
	}
	for _, f := range m.cat.Funds {
		switch {
		case len(title) >= m.th.PrefixMin && strings.HasPrefix(f.Name, title):
			return &Match{Fund: f, Method: []string{fmt.Sprintf("prefix(%d)", len(title))}}
		case f.hasTicker(title):
			return &Match{Fund: f, Method: []string{"ticker symbol"}}
		case title+" FUND" == f.Name:
			return &Match{Fund: f, Method: []string{"suffix(FUND)"}}
		case title+" EQUITY FUND" == f.Name:
			return &Match{Fund: f, Method: []string{"suffix(EQUITY FUND)"}}
		}
	}
	return nil
}

func (m *Matcher) common(title string) *Match {
	alnum := alphanum(title)
	chars := newCharSet(alnum)

	var (
		best      *Fund
		bestScore float64
		bestO     Overlap
	)
	for _, f := range m.cat.Funds {
		if chars.shared(f.chars) < m.th.MinSharedChars {
			continue
		}
		length, posA, posB := longestCommonSubstring(alnum, f.alnum)
		if length == 0 || genericMatches[alnum[posA:posA+length]] {
			continue
		}
		o := Overlap{CandLen: len(alnum), FundLen: len(f.alnum), Length: length, CandPos: posA, FundPos: posB}
		score, ok := SubstringScore(o, m.th)
		if !ok {
			continue
		}
		m.log.Debug("common substring", "fund", f.Name, "length", length, "score", score)
		if score > bestScore {
			best, bestScore, bestO = f, score, o
		}
	}
	if best == nil || bestScore < m.th.MinScore {
		return nil
	}

	candTail, fundTail := bestO.Tails()
	distance := levenshtein.ComputeDistance(best.Name, title)
	return &Match{
		Fund: best,
		Method: []string{
			fmt.Sprintf("common(%d, %d, %d, %d, %d)", bestO.Length, bestO.CandPos, bestO.FundPos, candTail, fundTail),
			fmt.Sprintf("levenshtein(%d)", distance),
		},
		Score: FinalScore(bestO.Length, distance),
	}
}
