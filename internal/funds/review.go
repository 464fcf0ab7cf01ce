package funds

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
)

// ReviewConfig holds the limits used to flag and exclude doubtful matches.
type ReviewConfig struct {
	// SpanFraction and SpanCap bound how many lines a suspect match may
	// cover before it is excluded, relative to the lines after the header.
	SpanFraction float64
	SpanCap      int

	LevenshteinFloor int
	LevenshteinSlack int
}

// DefaultReview returns the standard review limits.
func DefaultReview() ReviewConfig {
	return ReviewConfig{
		SpanFraction:     0.10,
		SpanCap:          1000,
		LevenshteinFloor: 7,
		LevenshteinSlack: 5,
	}
}

// structuralTags mark how a fund line was laid out. When most matches share
// one, matches without it are suspect.
var structuralTags = []string{"title", "row", "leading(fund name)"}

func levenshteinTag(m *Match) (int, bool) {
	for _, t := range m.Method {
		if sub := levenTagRe.FindStringSubmatch(t); sub != nil {
			d, err := strconv.Atoi(sub[1])
			if err == nil {
				return d, true
			}
		}
	}
	return 0, false
}

// Review finalizes the matches of one filing whose body spans
// [firstLine, numLines). Matches are sorted, adjacent matches of the same
// fund are merged, and every match is given the span up to the next one.
// Outliers are marked Suspect; a suspect match covering too many lines is
// also Excluded. Nothing is dropped. With no match at all and a single fund
// in the catalogue, that fund is attributed to the whole body.
func Review(matches []*Match, cat *Catalogue, firstLine, numLines int, cfg ReviewConfig) []*Match {
	all := slices.Clone(matches)
	if len(all) == 0 && cat != nil && cat.Len() == 1 {
		all = append(all, &Match{
			Fund:      cat.Funds[0],
			Method:    []string{"default"},
			Score:     1,
			FirstLine: firstLine,
		})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].FirstLine < all[j].FirstLine })

	var out []*Match
	for _, m := range all {
		if n := len(out); n > 0 && out[n-1].Fund.Same(m.Fund) {
			continue
		}
		out = append(out, m)
	}
	for i, m := range out {
		if i+1 < len(out) {
			m.LastLine = out[i+1].FirstLine
		} else {
			m.LastLine = numLines
		}
		m.Suspect, m.Excluded, m.Reasons = false, false, nil
	}
	if len(out) == 0 {
		return nil
	}

	counts := make(map[string]int)
	exact := 0
	distances := make(map[int]int)
	for _, m := range out {
		for _, t := range slices.Compact(slices.Sorted(slices.Values(m.Method))) {
			counts[t]++
		}
		if m.HasMethod("exact") {
			exact++
		}
		if d, ok := levenshteinTag(m); ok {
			distances[d]++
		}
	}
	majority := func(n, of int) bool { return n*2 > of }

	// Any exact match shows the body spells names as declared, so distant
	// fuzzy matches become outliers.
	mostlyExact := exact > 0
	threshold := cfg.LevenshteinFloor
	for d, n := range distances {
		if majority(n, len(out)) {
			threshold = max(threshold, d+cfg.LevenshteinSlack)
		}
	}
	var required []string
	for _, t := range structuralTags {
		if majority(counts[t], len(out)) {
			required = append(required, t)
		}
	}

	remaining := float64(numLines - firstLine)
	fractionLimit := cfg.SpanFraction * remaining
	capLimit := min(float64(cfg.SpanCap), fractionLimit)
	for _, m := range out {
		span := float64(m.LastLine - m.FirstLine)
		if mostlyExact {
			if d, ok := levenshteinTag(m); ok && d > threshold {
				m.Suspect = true
				m.Reasons = append(m.Reasons, fmt.Sprintf("levenshtein(%d) > %d", d, threshold))
				if span > capLimit {
					m.Excluded = true
				}
			}
		}
		for _, t := range required {
			if !m.HasMethod(t) {
				m.Suspect = true
				m.Reasons = append(m.Reasons, "missing "+t)
				if span > fractionLimit {
					m.Excluded = true
				}
				break
			}
		}
	}
	return out
}

// At returns the match attributed to line: the last non-excluded match that
// starts at or before it. skipped reports whether an excluded match covering
// line was passed over to reach it. matches must be sorted by FirstLine.
func At(matches []*Match, line int) (m *Match, skipped bool) {
	i := sort.Search(len(matches), func(i int) bool { return matches[i].FirstLine > line })
	for i--; i >= 0; i-- {
		if !matches[i].Excluded {
			return matches[i], skipped
		}
		skipped = true
	}
	return nil, skipped
}

// Unmatched lists catalogue funds that no match refers to.
func Unmatched(cat *Catalogue, matches []*Match) []*Fund {
	found := make(map[string]bool)
	for _, m := range matches {
		found[m.Fund.OriginalName] = true
	}
	var out []*Fund
	for _, f := range cat.Funds {
		if !found[f.OriginalName] {
			out = append(out, f)
		}
	}
	return out
}
