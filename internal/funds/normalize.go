package funds

import (
	"math/bits"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	dropCharsRe  = regexp.MustCompile(`['*]`)
	spaceCharsRe = regexp.MustCompile(`[/|,:$]`)
	ampEntityRe  = regexp.MustCompile(`(?i)&amp;`)
	andWordRe    = regexp.MustCompile(`(?i)\bAND\b`)
	markRe       = regexp.MustCompile(`(?i)&reg;|\(R\)|\[R\]|<SUP>R</SUP>|\(TM\)|<SUP>TM</SUP>|\(SM\)|<SUP>SM</SUP>`)
	usRe         = regexp.MustCompile(`\bU\.S\.`)
	numEntityRe  = regexp.MustCompile(`&#[0-9]+;`)
	spacesRe     = regexp.MustCompile(` +`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9]`)
)

// foldDiacritics strips combining marks so "Société" and "Societe" compare
// equal.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize canonicalizes a fund name for matching. Diacritics are folded,
// registration marks stripped, separators turned into spaces, "AND" folded
// to "&" and "U.S." to "US", numeric entities dropped and spaces collapsed.
func Normalize(name string) string {
	s := strings.ToUpper(foldDiacritics(name))
	s = markRe.ReplaceAllString(s, "")
	s = dropCharsRe.ReplaceAllString(s, "")
	s = spaceCharsRe.ReplaceAllString(s, " ")
	s = ampEntityRe.ReplaceAllString(s, "&")
	s = andWordRe.ReplaceAllString(s, " & ")
	s = usRe.ReplaceAllString(s, "US")
	s = numEntityRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// alphanum keeps only A-Z and 0-9 of a normalized name.
func alphanum(normalized string) string {
	return nonAlnumRe.ReplaceAllString(normalized, "")
}

// charSet is a bitmask over the 36 characters alphanum can contain.
type charSet uint64

func newCharSet(alnum string) charSet {
	var cs charSet
	for i := 0; i < len(alnum); i++ {
		c := alnum[i]
		switch {
		case c >= 'A' && c <= 'Z':
			cs |= 1 << (c - 'A')
		case c >= '0' && c <= '9':
			cs |= 1 << (26 + c - '0')
		}
	}
	return cs
}

func (cs charSet) shared(other charSet) int {
	return bits.OnesCount64(uint64(cs & other))
}
