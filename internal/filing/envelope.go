package filing

import (
	"bytes"
	"errors"
	"regexp"
)

// ErrNoText is returned when a filing's <TEXT> section holds nothing to render.
var ErrNoText = errors.New("filing has an empty <TEXT> section")

var (
	textOpen  = []byte("<TEXT>\n")
	textClose = []byte("</TEXT>\n")
)

// Envelope is a filing split into its metadata preamble and its body.
type Envelope struct {
	Preamble string
	Body     []byte
	// Sections counts the <TEXT> sections; only the first is kept in Body.
	Sections int
}

// SplitEnvelope splits raw at the first <TEXT> line. A filing without one is
// a bare document with an empty preamble.
func SplitEnvelope(raw []byte) (Envelope, error) {
	n := bytes.Count(raw, textOpen)
	if n == 0 {
		return Envelope{Body: raw}, nil
	}
	preamble, rest, _ := bytes.Cut(raw, textOpen)
	body, _, _ := bytes.Cut(rest, textClose)
	if len(bytes.TrimSpace(body)) == 0 {
		return Envelope{}, ErrNoText
	}
	return Envelope{Preamble: string(preamble), Body: body, Sections: n}, nil
}

var headerRe = regexp.MustCompile(`^\*+\s*FORM N-P[Xx] REPORT\s*\*+$`)

// headerScan is how many rendered lines are searched for the report header.
const headerScan = 200

// BodyStart returns the first line after the FORM N-PX report header, or 0.
// The header lists fund names that would otherwise be matched as titles.
func BodyStart(lines []string) int {
	for i := range min(headerScan, len(lines)) {
		if headerRe.MatchString(lines[i]) {
			return i + 1
		}
	}
	return 0
}
