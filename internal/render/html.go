package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLRenderer renders HTML filings to text. Tables become fixed-width pipe
// grids so column alignment survives for the segmenter.
type HTMLRenderer struct{}

var (
	preStartRe = regexp.MustCompile(`(?i)<pre[^>]*>`)
	preEndRe   = regexp.MustCompile(`(?i)</pre>`)
	spaceRunRe = regexp.MustCompile("[ \t\r\u00a0]+")
)

func (r *HTMLRenderer) Render(raw []byte) (string, error) {
	src, pre := extractPreBlocks(string(raw))
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrUnparseable, err)
	}

	var sb strings.Builder
	w := &docWriter{out: &sb, pre: pre}
	w.sink.emit = w.write
	w.walk(doc)
	return sb.String(), nil
}

// extractPreBlocks replaces the content of every <pre> element with its index
// in the returned slice. Preformatted blocks are reinserted verbatim after
// parsing, untouched by whitespace collapsing.
func extractPreBlocks(src string) (string, []string) {
	var blocks []string
	var out strings.Builder
	pos := 0
	for {
		start := preStartRe.FindStringIndex(src[pos:])
		if start == nil {
			break
		}
		textStart := pos + start[1]
		end := preEndRe.FindStringIndex(src[textStart:])
		if end == nil {
			break
		}
		textEnd := textStart + end[0]
		out.WriteString(src[pos:textStart])
		out.WriteString(strconv.Itoa(len(blocks)))
		blocks = append(blocks, src[textStart:textEnd])
		pos = textEnd
	}
	if blocks == nil {
		return src, nil
	}
	out.WriteString(src[pos:])
	return out.String(), blocks
}

// preBlock resolves a placeholder left by extractPreBlocks.
func preBlock(n *html.Node, blocks []string) (string, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(innerText(n)))
	if err != nil || idx < 0 || idx >= len(blocks) {
		return "", false
	}
	return blocks[idx], true
}

func innerText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// textSink collapses whitespace the way a browser would for inline content:
// any whitespace run becomes at most one pending space, block boundaries
// become one pending newline, and a pending newline always wins.
type textSink struct {
	addSpace   bool
	addNewline bool
	emit       func(string)
}

func (s *textSink) addText(text string) {
	text = strings.ReplaceAll(text, "\n", " ")
	if strings.TrimSpace(text) == "" {
		s.addSpace = true
		return
	}
	text = spaceRunRe.ReplaceAllString(text, " ")
	if s.addNewline {
		text = "\n" + text
		s.addSpace = false
		s.addNewline = false
	} else if s.addSpace {
		text = " " + text
		s.addSpace = false
	}
	s.emit(text)
}

func (s *textSink) breakLine() {
	s.addNewline = true
	s.addSpace = false
}

func isSkipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript:
		return true
	}
	return false
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// cellText renders the text of an element with only div, p and br forcing
// line breaks. It is used for table cells and headings.
func cellText(n *html.Node, pre []string) string {
	var parts []string
	s := &textSink{emit: func(t string) { parts = append(parts, t) }}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.TextNode:
			s.addText(n.Data)
			return
		case html.ElementNode:
			if isSkipped(n) {
				return
			}
			if n.DataAtom == atom.Pre {
				if block, ok := preBlock(n, pre); ok {
					s.addText(block)
				}
				s.breakLine()
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Div, atom.P, atom.Br:
				s.breakLine()
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

type docWriter struct {
	out     *strings.Builder
	pre     []string
	sink    textSink
	lastNL  bool
	written bool
}

func (w *docWriter) write(s string) {
	if s == "" {
		return
	}
	w.out.WriteString(s)
	w.written = true
	w.lastNL = s[len(s)-1] == '\n'
}

// startLine makes sure the next write begins a fresh line.
func (w *docWriter) startLine() {
	if w.written && !w.lastNL {
		w.write("\n")
	}
	w.sink.addNewline = false
	w.sink.addSpace = false
}

func (w *docWriter) walk(n *html.Node) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		w.sink.addText(n.Data)
		return
	case html.DocumentNode:
		w.walkChildren(n)
		return
	}
	if isSkipped(n) {
		return
	}

	switch n.DataAtom {
	case atom.Table:
		newGrid(n, w.pre).writeTo(w)
		w.sink.breakLine()
		return
	case atom.Pre:
		if block, ok := preBlock(n, w.pre); ok {
			w.startLine()
			w.write(block)
		}
		w.sink.breakLine()
		return
	}

	if level := headingLevel(n.DataAtom); level > 0 {
		w.startLine()
		w.write(strings.Repeat("#", level) + " " + cellText(n, w.pre) + "\n")
		w.sink.breakLine()
		return
	}

	w.walkChildren(n)
	switch n.DataAtom {
	case atom.Html, atom.Body, atom.Div, atom.P, atom.Br:
		w.sink.breakLine()
	}
}

// walkChildren renders the children of n. Text directly following a table is
// stray cell content and is dropped.
func (w *docWriter) walkChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
		if c.Type == html.ElementNode && c.DataAtom == atom.Table &&
			c.NextSibling != nil && c.NextSibling.Type == html.TextNode {
			c = c.NextSibling
		}
	}
}
