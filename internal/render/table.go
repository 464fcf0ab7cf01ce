package render

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	rowPrefix = "  | "
	rowSuffix = " |"
	colSep    = " | "

	// maxColspan mirrors the HTML limit on the colspan attribute.
	maxColspan = 1000
)

type gridCell struct {
	span int
	text string
}

// grid is a table flattened to rows of cells plus the running width of every
// column. A column's width is the widest share of any cell anchored on it.
type grid struct {
	pre    []string
	rows   [][]gridCell
	widths []int
	row    []gridCell
	col    int
}

func newGrid(table *html.Node, pre []string) *grid {
	g := &grid{pre: pre}
	for c := table.FirstChild; c != nil; c = c.NextSibling {
		g.traverse(c)
	}
	return g
}

func (g *grid) traverse(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}
	switch n.DataAtom {
	case atom.Tr:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				g.addCell(c)
			}
		}
		g.flush()
	case atom.Td, atom.Th:
		g.addCell(n)
		g.flush()
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			g.traverse(c)
		}
	}
}

func colspan(n *html.Node) int {
	for _, a := range n.Attr {
		if a.Key != "colspan" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(a.Val))
		if err != nil || v < 1 {
			return 1
		}
		return min(v, maxColspan)
	}
	return 1
}

func (g *grid) addCell(n *html.Node) {
	span := colspan(n)
	start := g.col
	for g.col < start+span {
		if g.col >= len(g.widths) {
			g.widths = append(g.widths, 0)
		}
		g.col++
	}
	text := cellText(n, g.pre)
	longest := 0
	for _, line := range strings.Split(text, "\n") {
		longest = max(longest, utf8.RuneCountInString(line))
	}
	perCol := (longest + span - 1) / span
	for i := start; i < g.col; i++ {
		g.widths[i] = max(g.widths[i], perCol)
	}
	g.row = append(g.row, gridCell{span: span, text: text})
}

func (g *grid) flush() {
	g.rows = append(g.rows, g.row)
	g.row = nil
	g.col = 0
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// writeTo emits the grid: a dashed ruler sized to each populated column, then
// every row padded to the column widths. Zero-width columns are dropped from
// every row. Multi-line cells expand into extra rows, with blank cells filled
// in around them so columns stay aligned.
func (g *grid) writeTo(w *docWriter) {
	zero := make([]bool, len(g.widths))
	var ruler []string
	for i, width := range g.widths {
		if width == 0 {
			zero[i] = true
			continue
		}
		ruler = append(ruler, strings.Repeat("-", width))
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(rowPrefix + strings.Join(ruler, colSep) + rowSuffix + "\n")

	blank := func(j int) string { return strings.Repeat(" ", g.widths[j]) }

	for _, row := range g.rows {
		lines := [][]string{nil}
		ends := []int{0}
		i := 0
		for _, c := range row {
			if i >= len(zero) || zero[i] {
				i += c.span
				continue
			}
			width, cols := 0, 0
			for j := i; j < i+c.span && j < len(g.widths); j++ {
				if !zero[j] {
					width += g.widths[j]
					cols++
				}
			}
			if cols > 1 {
				width += len(colSep) * (cols - 1)
			}
			for li, text := range strings.Split(c.text, "\n") {
				if li >= len(lines) {
					lines = append(lines, nil)
					ends = append(ends, 0)
				}
				for j := ends[li]; j < i; j++ {
					if !zero[j] {
						lines[li] = append(lines[li], blank(j))
					}
				}
				lines[li] = append(lines[li], padRight(text, width))
				ends[li] = i + c.span
			}
			i += c.span
		}
		for li, cells := range lines {
			for j := ends[li]; j < len(g.widths); j++ {
				if !zero[j] {
					cells = append(cells, blank(j))
				}
			}
			sb.WriteString(rowPrefix + strings.Join(cells, colSep) + rowSuffix + "\n")
		}
	}
	w.write(sb.String())
}
