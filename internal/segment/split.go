package segment

import (
	"strings"
)

func newBlock(lines []string, start, end int) Block {
	return Block{Start: start, End: end, Lines: lines[start:end:end], Needle: -1}
}

// splitSeparator starts a new block on every line containing sep.
func splitSeparator(lines []string, sep string) []Block {
	var blocks []Block
	start := 0
	for i, line := range lines {
		if strings.Contains(line, sep) {
			if i > start {
				blocks = append(blocks, newBlock(lines, start, i))
			}
			start = i
		}
	}
	if start < len(lines) {
		blocks = append(blocks, newBlock(lines, start, len(lines)))
	}
	return blocks
}

// splitDoubleSeparator starts a new block where sep appears on a line and
// again two lines further down, the shape of a framed title.
func splitDoubleSeparator(lines []string, sep string) []Block {
	var blocks []Block
	start := 0
	for i := range lines {
		if i+2 < len(lines) && strings.Contains(lines[i], sep) && strings.Contains(lines[i+2], sep) {
			if i > start {
				blocks = append(blocks, newBlock(lines, start, i))
			}
			start = i
		}
	}
	if start < len(lines) {
		blocks = append(blocks, newBlock(lines, start, len(lines)))
	}
	return blocks
}

// splitIndentation starts a new block on every non-empty line that does not
// begin with a space.
func splitIndentation(lines []string) []Block {
	var blocks []Block
	start := 0
	for i, line := range lines {
		if line != "" && line[0] != ' ' {
			if i > start {
				blocks = append(blocks, newBlock(lines, start, i))
			}
			start = i
		}
	}
	if start < len(lines) {
		blocks = append(blocks, newBlock(lines, start, len(lines)))
	}
	return blocks
}

// splitMarker starts a new block offset lines above every line containing
// marker. Cut points never move backwards past the previous one.
func splitMarker(lines []string, marker string, offset int) []Block {
	var blocks []Block
	start := 0
	for i, line := range lines {
		if !strings.Contains(line, marker) {
			continue
		}
		cut := max(i-offset, start)
		if cut > start {
			blocks = append(blocks, newBlock(lines, start, cut))
		}
		start = cut
	}
	if start < len(lines) {
		blocks = append(blocks, newBlock(lines, start, len(lines)))
	}
	return blocks
}

type column struct{ start, end int }

// rulerColumns derives column rune ranges from a dashed ruler row. Each run
// of '-' is one column; the range extends one rune past the run.
func rulerColumns(ruler []rune) []column {
	var cols []column
	inFrame := true
	start := 0
	for i, c := range ruler {
		if inFrame {
			if c == '-' {
				inFrame = false
				start = i
			}
		} else if c != '-' {
			inFrame = true
			cols = append(cols, column{start, i + 1})
		}
	}
	return cols
}

func sliceCol(line []rune, c column) string {
	start := min(c.start, len(line))
	end := min(c.end, len(line))
	return strings.TrimSpace(string(line[start:end]))
}

// splitHugeTable transposes wide vote tables. After each dashed ruler the
// next row holds the headers, and every following grid row becomes its own
// block of "header: value" lines. A table ends at the first line that is not
// a grid row; a table cut short by the end of the document simply stops.
func splitHugeTable(lines []string) []Block {
	var blocks []Block
	index := 0
	for index < len(lines) {
		for index < len(lines) && !strings.HasPrefix(lines[index], "  | -") {
			index++
		}
		if index+1 >= len(lines) {
			break
		}
		cols := rulerColumns([]rune(lines[index]))
		header := []rune(lines[index+1])
		headers := make([]string, len(cols))
		for i, c := range cols {
			headers[i] = sliceCol(header, c)
		}
		index += 2

		for ; index < len(lines); index++ {
			line := lines[index]
			if !strings.HasPrefix(line, "  |") {
				break
			}
			row := []rune(line)
			out := make([]string, len(cols))
			for i, c := range cols {
				out[i] = headers[i] + ": " + sliceCol(row, c)
			}
			blocks = append(blocks, Block{Start: index, End: index + 1, Lines: out, Needle: -1})
		}
	}
	return blocks
}
