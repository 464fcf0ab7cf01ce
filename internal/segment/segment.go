// Package segment splits rendered filing lines into blocks and groups the
// blocks that mention the subject security into sections.
package segment

import (
	"github.com/dgallion1/proxyvote/internal/anchor"
)

// Block is the half-open line range [Start, End) plus its lines. Lines are
// the literal document lines, except for transposed table rows where they
// are synthesized "header: value" pairs.
type Block struct {
	Start  int      `json:"start"`
	End    int      `json:"end"`
	Lines  []string `json:"lines"`
	Needle int      `json:"needle"` // first anchor line in the range, -1 if none
}

// Section is a maximal run of consecutive anchor-bearing blocks.
type Section struct {
	Blocks []Block `json:"blocks"`
}

// Start is the first line of the section.
func (s Section) Start() int { return s.Blocks[0].Start }

// End is the end of the section's last block.
func (s Section) End() int { return s.Blocks[len(s.Blocks)-1].End }

// NeedleLine is the first anchor line of the section.
func (s Section) NeedleLine() int { return s.Blocks[0].Needle }

// Result is the segmentation of one document.
type Result struct {
	Method   string    `json:"split_method"`
	Blocks   []Block   `json:"blocks"` // anchor-bearing blocks only
	Sections []Section `json:"sections"`
	Total    int       `json:"total_blocks"`
}

// Segment picks a strategy around the first anchor line, applies it to the
// whole document and groups the result. A document without any anchor line
// yields an empty result with method MethodNone.
func Segment(lines []string, loc *anchor.Locator) Result {
	needle := loc.First(lines)
	if needle < 0 {
		return Result{Method: MethodNone}
	}
	strategy := Select(lines, needle)
	all := strategy.Split(lines)
	markNeedles(all, lines, loc)

	res := Result{Method: strategy.Name(), Total: len(all)}
	for _, b := range all {
		if b.Needle >= 0 {
			res.Blocks = append(res.Blocks, b)
		}
	}
	res.Sections = Sections(all)
	return res
}

func markNeedles(blocks []Block, lines []string, loc *anchor.Locator) {
	for i := range blocks {
		blocks[i].Needle = -1
		end := min(blocks[i].End, len(lines))
		for j := max(blocks[i].Start, 0); j < end; j++ {
			if loc.Match(lines[j]) {
				blocks[i].Needle = j
				break
			}
		}
	}
}

// Sections groups blocks into maximal runs of consecutive blocks that carry
// an anchor line. A block without one always ends the current run.
func Sections(blocks []Block) []Section {
	var out []Section
	var cur []Block
	for _, b := range blocks {
		if b.Needle < 0 {
			if cur != nil {
				out = append(out, Section{Blocks: cur})
				cur = nil
			}
			continue
		}
		cur = append(cur, b)
	}
	if cur != nil {
		out = append(out, Section{Blocks: cur})
	}
	return out
}
