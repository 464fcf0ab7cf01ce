package segment

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dgallion1/proxyvote/internal/anchor"
)

var tesla = anchor.New([]string{"Tesla"}, []string{"TSLA"})

func ranges(blocks []Block) [][2]int {
	var out [][2]int
	for _, b := range blocks {
		out = append(out, [2]int{b.Start, b.End})
	}
	return out
}

func TestSelect_Priority(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{
			name:  "company name marker",
			lines: []string{"x", "Company Name: TESLA INC", "  | Security | 1 |"},
			want:  MethodCompanyName,
		},
		{
			name:  "security on next line",
			lines: []string{"TESLA, INC.", "  | Security | 88160R101 |", "x"},
			want:  MethodSecurity1,
		},
		{
			name:  "security two lines down",
			lines: []string{"TESLA, INC.", "  | Agenda |", "  | Security: 88160R101 |"},
			want:  MethodSecurity2,
		},
		{
			name:  "double separator",
			lines: []string{"-----------", "TESLA, INC.", "-----------"},
			want:  MethodDoubleSep,
		},
		{
			name:  "huge table vote words",
			lines: []string{"  | APPLE | For |", "  | TESLA | For |", "  | IBM | Against |"},
			want:  MethodHugeTable,
		},
		{
			name:  "huge table vote codes",
			lines: []string{"  | AAPL | F |", "  | TSLA | N |", "  | IBM  | F |"},
			want:  MethodHugeTable,
		},
		{
			name:  "separator line above",
			lines: []string{"==========", "", "Meeting", "TESLA, INC.", "Proposal"},
			want:  "sep, ==========",
		},
		{
			name:  "embedded separator above",
			lines: []string{"Fund X ___ report", "TESLA, INC.", "Proposal"},
			want:  "sep, ___",
		},
		{
			name:  "indentation fallback",
			lines: []string{"Fund X", "TESLA, INC.", "  Proposal 1"},
			want:  MethodIndentation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			needle := tesla.First(tt.lines)
			if got := Select(tt.lines, needle).Name(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFindSeparator_LookbackLimit(t *testing.T) {
	lines := []string{"-----"}
	for range 25 {
		lines = append(lines, "text", "")
	}
	lines = append(lines, "TESLA")
	if got := findSeparator(lines, len(lines)-1); got != "" {
		t.Errorf("expected no separator beyond lookback, got %q", got)
	}
	// Line 2 is the 25th non-blank line above the anchor.
	lines[2] = "-----"
	if got := findSeparator(lines, len(lines)-1); got != "-----" {
		t.Errorf("expected %q, got %q", "-----", got)
	}
}

func TestSplitSeparator(t *testing.T) {
	lines := []string{"head", "---", "a", "b", "---", "c"}
	got := ranges(splitSeparator(lines, "---"))
	want := [][2]int{{0, 1}, {1, 4}, {4, 6}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSplitDoubleSeparator(t *testing.T) {
	lines := []string{"---", "Fund A", "---", "row", "---", "Fund B", "---", "row"}
	got := ranges(splitDoubleSeparator(lines, "---"))
	want := [][2]int{{0, 2}, {2, 4}, {4, 8}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSplitIndentation(t *testing.T) {
	lines := []string{"  preamble", "TESLA", "  item 1", "", "APPLE", "  item 1"}
	got := ranges(splitIndentation(lines))
	want := [][2]int{{0, 1}, {1, 4}, {4, 6}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSplitMarker_Offset(t *testing.T) {
	lines := []string{
		"TESLA, INC.",
		"  | Security | 1 |",
		"  | vote |",
		"APPLE INC.",
		"  | Security | 2 |",
	}
	got := ranges(splitMarker(lines, "| Security", 1))
	want := [][2]int{{0, 3}, {3, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSplitMarker_NeverMovesBackwards(t *testing.T) {
	lines := []string{"M", "M", "x", "M"}
	got := ranges(splitMarker(lines, "M", 2))
	want := [][2]int{{0, 1}, {1, 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSplitHugeTable_Transposes(t *testing.T) {
	lines := []string{
		"Fund A",
		"  | ------ | ---- |",
		"  | Issuer | Vote |",
		"  | TESLA  | For  |",
		"  | APPLE  | Against |",
		"end",
		"  | --- |",
	}
	blocks := splitHugeTable(lines)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Start != 3 || blocks[0].End != 4 {
		t.Errorf("unexpected range [%d,%d)", blocks[0].Start, blocks[0].End)
	}
	want := []string{"Issuer: TESLA", "Vote: For"}
	if !reflect.DeepEqual(blocks[0].Lines, want) {
		t.Errorf("expected %q, got %q", want, blocks[0].Lines)
	}
	if blocks[1].Lines[0] != "Issuer: APPLE" {
		t.Errorf("expected %q, got %q", "Issuer: APPLE", blocks[1].Lines[0])
	}
}

func TestSplitHugeTable_MultipleTables(t *testing.T) {
	lines := []string{
		"  | --- |",
		"  | Co  |",
		"  | A   |",
		"gap",
		"  | --- |",
		"  | Co  |",
		"  | B   |",
	}
	blocks := splitHugeTable(lines)
	if got := ranges(blocks); !reflect.DeepEqual(got, [][2]int{{2, 3}, {6, 7}}) {
		t.Errorf("unexpected ranges %v", got)
	}
	if blocks[1].Lines[0] != "Co: B" {
		t.Errorf("expected %q, got %q", "Co: B", blocks[1].Lines[0])
	}
}

func TestSections_MaximalRuns(t *testing.T) {
	blocks := []Block{
		{Start: 0, End: 1, Needle: -1},
		{Start: 1, End: 2, Needle: 1},
		{Start: 2, End: 3, Needle: 2},
		{Start: 3, End: 4, Needle: -1},
		{Start: 4, End: 5, Needle: 4},
	}
	secs := Sections(blocks)
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if len(secs[0].Blocks) != 2 || secs[0].Start() != 1 || secs[0].End() != 3 {
		t.Errorf("unexpected first section %+v", secs[0])
	}
	if secs[1].NeedleLine() != 4 {
		t.Errorf("expected needle 4, got %d", secs[1].NeedleLine())
	}
}

func TestSegment_Indentation(t *testing.T) {
	text := strings.Join([]string{
		"FUND ONE",
		"TESLA, INC.",
		"  Proposal 1   For",
		"TESLA, INC.",
		"  Proposal 2   Against",
		"APPLE INC.",
		"  Proposal 1   For",
		"TESLA, INC.",
		"  Proposal 3   For",
	}, "\n")
	res := Segment(strings.Split(text, "\n"), tesla)
	if res.Method != MethodIndentation {
		t.Fatalf("expected %q, got %q", MethodIndentation, res.Method)
	}
	if res.Total != 5 {
		t.Errorf("expected 5 blocks, got %d", res.Total)
	}
	if len(res.Blocks) != 3 {
		t.Errorf("expected 3 anchor blocks, got %d", len(res.Blocks))
	}
	if len(res.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(res.Sections))
	}
	if got := len(res.Sections[0].Blocks); got != 2 {
		t.Errorf("expected 2 blocks in first section, got %d", got)
	}
	if res.Sections[1].NeedleLine() != 7 {
		t.Errorf("expected needle 7, got %d", res.Sections[1].NeedleLine())
	}
}

func TestSegment_NoAnchor(t *testing.T) {
	res := Segment([]string{"nothing", "here"}, tesla)
	if res.Method != MethodNone || len(res.Sections) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}
