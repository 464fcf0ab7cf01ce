package report

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/funds"
	"github.com/dgallion1/proxyvote/internal/render"
	"github.com/dgallion1/proxyvote/internal/segment"
	"github.com/dgallion1/proxyvote/internal/store"
)

func sampleResult() *filing.Result {
	alpha := funds.NewFund("Alpha Growth Fund", []string{"ALGRX"})
	beta := funds.NewFund("Beta Income Fund", nil)
	gamma := funds.NewFund("Gamma | Delta Fund", nil)
	return &filing.Result{
		Format:      render.FormatPlain,
		NumLines:    40,
		FirstLine:   3,
		SplitMethod: "sep, ----------",
		ContentHash: "abc123",
		Catalogue:   []*funds.Fund{alpha, beta, gamma},
		Matches: []*funds.Match{
			{Fund: alpha, Text: "Alpha Growth Fund", Method: []string{"exact", "title"}, Score: 17, FirstLine: 4, LastLine: 20},
			{Fund: beta, Text: "BETA INC", Method: []string{"levenshtein(12)"}, Score: 3, FirstLine: 20, LastLine: 40,
				Suspect: true, Excluded: true, Reasons: []string{"levenshtein(12) > 7"}},
		},
		Sections: []filing.Section{
			{
				FundName:    "Alpha Growth Fund",
				SplitMethod: "sep, ----------",
				FundMethod:  []string{"exact", "title"},
				Verdict:     "For",
				Blocks: []segment.Block{
					{Start: 6, End: 9, Needle: 7, Lines: []string{"----------", "TESLA, INC.", "Ticker: TSLA"}},
					{Start: 9, End: 11, Needle: 10, Lines: []string{"----------", "TSLA 1 For"}},
				},
			},
			{
				SplitMethod: "sep, ----------",
				Unresolved:  true,
				Blocks:      []segment.Block{{Start: 30, End: 32, Needle: 31, Lines: []string{"----------", "TESLA"}}},
			},
		},
	}
}

func TestUnmatched(t *testing.T) {
	r := FromResult("filing-1", "a.txt", sampleResult())
	want := []string{"Beta Income Fund", "Gamma | Delta Fund"}
	if got := r.Unmatched(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMarkdown(t *testing.T) {
	md := string(FromResult("filing-1", "a.txt", sampleResult()).Markdown())

	for _, want := range []string{
		"# Proxy vote audit: a.txt\n",
		"| Split method | `sep, ----------` |\n",
		"1 of 3 funds matched.\n",
		"- Gamma \\| Delta Fund\n",
		"| 1 | Alpha Growth Fund | 4-20 | Alpha Growth Fund | exact, title | 17 | ok |",
		"| 2 | Beta Income Fund | 20-40 | BETA INC | levenshtein(12) | 3 | excluded | levenshtein(12) > 7 |\n",
		"| 1 | Alpha Growth Fund | 6-11 | 2 | exact, title | For |  |\n",
		"| 2 | _unresolved_ | 30-32 | 1 |  | - | unresolved |\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("expected markdown to contain %q\n%s", want, md)
		}
	}
}

func TestMarkdown_Structure(t *testing.T) {
	src := FromResult("filing-1", "a.txt", sampleResult()).Markdown()
	doc := goldmark.New(goldmark.WithExtensions(extension.Table)).Parser().Parse(text.NewReader(src))

	var headings []string
	tables := 0
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 2 {
				headings = append(headings, string(node.Lines().Value(src)))
			}
		default:
			if n.Kind().String() == "Table" {
				tables++
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{"Catalogue coverage", "Fund matches", "Sections"}
	if !reflect.DeepEqual(headings, want) {
		t.Errorf("expected headings %v, got %v", want, headings)
	}
	if tables != 3 {
		t.Errorf("expected 3 tables, got %d", tables)
	}
}

func TestHTML(t *testing.T) {
	res := sampleResult()
	res.Matches = nil
	page, err := FromResult("filing-1", "a&b.txt", res).HTML()
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	out := string(page)
	for _, want := range []string{
		"<title>Proxy vote audit: a&amp;b.txt</title>",
		"<h2>Catalogue coverage</h2>",
		"<em>No fund matches.</em>",
		"<em>unresolved</em>",
		"0 of 3 funds matched.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected html to contain %q\n%s", want, out)
		}
	}
	if n := strings.Count(out, "<table>"); n != 2 {
		t.Errorf("expected 2 tables, got %d", n)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "proxyvote.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	res := sampleResult()
	if err := store.Save(ctx, st, "filing-1", "a.txt", res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	r, err := Load(ctx, st, "filing-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.Matches) != 2 || len(r.Sections) != 2 || len(r.Filing.Catalogue) != 3 {
		t.Errorf("unexpected report %+v", r)
	}
	want := string(FromResult("filing-1", "a.txt", res).Markdown())
	if got := string(r.Markdown()); got != want {
		t.Errorf("stored report differs:\nexpected %s\ngot      %s", want, got)
	}

	if _, err := Load(ctx, st, "missing"); err == nil {
		t.Error("expected error for a missing filing")
	}
}
