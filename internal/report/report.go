// Package report builds the audit report of a processed filing: catalogue
// coverage, the reviewed fund matches and the attributed sections. The
// report is written as markdown and rendered to HTML with goldmark.
package report

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/store"
)

// Report is everything the audit report shows for one filing.
type Report struct {
	Filing   store.FilingRecord      `json:"filing"`
	Matches  []store.FundMatchRecord `json:"fund_matches"`
	Sections []filing.Section        `json:"sections"`
}

// FromResult builds a report for a result that has not been stored.
func FromResult(id, filename string, res *filing.Result) Report {
	return Report{
		Filing:   store.NewFilingRecord(id, filename, res),
		Matches:  store.FundMatchRecords(res.Matches),
		Sections: res.Sections,
	}
}

// Load reads a stored filing.
func Load(ctx context.Context, st store.Store, id string) (Report, error) {
	var r Report
	f, err := st.GetFiling(ctx, id)
	if err != nil {
		return r, err
	}
	r.Filing = *f
	if r.Matches, err = st.ListFundMatches(ctx, id); err != nil {
		return r, err
	}
	if r.Sections, err = st.ListSections(ctx, id); err != nil {
		return r, err
	}
	return r, nil
}

// Unmatched lists the catalogue funds without a match that survived review.
func (r Report) Unmatched() []string {
	found := make(map[string]bool)
	for _, m := range r.Matches {
		if m.State != store.StateExcluded {
			found[m.SeriesName] = true
		}
	}
	var out []string
	for _, name := range r.Filing.Catalogue {
		if !found[name] {
			out = append(out, name)
		}
	}
	return out
}

// Markdown writes the report as GitHub flavored markdown.
func (r Report) Markdown() []byte {
	var b bytes.Buffer
	f := r.Filing

	fmt.Fprintf(&b, "# Proxy vote audit: %s\n\n", cell(f.Filename))
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Filing | %s |\n", cell(f.ID))
	fmt.Fprintf(&b, "| Format | %s |\n", cell(f.Format))
	fmt.Fprintf(&b, "| Lines | %d (body from line %d) |\n", f.NumLines, f.FirstLine)
	fmt.Fprintf(&b, "| Split method | %s |\n", code(f.SplitMethod))
	if f.ContentHash != "" {
		fmt.Fprintf(&b, "| Content hash | %s |\n", code(f.ContentHash))
	}

	b.WriteString("\n## Catalogue coverage\n\n")
	unmatched := r.Unmatched()
	fmt.Fprintf(&b, "%d of %d funds matched.\n", len(f.Catalogue)-len(unmatched), len(f.Catalogue))
	if len(unmatched) > 0 {
		b.WriteString("\nNever matched:\n\n")
		for _, name := range unmatched {
			fmt.Fprintf(&b, "- %s\n", cell(name))
		}
	}

	b.WriteString("\n## Fund matches\n\n")
	if len(r.Matches) == 0 {
		b.WriteString("_No fund matches._\n")
	} else {
		b.WriteString("| # | Series | Lines | Text | Method | Score | State | Reasons |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, m := range r.Matches {
			fmt.Fprintf(&b, "| %d | %s | %d-%d | %s | %s | %d | %s | %s |\n",
				m.Ordinal+1, cell(m.SeriesName), m.FirstLine, m.LastLine, cell(m.FundText),
				cell(strings.Join(m.Method, ", ")), m.Score, m.State, cell(strings.Join(m.Reasons, "; ")))
		}
	}

	b.WriteString("\n## Sections\n\n")
	if len(r.Sections) == 0 {
		b.WriteString("_No anchor line found._\n")
		return b.Bytes()
	}
	b.WriteString("| # | Fund | Lines | Blocks | Attribution | Verdict | Flags |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for i, s := range r.Sections {
		fund := "_unresolved_"
		if !s.Unresolved {
			fund = cell(s.FundName)
		}
		var flags []string
		if s.Unresolved {
			flags = append(flags, "unresolved")
		}
		if s.Flagged {
			flags = append(flags, "flagged")
		}
		verdict := s.Verdict
		if verdict == "" {
			verdict = "-"
		}
		start, end := sectionSpan(s)
		fmt.Fprintf(&b, "| %d | %s | %d-%d | %d | %s | %s | %s |\n",
			i+1, fund, start, end, len(s.Blocks), cell(strings.Join(s.FundMethod, ", ")), verdict, strings.Join(flags, ", "))
	}
	return b.Bytes()
}

// HTML renders the report as a standalone HTML page.
func (r Report) HTML() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(r.Markdown(), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>Proxy vote audit: %s</title>\n", html.EscapeString(r.Filing.Filename))
	out.WriteString("<style>table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 6px}</style>\n")
	out.WriteString("</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

func sectionSpan(s filing.Section) (int, int) {
	if len(s.Blocks) == 0 {
		return 0, 0
	}
	return s.Blocks[0].Start, s.Blocks[len(s.Blocks)-1].End
}

var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"<", `\<`,
	"\n", " ",
)

// cell escapes text for a markdown table cell.
func cell(s string) string { return cellEscaper.Replace(s) }

func code(s string) string {
	if s == "" {
		return "-"
	}
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}
