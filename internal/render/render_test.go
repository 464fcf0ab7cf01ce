package render

import (
	"strings"
	"sync"
	"testing"
)

func renderHTML(t *testing.T, src string) string {
	t.Helper()
	r := &HTMLRenderer{}
	out, err := r.Render([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Format
	}{
		{"doctype", "\n\n  <!DOCTYPE html>\n<html><body>x</body></html>", FormatHTML},
		{"html tag", "<HTML lang=\"en\">\n<body>x</body>", FormatHTML},
		{"html prefix word", "<htmlish>\n", FormatPlain},
		{"plain", "FORM N-PX\nFund: X\n", FormatPlain},
		{"html later", "Report\n<html><body>x</body></html>", FormatPlain},
		{"pdf", "%PDF-1.7\n...", FormatPDF},
		{"docx", "PK\x03\x04rest", FormatDOCX},
		{"empty", "", FormatPlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect([]byte(tt.raw)); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTextRenderer_Unchanged(t *testing.T) {
	input := "line one\n\n  | a | b |\nline four"
	f, out, err := Render([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != FormatPlain {
		t.Errorf("expected format %q, got %q", FormatPlain, f)
	}
	if out != input {
		t.Errorf("expected %q, got %q", input, out)
	}
	if got := len(Lines(out)); got != 4 {
		t.Errorf("expected 4 lines, got %d", got)
	}
}

func TestHTMLRenderer_ZeroWidthColumnDropped(t *testing.T) {
	src := "<html><body><table>" +
		"<tr><td>Apple</td><td></td><td>Bananas</td></tr>" +
		"<tr><td>Kiwi</td><td></td><td>Plum</td></tr>" +
		"</table></body></html>"
	out := renderHTML(t, src)

	want := "\n" +
		"  | ----- | ------- |\n" +
		"  | Apple | Bananas |\n" +
		"  | Kiwi  | Plum    |\n"
	if out != want {
		t.Fatalf("expected:\n%q\ngot:\n%q", want, out)
	}

	// The third source column lines up under the second ruler segment.
	lines := Lines(out)
	ruler := lines[1]
	second := strings.LastIndex(ruler, "| ") + 2
	for _, row := range lines[2:4] {
		if row[second-2:second] != "| " {
			t.Errorf("row %q not aligned at column %d", row, second)
		}
	}
	if !strings.HasPrefix(lines[2][second:], "Bananas") {
		t.Errorf("expected Bananas at column %d in %q", second, lines[2])
	}
}

func TestHTMLRenderer_ColspanSpreadsWidth(t *testing.T) {
	src := "<html><body><table>" +
		"<tr><td colspan=\"2\">ABCDEFGHIJ</td></tr>" +
		"<tr><td>x</td><td>y</td></tr>" +
		"</table></body></html>"
	out := renderHTML(t, src)
	want := "\n" +
		"  | ----- | ----- |\n" +
		"  | ABCDEFGHIJ    |\n" +
		"  | x     | y     |\n"
	if out != want {
		t.Fatalf("expected:\n%q\ngot:\n%q", want, out)
	}
}

func TestHTMLRenderer_MultiLineCell(t *testing.T) {
	src := "<html><body><table>" +
		"<tr><td>Fund</td><td>one<br>two</td></tr>" +
		"</table></body></html>"
	out := renderHTML(t, src)
	want := "\n" +
		"  | ---- | --- |\n" +
		"  | Fund | one |\n" +
		"  |      | two |\n"
	if out != want {
		t.Fatalf("expected:\n%q\ngot:\n%q", want, out)
	}
}

func TestHTMLRenderer_HeadingsAndWhitespace(t *testing.T) {
	src := "<html><body><p>Hello \n\t  world</p><h2>Votes  cast</h2><p>After</p></body></html>"
	out := renderHTML(t, src)
	want := "Hello world\n## Votes cast\n\nAfter"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestHTMLRenderer_PreVerbatim(t *testing.T) {
	src := "<html><body><p>Intro</p><PRE class=\"x\">  a   b\n  c &amp; d</PRE><p>Tail</p></body></html>"
	out := renderHTML(t, src)
	want := "Intro\n  a   b\n  c &amp; d\nTail"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestHTMLRenderer_SkipsCommentsAndScripts(t *testing.T) {
	src := "<html><head><style>p{}</style></head><body><p>A<!-- hidden -->B</p><script>var x;</script></body></html>"
	out := renderHTML(t, src)
	if out != "AB" {
		t.Errorf("expected %q, got %q", "AB", out)
	}
}

func TestHTMLRenderer_Idempotent(t *testing.T) {
	src := "<!DOCTYPE html><html><body><div>Fund A</div><table><tr><td>X</td><td>For</td></tr></table><pre>raw</pre></body></html>"
	_, first, err := Render([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, second, err := Render([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("renders differ:\n%q\n%q", first, second)
	}
}

func TestExtractPreBlocks(t *testing.T) {
	src, blocks := extractPreBlocks("a<pre>one</pre>b<Pre>two</PRE>c<pre>unterminated")
	if src != "a<pre>0</pre>b<Pre>1</PRE>c<pre>unterminated" {
		t.Errorf("unexpected substituted source %q", src)
	}
	if len(blocks) != 2 || blocks[0] != "one" || blocks[1] != "two" {
		t.Errorf("unexpected blocks %q", blocks)
	}
}

func TestCache_RenderAndReload(t *testing.T) {
	dir := t.TempDir()
	raw := []byte("<html><body><p>Fund A</p></body></html>")

	c, err := NewCache(dir, 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, err := c.Render("0000950123-24-000001.txt", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Format != FormatHTML || e.Text != "Fund A" {
		t.Fatalf("unexpected entry %+v", e)
	}

	// A fresh cache over the same directory serves from disk.
	c2, err := NewCache(dir, 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := c2.Get("0000950123-24-000001.txt")
	if !ok {
		t.Fatal("expected disk hit")
	}
	if got.Text != e.Text || got.TextHash != e.TextHash || got.Format != e.Format {
		t.Errorf("expected %+v, got %+v", e, got)
	}
}

func TestCache_StaleSourceRerenders(t *testing.T) {
	c, err := NewCache(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Render("doc", []byte("first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, err := c.Render("doc", []byte("second"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Text != "second" {
		t.Errorf("expected %q, got %q", "second", e.Text)
	}
}

func TestCache_ConcurrentFirstAccess(t *testing.T) {
	c, err := NewCache(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw := []byte("<html><body><table><tr><td>a</td></tr></table></body></html>")

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.Render("same", raw)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = e.Text
		}()
	}
	wg.Wait()
	for i, r := range results {
		if r != results[0] {
			t.Errorf("result[%d] differs: %q vs %q", i, r, results[0])
		}
	}
	if len(c.locks) != 0 {
		t.Errorf("expected key locks released, %d remain", len(c.locks))
	}
}

func TestCache_Purge(t *testing.T) {
	c, err := NewCache(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Render("doc", []byte("text")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Purge("doc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get("doc"); ok {
		t.Error("expected miss after purge")
	}
}

func TestForFormat_Unknown(t *testing.T) {
	if _, err := ForFormat(Format("xml")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestHTMLRenderer_DropsTableTail(t *testing.T) {
	src := "<html><body><div>Fund A</div><table><tr><td>X</td><td>For</td></tr></table>stray cell junk<p>Fund B</p></body></html>"
	_, out, err := Render([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "stray cell junk") {
		t.Errorf("expected table tail dropped, got %q", out)
	}
	for _, want := range []string{"Fund A", "For", "Fund B"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}
