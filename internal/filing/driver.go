// Package filing runs one proxy voting filing through rendering, anchor
// segmentation and fund resolution, and emits the attributed sections.
package filing

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/proxyvote/internal/anchor"
	"github.com/dgallion1/proxyvote/internal/funds"
	"github.com/dgallion1/proxyvote/internal/metrics"
	"github.com/dgallion1/proxyvote/internal/render"
	"github.com/dgallion1/proxyvote/internal/segment"
)

// Options tunes a Driver. Zero fields take their defaults.
type Options struct {
	// Workers is the number of line ranges matched in parallel.
	Workers int
	// Overlap is how many lines before its range a worker starts scanning,
	// so skip-ahead state across the boundary matches a sequential run.
	Overlap int

	Additions  map[string][]string // nil means funds.DefaultAdditions
	Thresholds funds.Thresholds
	Review     funds.ReviewConfig
}

const defaultOverlap = 50

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	} else if o.Overlap == 0 {
		o.Overlap = defaultOverlap
	}
	if o.Thresholds == (funds.Thresholds{}) {
		o.Thresholds = funds.DefaultThresholds()
	}
	if o.Review == (funds.ReviewConfig{}) {
		o.Review = funds.DefaultReview()
	}
	return o
}

// Driver processes filings. It is safe for concurrent use.
type Driver struct {
	cache   *render.Cache
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewDriver creates a driver. cache may be nil, in which case every filing is
// rendered afresh.
func NewDriver(cache *render.Cache, opts Options, log *slog.Logger, m *metrics.Metrics) *Driver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Driver{cache: cache, opts: opts.withDefaults(), log: log, metrics: m}
}

// Section is one attributed run of anchor-bearing blocks.
type Section struct {
	FundName    string          `json:"fund_name,omitempty"`
	Tickers     []string        `json:"ticker_symbols,omitempty"`
	Blocks      []segment.Block `json:"blocks"`
	SplitMethod string          `json:"split_method"`
	FundMethod  []string        `json:"fund_method,omitempty"`
	FundText    string          `json:"fund_text,omitempty"`
	Unresolved  bool            `json:"unresolved"`
	Flagged     bool            `json:"flagged"`
	Verdict     string          `json:"verdict,omitempty"`
}

// State is the resolution state reported in metrics and stores.
func (s Section) State() string {
	switch {
	case s.Unresolved:
		return "unresolved"
	case s.Flagged:
		return "flagged"
	default:
		return "resolved"
	}
}

// Text joins the section's block lines.
func (s Section) Text() string {
	var n int
	for _, b := range s.Blocks {
		for _, l := range b.Lines {
			n += len(l) + 1
		}
	}
	buf := make([]byte, 0, n)
	for _, b := range s.Blocks {
		for _, l := range b.Lines {
			buf = append(buf, l...)
			buf = append(buf, '\n')
		}
	}
	return string(buf)
}

// Result is the output for one filing.
type Result struct {
	ID          string         `json:"id"`
	Format      render.Format  `json:"format"`
	NumLines    int            `json:"num_lines"`
	FirstLine   int            `json:"first_line"`
	SplitMethod string         `json:"split_method"`
	ContentHash string         `json:"content_hash"`
	Catalogue   []*funds.Fund  `json:"catalogue"`
	Matches     []*funds.Match `json:"fund_matches"`
	Sections    []Section      `json:"sections"`
}

// Unresolved counts sections without a fund.
func (r *Result) Unresolved() int {
	n := 0
	for _, s := range r.Sections {
		if s.Unresolved {
			n++
		}
	}
	return n
}

// Partial reports whether some section could not be attributed.
func (r *Result) Partial() bool { return r.Unresolved() > 0 }

// Outcome summarizes the result for metrics and job status.
func (r *Result) Outcome() string {
	switch {
	case len(r.Sections) == 0:
		return "empty"
	case r.Partial():
		return "partial"
	default:
		return "completed"
	}
}

// Document is a loaded filing, rendered and split into lines.
type Document struct {
	ID          string
	Format      render.Format
	Lines       []string
	FirstLine   int
	Catalogue   *funds.Catalogue
	ContentHash string

	started time.Time
}

// Load splits the envelope of raw, renders its body and parses the fund
// catalogue from its preamble.
func (d *Driver) Load(id string, raw []byte) (*Document, error) {
	start := time.Now()
	env, err := SplitEnvelope(raw)
	if err != nil {
		d.metrics.FilingProcessed("failed", time.Since(start))
		return nil, err
	}
	if env.Sections > 1 {
		d.log.Warn("multiple <TEXT> sections, keeping the first", "filing_id", id, "sections", env.Sections)
	}

	var entry render.Entry
	if d.cache != nil {
		entry, err = d.cache.Render(id, env.Body)
	} else {
		entry.Format, entry.Text, err = render.Render(env.Body)
	}
	if err != nil {
		d.metrics.FilingProcessed("failed", time.Since(start))
		return nil, fmt.Errorf("render %s: %w", id, err)
	}

	lines := render.Lines(entry.Text)
	return &Document{
		ID:          id,
		Format:      entry.Format,
		Lines:       lines,
		FirstLine:   BodyStart(lines),
		Catalogue:   funds.ParseSeries(env.Preamble, d.opts.Additions),
		ContentHash: render.ContentHash(raw),
		started:     start,
	}, nil
}

// Process runs one filing end to end. loc names the subject security. A
// filing without any anchor line yields a result with no sections.
func (d *Driver) Process(ctx context.Context, id string, raw []byte, loc *anchor.Locator) (*Result, error) {
	doc, err := d.Load(id, raw)
	if err != nil {
		return nil, err
	}
	return d.Analyze(ctx, doc, loc)
}

// Analyze segments a loaded document around the anchor lines of loc and
// attributes every section to a fund.
func (d *Driver) Analyze(ctx context.Context, doc *Document, loc *anchor.Locator) (*Result, error) {
	start := doc.started
	if start.IsZero() {
		start = time.Now()
	}
	log := d.log.With("filing_id", doc.ID)
	log.Info("rendered filing", "format", doc.Format, "lines", len(doc.Lines), "funds", doc.Catalogue.Len(), "first_line", doc.FirstLine)

	res := &Result{
		ID:          doc.ID,
		Format:      doc.Format,
		NumLines:    len(doc.Lines),
		FirstLine:   doc.FirstLine,
		ContentHash: doc.ContentHash,
		Catalogue:   doc.Catalogue.Funds,
	}

	seg := segment.Segment(doc.Lines, loc)
	res.SplitMethod = seg.Method
	if len(seg.Sections) == 0 {
		log.Info("no anchor line found")
		d.metrics.FilingProcessed(res.Outcome(), time.Since(start))
		return res, nil
	}
	log.Info("segmented filing", "split_method", seg.Method, "blocks", seg.Total, "sections", len(seg.Sections))

	var err error
	res.Matches, err = d.Resolve(ctx, doc)
	if err != nil {
		d.metrics.FilingProcessed("failed", time.Since(start))
		return nil, err
	}
	res.Sections = d.attribute(log, doc, seg, res.Matches)

	if n := res.Unresolved(); n > 0 {
		log.Warn("sections without a fund", "unresolved", n, "sections", len(res.Sections))
	}
	d.metrics.FilingProcessed(res.Outcome(), time.Since(start))
	return res, nil
}

// Resolve finds and reviews the fund matches in the body of doc. The body is
// split into contiguous ranges matched in parallel.
func (d *Driver) Resolve(ctx context.Context, doc *Document) ([]*funds.Match, error) {
	matcher := funds.NewMatcher(doc.Catalogue, doc.Lines, d.opts.Thresholds, d.log.With("filing_id", doc.ID))
	ranges := Partition(doc.FirstLine, len(doc.Lines), d.opts.Workers)

	results := make([][]*funds.Match, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scan := max(doc.FirstLine, r.Start-d.opts.Overlap)
			for _, m := range matcher.ProcessRange(scan, r.End) {
				if m.FirstLine >= r.Start {
					results[i] = append(results[i], m)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match fund names: %w", err)
	}

	var all []*funds.Match
	for _, ms := range results {
		all = append(all, ms...)
	}
	reviewed := funds.Review(all, doc.Catalogue, doc.FirstLine, len(doc.Lines), d.opts.Review)

	for _, f := range funds.Unmatched(doc.Catalogue, reviewed) {
		d.log.Debug("fund not found", "filing_id", doc.ID, "fund", f.OriginalName, "normalized", f.Name)
	}
	return reviewed, nil
}

func (d *Driver) attribute(log *slog.Logger, doc *Document, seg segment.Result, matches []*funds.Match) []Section {
	out := make([]Section, 0, len(seg.Sections))
	for _, s := range seg.Sections {
		sec := Section{Blocks: s.Blocks, SplitMethod: seg.Method}
		m, skipped := funds.At(matches, s.NeedleLine())
		switch {
		case m != nil:
			sec.FundName = m.Fund.OriginalName
			sec.Tickers = m.Fund.Tickers
			sec.FundMethod = slices.Clone(m.Method)
			sec.FundText = m.Text
			sec.Flagged = m.Suspect
			if skipped {
				// The fund's own span ended at an excluded match.
				sec.FundMethod = append(sec.FundMethod, "after(excluded)")
				sec.Flagged = true
			}
		case doc.Catalogue.Len() == 1:
			f := doc.Catalogue.Funds[0]
			sec.FundName = f.OriginalName
			sec.Tickers = f.Tickers
			sec.FundMethod = []string{"default"}
		default:
			sec.Unresolved = true
			log.Warn("no fund for section", "needle", s.NeedleLine(), "start", s.Start(), "end", s.End())
		}
		d.metrics.SectionEmitted(sec.State())
		out = append(out, sec)
	}
	return out
}

// Range is a half-open line range handled by one worker.
type Range struct{ Start, End int }

// Partition splits [first, end) into at most n contiguous ranges of near
// equal size. The last range absorbs the remainder.
func Partition(first, end, n int) []Range {
	total := end - first
	if total <= 0 {
		return nil
	}
	n = max(1, min(n, total))
	size := total / n
	out := make([]Range, n)
	for i := range n {
		out[i] = Range{Start: first + i*size, End: first + (i+1)*size}
	}
	out[n-1].End = end
	return out
}
