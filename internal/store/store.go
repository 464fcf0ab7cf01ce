// Package store persists processed filings: the filing metadata, its
// reviewed fund matches and its attributed sections.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/funds"
)

// ErrNotFound is returned when a filing does not exist.
var ErrNotFound = errors.New("not found")

// Store is implemented by every persistence backend.
type Store interface {
	SaveFiling(ctx context.Context, f FilingRecord) error
	SaveFundMatches(ctx context.Context, filingID string, matches []FundMatchRecord) error
	SaveSections(ctx context.Context, filingID string, sections []filing.Section) error
	GetFiling(ctx context.Context, id string) (*FilingRecord, error)
	ListSections(ctx context.Context, filingID string) ([]filing.Section, error)
	ListFundMatches(ctx context.Context, filingID string) ([]FundMatchRecord, error)
	// FindByHash returns the id of a stored filing with the given content
	// hash, or ErrNotFound.
	FindByHash(ctx context.Context, contentHash string) (string, error)
	DeleteFiling(ctx context.Context, id string) error
	Close() error
}

// FilingRecord is the stored metadata of one filing.
type FilingRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Format      string    `json:"format"`
	NumLines    int       `json:"num_lines"`
	FirstLine   int       `json:"first_line"`
	SplitMethod string    `json:"split_method"`
	ContentHash string    `json:"content_hash"`
	Catalogue   []string  `json:"catalogue,omitempty"` // declared series names
	CreatedAt   time.Time `json:"created_at"`
}

// Match states.
const (
	StateOK       = "ok"
	StateSuspect  = "suspect"
	StateExcluded = "excluded"
)

// FundMatchRecord is one reviewed fund match.
type FundMatchRecord struct {
	ID         string   `json:"id"`
	Ordinal    int      `json:"ordinal"`
	SeriesName string   `json:"series_name"`
	Tickers    []string `json:"ticker_symbols"`
	Method     []string `json:"method"`
	FirstLine  int      `json:"first_line"`
	LastLine   int      `json:"last_line"`
	FundName   string   `json:"fund_name"` // normalized
	FundText   string   `json:"fund_text"`
	Score      int      `json:"score"`
	State      string   `json:"state"`
	Flagged    bool     `json:"flagged"`
	Reasons    []string `json:"reasons,omitempty"`
}

// NewFilingRecord builds the filing row for a processed result.
func NewFilingRecord(id, filename string, res *filing.Result) FilingRecord {
	var names []string
	for _, f := range res.Catalogue {
		names = append(names, f.OriginalName)
	}
	return FilingRecord{
		ID:          id,
		Filename:    filename,
		Format:      string(res.Format),
		NumLines:    res.NumLines,
		FirstLine:   res.FirstLine,
		SplitMethod: res.SplitMethod,
		ContentHash: res.ContentHash,
		Catalogue:   names,
		CreatedAt:   time.Now().UTC(),
	}
}

// FundMatchRecords converts reviewed matches into rows with fresh ids.
func FundMatchRecords(matches []*funds.Match) []FundMatchRecord {
	out := make([]FundMatchRecord, 0, len(matches))
	for i, m := range matches {
		state := StateOK
		switch {
		case m.Excluded:
			state = StateExcluded
		case m.Suspect:
			state = StateSuspect
		}
		out = append(out, FundMatchRecord{
			ID:         uuid.NewString(),
			Ordinal:    i,
			SeriesName: m.Fund.OriginalName,
			Tickers:    m.Fund.Tickers,
			Method:     m.Method,
			FirstLine:  m.FirstLine,
			LastLine:   m.LastLine,
			FundName:   m.Fund.Name,
			FundText:   m.Text,
			Score:      m.Score,
			State:      state,
			Flagged:    m.Suspect,
			Reasons:    m.Reasons,
		})
	}
	return out
}

// Save writes a processed filing and all its children under id.
func Save(ctx context.Context, s Store, id, filename string, res *filing.Result) error {
	if err := s.SaveFiling(ctx, NewFilingRecord(id, filename, res)); err != nil {
		return fmt.Errorf("save filing: %w", err)
	}
	if err := s.SaveFundMatches(ctx, id, FundMatchRecords(res.Matches)); err != nil {
		return fmt.Errorf("save fund matches: %w", err)
	}
	if err := s.SaveSections(ctx, id, res.Sections); err != nil {
		return fmt.Errorf("save sections: %w", err)
	}
	return nil
}
