package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/segment"
)

// SQLiteStore keeps filings in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path with WAL journaling and
// foreign keys on every connection, and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS filings (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	format TEXT,
	num_lines INTEGER,
	first_line INTEGER,
	split_method TEXT,
	content_hash TEXT,
	catalogue TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS filings_content_hash ON filings(content_hash);

CREATE TABLE IF NOT EXISTS fund_matches (
	id TEXT PRIMARY KEY,
	filing_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	series_name TEXT NOT NULL,
	ticker_symbols TEXT,
	method TEXT,
	first_line INTEGER,
	last_line INTEGER,
	fund_name TEXT,
	fund_text TEXT,
	score INTEGER,
	state TEXT,
	flagged INTEGER NOT NULL DEFAULT 0,
	reasons TEXT,
	FOREIGN KEY(filing_id) REFERENCES filings(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	filing_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	fund_name TEXT,
	tickers TEXT,
	split_method TEXT,
	fund_method TEXT,
	fund_text TEXT,
	unresolved INTEGER NOT NULL DEFAULT 0,
	flagged INTEGER NOT NULL DEFAULT 0,
	verdict TEXT,
	FOREIGN KEY(filing_id) REFERENCES filings(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS blocks (
	section_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	needle_line INTEGER NOT NULL,
	text TEXT,
	PRIMARY KEY(section_id, ordinal),
	FOREIGN KEY(section_id) REFERENCES sections(id) ON DELETE CASCADE
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s.String), &v); err != nil || len(v) == 0 {
		return nil
	}
	return v
}

// SaveFiling inserts or replaces the filing row. Replacing a filing drops
// its previous matches and sections.
func (s *SQLiteStore) SaveFiling(ctx context.Context, f FilingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteFilingTx(ctx, tx, f.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO filings (id, filename, format, num_lines, first_line, split_method, content_hash, catalogue, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Filename, f.Format, f.NumLines, f.FirstLine, f.SplitMethod, f.ContentHash, encodeList(f.Catalogue),
		f.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert filing: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveFundMatches(ctx context.Context, filingID string, matches []FundMatchRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_matches WHERE filing_id = ?`, filingID); err != nil {
		return fmt.Errorf("clear fund matches: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fund_matches (id, filing_id, ordinal, series_name, ticker_symbols, method,
			first_line, last_line, fund_name, fund_text, score, state, flagged, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range matches {
		_, err := stmt.ExecContext(ctx, m.ID, filingID, m.Ordinal, m.SeriesName, encodeList(m.Tickers),
			encodeList(m.Method), m.FirstLine, m.LastLine, m.FundName, m.FundText, m.Score, m.State,
			m.Flagged, encodeList(m.Reasons))
		if err != nil {
			return fmt.Errorf("insert fund match %d: %w", m.Ordinal, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveSections(ctx context.Context, filingID string, sections []filing.Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteSectionsTx(ctx, tx, filingID); err != nil {
		return err
	}
	secStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sections (id, filing_id, ordinal, fund_name, tickers, split_method, fund_method,
			fund_text, unresolved, flagged, verdict)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer secStmt.Close()
	blockStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blocks (section_id, ordinal, start_line, end_line, needle_line, text)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer blockStmt.Close()

	for i, sec := range sections {
		id := ulid.Make().String()
		_, err := secStmt.ExecContext(ctx, id, filingID, i, sec.FundName, encodeList(sec.Tickers),
			sec.SplitMethod, encodeList(sec.FundMethod), sec.FundText, sec.Unresolved, sec.Flagged, sec.Verdict)
		if err != nil {
			return fmt.Errorf("insert section %d: %w", i, err)
		}
		for j, b := range sec.Blocks {
			_, err := blockStmt.ExecContext(ctx, id, j, b.Start, b.End, b.Needle, strings.Join(b.Lines, "\n"))
			if err != nil {
				return fmt.Errorf("insert block %d of section %d: %w", j, i, err)
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFiling(ctx context.Context, id string) (*FilingRecord, error) {
	var (
		f          FilingRecord
		format     sql.NullString
		split      sql.NullString
		hash       sql.NullString
		catalogue  sql.NullString
		numLines   sql.NullInt64
		firstLine  sql.NullInt64
		createdStr string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, format, num_lines, first_line, split_method, content_hash, catalogue, created_at
		FROM filings WHERE id = ?`, id).
		Scan(&f.ID, &f.Filename, &format, &numLines, &firstLine, &split, &hash, &catalogue, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get filing: %w", err)
	}
	f.Format, f.SplitMethod, f.ContentHash = format.String, split.String, hash.String
	f.NumLines, f.FirstLine = int(numLines.Int64), int(firstLine.Int64)
	f.Catalogue = decodeList(catalogue)
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &f, nil
}

func (s *SQLiteStore) ListFundMatches(ctx context.Context, filingID string) ([]FundMatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ordinal, series_name, ticker_symbols, method, first_line, last_line,
			fund_name, fund_text, score, state, flagged, reasons
		FROM fund_matches WHERE filing_id = ? ORDER BY ordinal`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list fund matches: %w", err)
	}
	defer rows.Close()

	var out []FundMatchRecord
	for rows.Next() {
		var (
			m                        FundMatchRecord
			tickers, method, reasons sql.NullString
			name, text, state        sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Ordinal, &m.SeriesName, &tickers, &method, &m.FirstLine, &m.LastLine,
			&name, &text, &m.Score, &state, &m.Flagged, &reasons); err != nil {
			return nil, fmt.Errorf("scan fund match: %w", err)
		}
		m.Tickers, m.Method, m.Reasons = decodeList(tickers), decodeList(method), decodeList(reasons)
		m.FundName, m.FundText, m.State = name.String, text.String, state.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSections(ctx context.Context, filingID string) ([]filing.Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fund_name, tickers, split_method, fund_method, fund_text, unresolved, flagged, verdict
		FROM sections WHERE filing_id = ? ORDER BY ordinal`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var out []filing.Section
	index := make(map[string]int)
	for rows.Next() {
		var (
			id                                     string
			sec                                    filing.Section
			fund, tickers, split, method, text, vd sql.NullString
		)
		if err := rows.Scan(&id, &fund, &tickers, &split, &method, &text, &sec.Unresolved, &sec.Flagged, &vd); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sec.FundName, sec.SplitMethod, sec.FundText, sec.Verdict = fund.String, split.String, text.String, vd.String
		sec.Tickers, sec.FundMethod = decodeList(tickers), decodeList(method)
		index[id] = len(out)
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	brows, err := s.db.QueryContext(ctx, `
		SELECT b.section_id, b.start_line, b.end_line, b.needle_line, b.text
		FROM blocks b JOIN sections s ON b.section_id = s.id
		WHERE s.filing_id = ? ORDER BY s.ordinal, b.ordinal`, filingID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var (
			sectionID string
			b         segment.Block
			text      sql.NullString
		)
		if err := brows.Scan(&sectionID, &b.Start, &b.End, &b.Needle, &text); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Lines = strings.Split(text.String, "\n")
		if i, ok := index[sectionID]; ok {
			out[i].Blocks = append(out[i].Blocks, b)
		}
	}
	return out, brows.Err()
}

func (s *SQLiteStore) FindByHash(ctx context.Context, contentHash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM filings WHERE content_hash = ? ORDER BY created_at LIMIT 1`, contentHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find by hash: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) DeleteFiling(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM filings WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("delete filing: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	if err := deleteFilingTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteSectionsTx(ctx context.Context, tx *sql.Tx, filingID string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM blocks WHERE section_id IN (SELECT id FROM sections WHERE filing_id = ?)`, filingID); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE filing_id = ?`, filingID); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}
	return nil
}

func deleteFilingTx(ctx context.Context, tx *sql.Tx, id string) error {
	if err := deleteSectionsTx(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_matches WHERE filing_id = ?`, id); err != nil {
		return fmt.Errorf("clear fund matches: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM filings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete filing: %w", err)
	}
	return nil
}
