package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dgallion1/proxyvote/internal/funds"
)

const overlay = `
anchor:
  names: ["TESLA, INC", "TESLA MOTORS"]
  tickers: [TSLA]
subject:
  meeting: 21-Mar-18 special meeting
  proposal: approve the performance award
additions:
  Acme Growth ETF: [Acme Hidden ETF]
thresholds:
  min_score: 6
review:
  span_fraction: 0.2
  span_cap: 800
`

func TestLoad_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyvote.yaml")
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROXYVOTE_CONFIG", path)
	t.Setenv("SPAN_CAP", "500")
	t.Setenv("JOB_TTL", "30m")
	t.Setenv("ANCHOR_TICKERS", "")
	t.Setenv("ANCHOR_NAMES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.AnchorNames, []string{"TESLA, INC", "TESLA MOTORS"}) {
		t.Errorf("unexpected anchor names %v", cfg.AnchorNames)
	}
	if !reflect.DeepEqual(cfg.AnchorTickers, []string{"TSLA"}) {
		t.Errorf("unexpected anchor tickers %v", cfg.AnchorTickers)
	}
	if cfg.Subject.Security != "TESLA, INC" || cfg.Subject.Ticker != "TSLA" {
		t.Errorf("expected subject defaulted from anchor, got %+v", cfg.Subject)
	}
	if cfg.Subject.Proposal != "approve the performance award" {
		t.Errorf("unexpected proposal %q", cfg.Subject.Proposal)
	}
	if got := cfg.Additions[funds.Normalize("Acme Growth ETF")]; !reflect.DeepEqual(got, []string{"Acme Hidden ETF"}) {
		t.Errorf("unexpected additions %v", cfg.Additions)
	}
	if cfg.Thresholds.MinScore != 6 {
		t.Errorf("expected min score 6, got %v", cfg.Thresholds.MinScore)
	}
	if cfg.Thresholds.PrefixMin != funds.DefaultThresholds().PrefixMin {
		t.Errorf("expected default prefix min, got %d", cfg.Thresholds.PrefixMin)
	}
	if cfg.Review.SpanFraction != 0.2 {
		t.Errorf("expected span fraction 0.2, got %v", cfg.Review.SpanFraction)
	}
	if cfg.Review.SpanCap != 500 {
		t.Errorf("expected env to win with span cap 500, got %d", cfg.Review.SpanCap)
	}
	if cfg.JobTTL != 30*time.Minute {
		t.Errorf("expected job ttl 30m, got %v", cfg.JobTTL)
	}
}

func TestLoad_BadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("anchor: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROXYVOTE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PROXYVOTE_CONFIG", "")
	t.Setenv("DATA_DIR", "/var/lib/proxyvote")
	t.Setenv("CACHE_DIR", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("WORKER_COUNT", "-3")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CLASSIFY_ENABLED", "")
	t.Setenv("ANCHOR_NAMES", "Tesla, Inc ; ;Tesla Motors")
	t.Setenv("SPAN_FRACTION", "")
	t.Setenv("SPAN_CAP", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "/var/lib/proxyvote/cache" || cfg.SQLitePath != "/var/lib/proxyvote/proxyvote.db" {
		t.Errorf("unexpected derived paths %q %q", cfg.CacheDir, cfg.SQLitePath)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("expected worker count reset to 4, got %d", cfg.WorkerCount)
	}
	if cfg.ClassifyEnabled {
		t.Error("expected classification disabled without an api key")
	}
	if !reflect.DeepEqual(cfg.AnchorNames, []string{"Tesla, Inc", "Tesla Motors"}) {
		t.Errorf("unexpected anchor names %v", cfg.AnchorNames)
	}
	if cfg.Review != funds.DefaultReview() {
		t.Errorf("expected default review, got %+v", cfg.Review)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		APIKey:        "k",
		StoreBackend:  BackendSQLite,
		SQLitePath:    "x.db",
		AnchorTickers: []string{"TSLA"},
		Review:        funds.DefaultReview(),
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing api key", func(c *Config) { c.APIKey = "" }, false},
		{"unknown backend", func(c *Config) { c.StoreBackend = "mongo" }, false},
		{"pathstore without key", func(c *Config) { c.StoreBackend = BackendPathstore }, false},
		{"no store", func(c *Config) { c.StoreBackend = BackendNone }, true},
		{"classify without key", func(c *Config) { c.ClassifyEnabled = true }, false},
		{"no anchor", func(c *Config) { c.AnchorTickers = nil }, false},
		{"span fraction out of range", func(c *Config) { c.Review.SpanFraction = 1.5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}
