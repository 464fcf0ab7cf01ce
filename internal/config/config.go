package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/funds"
)

// Store backends.
const (
	BackendSQLite    = "sqlite"
	BackendPathstore = "pathstore"
	BackendNone      = "none"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Local state
	DataDir            string
	CacheDir           string
	RenderCacheEntries int

	// Inbox watcher, disabled when InboxDir is empty
	InboxDir      string
	InboxPattern  string
	InboxDebounce time.Duration

	// Persistence
	StoreBackend    string
	SQLitePath      string
	PathstoreURL    string
	PathstoreAPIKey string

	// Claude classification
	AnthropicAPIKey string
	AnthropicModel  string
	ClassifyEnabled bool

	// Worker pool
	WorkerCount           int
	MatchWorkers          int
	MatchOverlap          int
	MaxQueueSize          int
	MaxConcurrentClassify int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Subject security
	AnchorNames   []string
	AnchorTickers []string
	Subject       classify.Subject

	// Fund resolution
	Additions  map[string][]string
	Thresholds funds.Thresholds
	Review     funds.ReviewConfig

	// PDF
	PDFFallbackPdftotext bool

	LogLevel string
}

// File is the YAML overlay read from PROXYVOTE_CONFIG. Zero values leave the
// defaults in place.
type File struct {
	Anchor struct {
		Names   []string `yaml:"names"`
		Tickers []string `yaml:"tickers"`
	} `yaml:"anchor"`
	Subject    classify.Subject    `yaml:"subject"`
	Additions  map[string][]string `yaml:"additions"`
	Thresholds struct {
		MinSharedChars int     `yaml:"min_shared_chars"`
		PenaltyFloor   int     `yaml:"penalty_floor"`
		LowScoreCap    float64 `yaml:"low_score_cap"`
		LowScoreRatio  float64 `yaml:"low_score_ratio"`
		MinScore       float64 `yaml:"min_score"`
		PrefixMin      int     `yaml:"prefix_min"`
		LengthSlack    int     `yaml:"length_slack"`
	} `yaml:"thresholds"`
	Review struct {
		SpanFraction     float64 `yaml:"span_fraction"`
		SpanCap          int     `yaml:"span_cap"`
		LevenshteinFloor int     `yaml:"levenshtein_floor"`
		LevenshteinSlack int     `yaml:"levenshtein_slack"`
	} `yaml:"review"`
}

// Load reads the optional YAML file named by PROXYVOTE_CONFIG, then the
// environment. Environment values win.
func Load() (Config, error) {
	cfg := Config{
		Thresholds: funds.DefaultThresholds(),
		Review:     funds.DefaultReview(),
	}
	if path := os.Getenv("PROXYVOTE_CONFIG"); path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg.apply(f)
	}

	cfg.Port = envOr("PORT", "8090")
	cfg.APIKey = os.Getenv("PROXYVOTE_API_KEY")

	cfg.DataDir = envOr("DATA_DIR", "data")
	cfg.CacheDir = envOr("CACHE_DIR", filepath.Join(cfg.DataDir, "cache"))
	cfg.RenderCacheEntries = envInt("RENDER_CACHE_ENTRIES", 64)
	cfg.InboxDir = os.Getenv("INBOX_DIR")
	cfg.InboxPattern = envOr("INBOX_PATTERN", "*.{txt,nc,htm,html,pdf,docx}")
	cfg.InboxDebounce = envDuration("INBOX_DEBOUNCE", 2*time.Second)

	cfg.StoreBackend = strings.ToLower(envOr("STORE_BACKEND", BackendSQLite))
	cfg.SQLitePath = envOr("SQLITE_PATH", filepath.Join(cfg.DataDir, "proxyvote.db"))
	cfg.PathstoreURL = envOr("PATHSTORE_URL", "http://localhost:8080")
	cfg.PathstoreAPIKey = os.Getenv("PATHSTORE_API_KEY")

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicModel = envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929")
	cfg.ClassifyEnabled = envBool("CLASSIFY_ENABLED", cfg.AnthropicAPIKey != "")

	cfg.WorkerCount = envInt("WORKER_COUNT", 4)
	cfg.MatchWorkers = envInt("MATCH_WORKERS", 0)
	cfg.MatchOverlap = envInt("MATCH_OVERLAP", 0)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", 100)
	cfg.MaxConcurrentClassify = envInt("MAX_CONCURRENT_CLASSIFY", 5)

	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", 52428800) // 50MB
	cfg.JobTTL = envDuration("JOB_TTL", 1*time.Hour)

	// Issuer names carry commas ("TESLA, INC"), so names are ';' separated.
	cfg.AnchorNames = envList("ANCHOR_NAMES", ";", cfg.AnchorNames)
	cfg.AnchorTickers = envList("ANCHOR_TICKERS", ",", cfg.AnchorTickers)
	cfg.Review.SpanFraction = envFloat("SPAN_FRACTION", cfg.Review.SpanFraction)
	cfg.Review.SpanCap = envInt("SPAN_CAP", cfg.Review.SpanCap)

	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", true)
	cfg.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentClassify <= 0 {
		cfg.MaxConcurrentClassify = 5
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.RenderCacheEntries <= 0 {
		cfg.RenderCacheEntries = 64
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.Subject.Security == "" && len(cfg.AnchorNames) > 0 {
		cfg.Subject.Security = cfg.AnchorNames[0]
	}
	if cfg.Subject.Ticker == "" && len(cfg.AnchorTickers) > 0 {
		cfg.Subject.Ticker = cfg.AnchorTickers[0]
	}

	return cfg, nil
}

// ReadFile parses a YAML overlay.
func ReadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

func (c *Config) apply(f File) {
	c.AnchorNames = f.Anchor.Names
	c.AnchorTickers = f.Anchor.Tickers
	c.Subject = f.Subject
	if f.Additions != nil {
		c.Additions = make(map[string][]string, len(f.Additions))
		for k, v := range f.Additions {
			c.Additions[funds.Normalize(k)] = v
		}
	}

	t := f.Thresholds
	setInt(&c.Thresholds.MinSharedChars, t.MinSharedChars)
	setInt(&c.Thresholds.PenaltyFloor, t.PenaltyFloor)
	setFloat(&c.Thresholds.LowScoreCap, t.LowScoreCap)
	setFloat(&c.Thresholds.LowScoreRatio, t.LowScoreRatio)
	setFloat(&c.Thresholds.MinScore, t.MinScore)
	setInt(&c.Thresholds.PrefixMin, t.PrefixMin)
	setInt(&c.Thresholds.LengthSlack, t.LengthSlack)

	r := f.Review
	setFloat(&c.Review.SpanFraction, r.SpanFraction)
	setInt(&c.Review.SpanCap, r.SpanCap)
	setInt(&c.Review.LevenshteinFloor, r.LevenshteinFloor)
	setInt(&c.Review.LevenshteinSlack, r.LevenshteinSlack)
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("PROXYVOTE_API_KEY is required")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPathstore:
		if c.PathstoreAPIKey == "" {
			return fmt.Errorf("PATHSTORE_API_KEY is required for the pathstore backend")
		}
	case BackendNone:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.ClassifyEnabled && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when classification is enabled")
	}
	if len(c.AnchorNames) == 0 && len(c.AnchorTickers) == 0 {
		return fmt.Errorf("ANCHOR_NAMES or ANCHOR_TICKERS is required")
	}
	if c.Review.SpanFraction <= 0 || c.Review.SpanFraction > 1 {
		return fmt.Errorf("SPAN_FRACTION must be in (0, 1], got %v", c.Review.SpanFraction)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a sep separated value, dropping empty items.
func envList(key, sep string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, sep) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
