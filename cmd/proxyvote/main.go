// Command proxyvote processes proxy voting filings from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/proxyvote/internal/anchor"
	"github.com/dgallion1/proxyvote/internal/config"
	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/render"
)

const version = "0.1.0"

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	cacheDir   string
	names      string
	tickers    string
	workers    int
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "proxyvote",
		Short: "Attribute proxy votes on one security to the funds of N-PX filings",
		Long: `proxyvote splits N-PX proxy voting filings around the vote records of one
security and attributes every record to the fund series that cast it.

The subject security defaults to the anchor settings of PROXYVOTE_CONFIG and
the ANCHOR_NAMES / ANCHOR_TICKERS environment, and can be overridden with
--names and --tickers.`,
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (overrides PROXYVOTE_CONFIG)")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.cacheDir, "cache", "", "Render cache directory (disabled when empty)")
	f.StringVar(&opts.names, "names", "", "Issuer names of the subject security, ';' separated")
	f.StringVar(&opts.tickers, "tickers", "", "Tickers of the subject security, ',' separated")
	f.IntVar(&opts.workers, "workers", 0, "Parallel match ranges per filing (0 = CPU count)")

	cmd.AddCommand(
		processCmd(opts),
		renderCmd(opts),
		fundsCmd(opts),
		watchCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "proxyvote version %s\n", version)
			},
		},
	)
	return cmd
}

// env is the runtime shared by the subcommands.
type env struct {
	cfg     config.Config
	log     *slog.Logger
	driver  *filing.Driver
	locator *anchor.Locator
}

func (o *options) setup() (*env, error) {
	if o.configPath != "" {
		os.Setenv("PROXYVOTE_CONFIG", o.configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if names := splitList(o.names, ";"); len(names) > 0 {
		cfg.AnchorNames = names
		cfg.Subject.Security = names[0]
	}
	if tickers := splitList(o.tickers, ","); len(tickers) > 0 {
		cfg.AnchorTickers = tickers
		cfg.Subject.Ticker = tickers[0]
	}
	if len(cfg.AnchorNames) == 0 && len(cfg.AnchorTickers) == 0 {
		return nil, fmt.Errorf("no subject security: set --names or --tickers")
	}
	if o.workers > 0 {
		cfg.MatchWorkers = o.workers
	}

	render.PdftotextFallback = cfg.PDFFallbackPdftotext
	var cache *render.Cache
	if o.cacheDir != "" {
		if cache, err = render.NewCache(o.cacheDir, cfg.RenderCacheEntries, nil); err != nil {
			return nil, err
		}
	}

	return &env{
		cfg: cfg,
		log: log,
		driver: filing.NewDriver(cache, filing.Options{
			Workers:    cfg.MatchWorkers,
			Overlap:    cfg.MatchOverlap,
			Additions:  cfg.Additions,
			Thresholds: cfg.Thresholds,
			Review:     cfg.Review,
		}, log, nil),
		locator: anchor.New(cfg.AnchorNames, cfg.AnchorTickers),
	}, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
