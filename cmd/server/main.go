package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dgallion1/proxyvote/internal/api"
	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/config"
	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/metrics"
	"github.com/dgallion1/proxyvote/internal/pathstore"
	"github.com/dgallion1/proxyvote/internal/pipeline"
	"github.com/dgallion1/proxyvote/internal/render"
	"github.com/dgallion1/proxyvote/internal/store"
	"github.com/dgallion1/proxyvote/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	render.PdftotextFallback = cfg.PDFFallbackPdftotext
	cache, err := render.NewCache(cfg.CacheDir, cfg.RenderCacheEntries, m)
	if err != nil {
		log.Error("init render cache", "error", err)
		os.Exit(1)
	}
	driver := filing.NewDriver(cache, filing.Options{
		Workers:    cfg.MatchWorkers,
		Overlap:    cfg.MatchOverlap,
		Additions:  cfg.Additions,
		Thresholds: cfg.Thresholds,
		Review:     cfg.Review,
	}, log, m)

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}

	var (
		claude     *classify.ClaudeClient
		classifier classify.Classifier
	)
	if cfg.ClassifyEnabled {
		claude = classify.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		classifier = claude
	}

	orch := pipeline.NewOrchestrator(cfg, driver, classifier, st, m, log)
	orch.Start(ctx)

	var inbox *watch.Watcher
	if cfg.InboxDir != "" {
		inbox, err = watch.New(watch.Config{
			Dir:      cfg.InboxDir,
			Pattern:  cfg.InboxPattern,
			Debounce: cfg.InboxDebounce,
			Scan:     true,
		}, func(_ context.Context, path string, data []byte) error {
			return orch.Submit(orch.NewJob(filepath.Base(path), data))
		}, log)
		if err == nil {
			err = inbox.Start(ctx)
		}
		if err != nil {
			log.Error("start inbox watcher", "dir", cfg.InboxDir, "error", err)
			os.Exit(1)
		}
	}

	srv := api.NewServer(orch, claude, reg, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		if inbox != nil {
			inbox.Stop()
		}
		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		if claude != nil {
			claude.Close()
		}
		if st != nil {
			st.Close()
		}
	}()

	log.Info("starting proxyvote", "port", cfg.Port, "store", cfg.StoreBackend, "classify", cfg.ClassifyEnabled)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStore opens the configured backend. The none backend returns a nil
// store and jobs keep their results in memory only.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case config.BackendPathstore:
		return store.NewKVStore(pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey, "proxyvote")), nil
	case config.BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
