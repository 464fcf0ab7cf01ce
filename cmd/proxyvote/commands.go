package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/pipeline"
	"github.com/dgallion1/proxyvote/internal/report"
	"github.com/dgallion1/proxyvote/internal/store"
	"github.com/dgallion1/proxyvote/internal/watch"
)

// runner processes single filings through the full job pipeline.
type runner struct {
	env    *env
	worker *pipeline.Worker
	store  store.Store
	claude *classify.ClaudeClient
}

func (e *env) runner(ctx context.Context, storePath string, withClassify bool) (*runner, error) {
	r := &runner{env: e}
	if storePath != "" {
		if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		st, err := store.OpenSQLite(ctx, storePath)
		if err != nil {
			return nil, err
		}
		r.store = st
	}
	var classifier classify.Classifier
	if withClassify {
		if e.cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("--classify needs ANTHROPIC_API_KEY")
		}
		r.claude = classify.NewClaudeClient(e.cfg.AnthropicAPIKey, e.cfg.AnthropicModel)
		classifier = r.claude
	}
	r.worker = pipeline.NewWorker(e.driver, classifier, r.store, e.log, nil, e.cfg.MaxConcurrentClassify)
	return r, nil
}

func (r *runner) run(ctx context.Context, path string, data []byte) *pipeline.Job {
	job := pipeline.NewJob(filepath.Base(path), data, r.env.cfg.Subject, r.env.locator)
	r.worker.Process(ctx, job)
	return job
}

func (r *runner) close() {
	if r.claude != nil {
		r.claude.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
}

// write prints one processed job in the requested format.
func write(w io.Writer, format, path string, job *pipeline.Job) error {
	snap := job.Snapshot()
	res := job.Result()
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(map[string]any{
			"path":   path,
			"job":    snap,
			"result": res,
		})
	case "markdown":
		if res == nil {
			_, err := fmt.Fprintf(w, "# %s\n\n_%s in %s: %s_\n\n", snap.Filename, snap.Status, snap.Phase, strings.Join(snap.Progress.Errors, "; "))
			return err
		}
		_, err := w.Write(append(report.FromResult(snap.FilingID, snap.Filename, res).Markdown(), '\n'))
		return err
	case "summary":
		_, err := fmt.Fprintf(w, "%s\t%s\tsections=%d unresolved=%d flagged=%d funds=%d\n",
			path, snap.Status, snap.Progress.Sections, snap.Progress.Unresolved, snap.Progress.Flagged, snap.Progress.Funds)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// expand resolves the doublestar patterns to regular files.
func expand(patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() || seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match %s", strings.Join(patterns, " "))
	}
	return files, nil
}

func processCmd(opts *options) *cobra.Command {
	var (
		storePath    string
		format       string
		withClassify bool
	)
	cmd := &cobra.Command{
		Use:   "process <pattern>...",
		Short: "Process filings matching the glob patterns (** supported)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			files, err := expand(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := e.runner(ctx, storePath, withClassify)
			if err != nil {
				return err
			}
			defer r.close()

			failed := 0
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				job := r.run(ctx, path, data)
				if job.Snapshot().Status == pipeline.StatusFailed {
					failed++
				}
				if err := write(cmd.OutOrStdout(), format, path, job); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d filings failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite database to save results in")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, markdown, summary)")
	cmd.Flags().BoolVar(&withClassify, "classify", false, "Classify sections with Claude")
	return cmd
}

func renderCmd(opts *options) *cobra.Command {
	var numbers bool
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Print the rendered body of a filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := e.driver.Load(filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "format=%s lines=%d first_line=%d funds=%d\n", doc.Format, len(doc.Lines), doc.FirstLine, doc.Catalogue.Len())
			for i, line := range doc.Lines {
				if numbers {
					fmt.Fprintf(out, "%6d  %s\n", i, line)
				} else {
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&numbers, "numbers", "n", false, "Prefix every line with its index")
	return cmd
}

func fundsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "funds <file>",
		Short: "List the fund catalogue of a filing and the matches found in its body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := e.driver.Load(filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			matches, err := e.driver.Resolve(cmd.Context(), doc)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "SERIES\tTICKERS\tNORMALIZED\n")
			for _, f := range doc.Catalogue.Funds {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.OriginalName, strings.Join(f.Tickers, ","), f.Name)
			}
			fmt.Fprintln(tw)
			fmt.Fprintf(tw, "LINE\tSTATE\tSCORE\tFUND\tMETHOD\n")
			for _, m := range matches {
				state := store.StateOK
				switch {
				case m.Excluded:
					state = store.StateExcluded
				case m.Suspect:
					state = store.StateSuspect
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", m.FirstLine, state, m.Score, m.Fund.OriginalName, strings.Join(m.Method, ";"))
			}
			return tw.Flush()
		},
	}
}

func watchCmd(opts *options) *cobra.Command {
	var (
		storePath    string
		format       string
		pattern      string
		debounce     time.Duration
		withClassify bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process filings as they are dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := e.runner(ctx, storePath, withClassify)
			if err != nil {
				return err
			}
			defer r.close()

			out := cmd.OutOrStdout()
			w, err := watch.New(watch.Config{
				Dir:      args[0],
				Pattern:  pattern,
				Debounce: debounce,
				Scan:     true,
			}, func(ctx context.Context, path string, data []byte) error {
				return write(out, format, path, r.run(ctx, path, data))
			}, e.log)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return w.Stop()
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite database to save results in")
	cmd.Flags().StringVarP(&format, "format", "f", "summary", "Output format (json, markdown, summary)")
	cmd.Flags().StringVar(&pattern, "pattern", "*.{txt,nc,htm,html,pdf,docx}", "File name pattern")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "Quiet period before a file is read")
	cmd.Flags().BoolVar(&withClassify, "classify", false, "Classify sections with Claude")
	return cmd
}
