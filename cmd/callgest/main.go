// Command callgest classifies every transcript in a directory and writes one
// CSV row per speaker block.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dgallion1/callgest/internal/config"
	"github.com/dgallion1/callgest/internal/meta"
	"github.com/dgallion1/callgest/internal/parser"
	"github.com/dgallion1/callgest/internal/pipeline"
	"github.com/dgallion1/callgest/internal/results"
	"github.com/dgallion1/callgest/internal/sentiment"
	"github.com/dgallion1/callgest/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir := flag.String("dir", cfg.TranscriptsDir, "directory of transcripts to process")
	out := flag.String("out", cfg.OutputCSV, "output CSV path")
	noClassify := flag.Bool("no-classify", false, "segment only, leave sentiment columns empty")
	verbose := flag.Bool("v", false, "log pipeline events to stderr")
	flag.Parse()

	if *noClassify {
		cfg.SentimentProvider = sentiment.ProviderNone
	}
	if err := cfg.ValidateClassifier(); err != nil {
		return err
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	log := slog.New(slog.NewJSONHandler(logOut, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := listTranscripts(*dir)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("Found %d transcript(s).", len(files))))

	key, err := cfg.ClassifierKey()
	if err != nil {
		return err
	}
	classifier, err := sentiment.New(cfg.SentimentProvider, key, cfg.ClassifierModel(), cfg.Temperature, nil)
	if err != nil {
		return err
	}

	var (
		db *store.Store
		ts pipeline.TranscriptStore
	)
	if cfg.DBDSN != "" {
		db, err = store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		ts = db
	}

	worker := pipeline.NewWorker(classifier, ts, nil, pipeline.NewLimiter(cfg.CallInterval), log, pipeline.WorkerOptions{
		MaxBlockChars: cfg.MaxBlockChars,
		MaxConcurrent: cfg.MaxConcurrentClassify,
		Parser:        parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
	})

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	csvw := results.NewCSVWriter(f)

	var all []results.Row
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		rows := processFile(ctx, worker, db, path)
		if err := csvw.Write(rows...); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		all = append(all, rows...)
	}
	if err := csvw.Close(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	fmt.Println(dimStyle.Render(fmt.Sprintf("Total rows: %d", len(all))))
	printSummary(results.Summarize(all))
	fmt.Println(okStyle.Render("Saved " + *out))
	return ctx.Err()
}

// listTranscripts returns the supported, non-hidden files directly in dir.
func listTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("transcripts directory not found: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !parser.IsSupportedExtension(name) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files, nil
}

func processFile(ctx context.Context, worker *pipeline.Worker, db *store.Store, path string) []results.Row {
	base := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println(errorStyle.Render("[READ ERROR] ") + base + ": " + err.Error())
		name := meta.StripExt(base)
		return []results.Row{results.ErrorRow(name, meta.FromFilename(name), err)}
	}

	job := pipeline.NewJob(base, data)
	worker.Process(ctx, job)
	snap := job.Snapshot()

	rows := job.Rows()
	if snap.Status == pipeline.StatusDupSkipped && db != nil {
		rows, err = db.Rows(ctx, snap.TranscriptID)
		if err != nil {
			fmt.Println(warnStyle.Render("[STORE] ") + base + ": " + err.Error())
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("%s: already stored, reused %d row(s).", base, len(rows))))
		return rows
	}

	switch snap.Status {
	case pipeline.StatusFailed:
		msg := strings.Join(snap.Progress.Errors, "; ")
		if msg == "" {
			msg = "all blocks failed"
		}
		fmt.Println(errorStyle.Render("[FAILED] ") + base + ": " + msg)
	case pipeline.StatusPartial:
		fmt.Println(warnStyle.Render(fmt.Sprintf("%s: parsed %d block(s), %d error(s).",
			base, snap.Progress.TotalBlocks, snap.Progress.ClassifyErrors)))
	default:
		line := fmt.Sprintf("%s: parsed %d block(s).", base, snap.Progress.TotalBlocks)
		if snap.Degraded {
			line += warnStyle.Render(" (no speaker headers)")
		}
		fmt.Println(line)
	}
	return rows
}

func printSummary(sum results.Summary) {
	if len(sum.Roles) == 0 {
		return
	}
	fmt.Println(titleStyle.Render("Mean sentiment by role"))
	header := fmt.Sprintf("%-10s %6s", "role", "blocks")
	for _, dim := range sentiment.Dimensions {
		header += fmt.Sprintf(" %13s", dim)
	}
	fmt.Println(dimStyle.Render(header))
	for _, r := range sum.Roles {
		line := fmt.Sprintf("%-10s %6d", r.Role, r.Blocks)
		for _, dim := range sentiment.Dimensions {
			d, ok := r.Dimensions[dim]
			if !ok {
				line += fmt.Sprintf(" %13s", "-")
				continue
			}
			line += fmt.Sprintf(" %13s", fmt.Sprintf("%+.2f", d.Mean))
		}
		fmt.Println(line)
	}
	if sum.Errors > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d row(s) carry errors", sum.Errors)))
	}
}
