package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ligustah/dsfetch/internal/archive"
	"github.com/ligustah/dsfetch/internal/config"
	"github.com/ligustah/dsfetch/internal/downloader"
	"github.com/ligustah/dsfetch/internal/progress"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// runDownload fetches products by id into the output directory. Part
// files of earlier runs are resumed.
func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	common := addCommonFlags(fs)

	inputFile := fs.String("input", "", "CSV file with an Id column, or a file with one id per line")
	workers := fs.Int("workers", 0, "Number of products downloaded at once (default 1)")
	chunkSize := fs.String("chunk-size", "", "Bytes written between flushes (default 1MiB)")
	timeout := fs.Duration("timeout", 0, "Connect, header and read idle timeout (default 60s)")
	retryAttempts := fs.Int("retry-attempts", 0, "Max attempts per product (default 3)")
	retryBackoff := fs.Duration("retry-backoff", 0, "Wait between attempts (default 5s)")
	archiveBucket := fs.String("archive-bucket", "", "Also copy completed products to this bucket URL")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dsfetch download [options] [id...]

Download products from the Copernicus Data Space by id. Ids come from
-input and/or the command line. Interrupted downloads resume from their
.part file on the next run.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	override := config.Config{
		Workers:       *workers,
		Timeout:       *timeout,
		ArchiveBucket: *archiveBucket,
		Progress:      *showProgress,
		Retry:         config.RetryConfig{Attempts: *retryAttempts, Backoff: *retryBackoff},
	}
	if *chunkSize != "" {
		n, err := progress.ParseBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chunk size: %v\n", err)
			return ExitInvalidArgs
		}
		override.ChunkSize = n
	}

	cfg, err := loadConfig(common, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	// An explicit zero backoff is meaningful.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "retry-backoff" {
			cfg.Retry.Backoff = *retryBackoff
		}
	})

	items, err := readItems(*inputFile, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInputError
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		return ExitStorageError
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(cfg)
	manager, closeStore, err := newManager(ctx, cfg, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening token store: %v\n", err)
		return ExitStorageError
	}
	defer closeStore()

	reporter := newReporter(cfg, len(items))

	var engineProgress transfer.Observer
	if reporter != nil {
		engineProgress = reporter
	}
	engine := transfer.NewEngine(client, transfer.Options{
		DownloadURL: cfg.DownloadURL,
		Dir:         cfg.OutputDir,
		ChunkSize:   int(cfg.ChunkSize),
		Progress:    engineProgress,
	})

	opts := downloader.Options{
		Workers:  cfg.Workers,
		Retry:    downloader.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.Backoff},
		Progress: reporter,
		RunID:    newRunID(),
	}

	if cfg.ArchiveBucket != "" {
		arch, err := archive.Open(ctx, cfg.ArchiveBucket, archive.Options{RunID: opts.RunID})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive bucket: %v\n", err)
			return ExitStorageError
		}
		defer arch.Close()
		opts.Archiver = arch
	}

	fmt.Fprintf(os.Stderr, "[dsfetch] Downloading %d products to %s\n", len(items), cfg.OutputDir)

	if reporter != nil {
		reporter.Start()
	}
	start := time.Now()
	report, err := downloader.New(engine, manager, opts).Run(ctx, items)
	if reporter != nil {
		reporter.Stop()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	printReport(report, time.Since(start))

	switch {
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "[dsfetch] Download interrupted, part files kept for resume")
		return ExitGeneralError
	case report.Failed() > 0:
		return ExitPartialFailure
	case len(report.ArchiveFailures) > 0:
		return ExitStorageError
	}
	return ExitSuccess
}

func printReport(r *downloader.Report, elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "[dsfetch] Run %s finished in %s: %d/%d succeeded\n",
		r.RunID, elapsed.Round(time.Millisecond), r.Succeeded, r.Total)
	for _, res := range r.Results {
		if res.Succeeded() {
			continue
		}
		reason := "unknown"
		if res.Outcome.Reason != nil {
			reason = res.Outcome.Reason.Error()
		}
		fmt.Fprintf(os.Stderr, "[dsfetch]   failed %s after %d attempts: %s\n", res.Item.ID, res.Attempts, reason)
	}
	for _, id := range r.ArchiveFailures {
		fmt.Fprintf(os.Stderr, "[dsfetch]   not archived: %s\n", id)
	}
}
