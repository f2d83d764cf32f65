package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/dsfetch/internal/archive"
	"github.com/ligustah/dsfetch/internal/config"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// runArchive copies completed products to the archive bucket.
func runArchive(args []string) int {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	common := addCommonFlags(fs)

	inputFile := fs.String("input", "", "CSV file with an Id column, or a file with one id per line")
	bucket := fs.String("bucket", "", "Bucket URL (default archive_bucket from configuration)")
	prefix := fs.String("prefix", archive.DefaultPrefix, "Key prefix inside the bucket")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dsfetch archive [options] [id...]

Copy completed products to an object storage bucket. Without ids, every
complete product in the output directory is archived. Objects that
already match the local file are skipped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(common, config.Config{ArchiveBucket: *bucket})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.ArchiveBucket == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket or archive_bucket is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	layout := transfer.Layout{Dir: cfg.OutputDir}

	var ids []string
	if *inputFile == "" && fs.NArg() == 0 {
		entries, err := layout.Scan()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		for _, e := range entries {
			if e.State == transfer.Complete || e.State == transfer.Conflict {
				ids = append(ids, e.ID)
			}
		}
	} else {
		items, err := readItems(*inputFile, fs.Args())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInputError
		}
		for _, it := range items {
			ids = append(ids, it.ID)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	arch, err := archive.Open(ctx, cfg.ArchiveBucket, archive.Options{Prefix: *prefix, RunID: newRunID()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening archive bucket: %v\n", err)
		return ExitStorageError
	}
	defer arch.Close()

	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := arch.Archive(ctx, id, layout.FinalPath(id)); err != nil {
			fmt.Fprintf(os.Stderr, "[dsfetch] Failed: %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Fprintf(os.Stderr, "[dsfetch] Archived: %s\n", arch.Key(id))
	}

	if ctx.Err() != nil {
		return ExitGeneralError
	}
	if failed > 0 {
		return ExitStorageError
	}
	return ExitSuccess
}
