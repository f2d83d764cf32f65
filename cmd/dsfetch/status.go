package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/dsfetch/internal/archive"
	"github.com/ligustah/dsfetch/internal/config"
	"github.com/ligustah/dsfetch/internal/progress"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// runStatus reports the local state of products without any network
// access, except for the optional archive check.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)

	inputFile := fs.String("input", "", "CSV file with an Id column, or a file with one id per line")
	archiveBucket := fs.String("archive-bucket", "", "Also verify archived copies in this bucket URL")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dsfetch status [options] [id...]

Show whether each product is complete, partial, missing, or in conflict
(final and part file both present). Without ids, every product found in
the output directory is listed. Exits with 7 if any product is not
complete.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(common, config.Config{ArchiveBucket: *archiveBucket})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	layout := transfer.Layout{Dir: cfg.OutputDir}

	var entries []transfer.Entry
	if *inputFile == "" && fs.NArg() == 0 {
		entries, err = layout.Scan()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
	} else {
		items, err := readItems(*inputFile, fs.Args())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInputError
		}
		for _, it := range items {
			e, err := layout.Inspect(it.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return ExitStorageError
			}
			entries = append(entries, e)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	var arch *archive.Archiver
	if cfg.ArchiveBucket != "" {
		arch, err = archive.Open(ctx, cfg.ArchiveBucket, archive.Options{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive bucket: %v\n", err)
			return ExitStorageError
		}
		defer arch.Close()
	}

	incomplete := 0
	for _, e := range entries {
		line := fmt.Sprintf("%-40s %-9s", e.ID, e.State)
		switch e.State {
		case transfer.Complete:
			line += " " + progress.FormatBytes(e.FinalSize)
		case transfer.Partial:
			line += " " + progress.FormatBytes(e.PartSize) + " so far"
		case transfer.Conflict:
			line += fmt.Sprintf(" final %s, part %s", progress.FormatBytes(e.FinalSize), progress.FormatBytes(e.PartSize))
		}
		if e.State != transfer.Complete {
			incomplete++
		}

		if arch != nil && e.State == transfer.Complete {
			switch err := arch.Verify(ctx, e.ID, layout.FinalPath(e.ID)); {
			case err == nil:
				line += " archived"
			case errors.Is(err, os.ErrNotExist):
				line += " not-archived"
				incomplete++
			case errors.Is(err, archive.ErrChecksumMismatch):
				line += " archive-mismatch"
				incomplete++
			default:
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return ExitStorageError
			}
		}
		fmt.Println(line)
	}

	if incomplete > 0 {
		fmt.Printf("Status: INCOMPLETE (%d of %d)\n", incomplete, len(entries))
		return ExitValidationFailed
	}
	fmt.Printf("Status: COMPLETE (%d products)\n", len(entries))
	return ExitSuccess
}
