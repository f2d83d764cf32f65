package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ligustah/dsfetch/internal/config"
	"github.com/ligustah/dsfetch/internal/progress"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// runClean removes part files. By default prompts for confirmation
// unless -force is specified.
func runClean(args []string) int {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	common := addCommonFlags(fs)

	inputFile := fs.String("input", "", "CSV file with an Id column, or a file with one id per line")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	conflicts := fs.Bool("conflicts", false, "Only remove part files of products that are already complete")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dsfetch clean [options] [id...]

Remove .part files left behind by failed downloads. Without ids, every
part file in the output directory is considered. Removing a part file
means the next download of that product starts from zero.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(common, config.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	layout := transfer.Layout{Dir: cfg.OutputDir}

	var entries []transfer.Entry
	if *inputFile == "" && fs.NArg() == 0 {
		entries, err = layout.Scan()
	} else {
		var items []transfer.Item
		items, err = readItems(*inputFile, fs.Args())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInputError
		}
		for _, it := range items {
			var e transfer.Entry
			if e, err = layout.Inspect(it.ID); err != nil {
				break
			}
			entries = append(entries, e)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	var targets []transfer.Entry
	var total int64
	for _, e := range entries {
		if e.State == transfer.Conflict || (e.State == transfer.Partial && !*conflicts) {
			targets = append(targets, e)
			total += e.PartSize
		}
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "[dsfetch] Nothing to clean")
		return ExitSuccess
	}

	if !*force {
		fmt.Printf("Remove %d part files (%s) from %s? [y/N]: ", len(targets), progress.FormatBytes(total), cfg.OutputDir)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
	}

	for _, e := range targets {
		if err := layout.RemovePart(e.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		fmt.Fprintf(os.Stderr, "[dsfetch] Removed: %s\n", layout.PartPath(e.ID))
	}
	return ExitSuccess
}
