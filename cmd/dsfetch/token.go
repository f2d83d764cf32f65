package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ligustah/dsfetch/internal/config"
)

var errNoCredentials = errors.New("no credentials: set COPERNICUS_USERNAME and COPERNICUS_PASSWORD")

// runToken exchanges the configured credentials for a token and stores
// it, so later runs can start without an exchange.
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	common := addCommonFlags(fs)
	timeout := fs.Duration("timeout", 0, "Request timeout (default 60s)")
	show := fs.Bool("show", false, "Print the access token to stdout")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dsfetch token [options]

Obtain an access token with COPERNICUS_USERNAME and COPERNICUS_PASSWORD
and persist it in the token store.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(common, config.Config{Timeout: *timeout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if !cfg.HasCredentials() {
		fmt.Fprintf(os.Stderr, "Error: %v\n", errNoCredentials)
		return ExitAuthError
	}

	ctx, cancel := signalContext()
	defer cancel()

	manager, closeStore, err := newManager(ctx, cfg, newClient(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening token store: %v\n", err)
		return ExitStorageError
	}
	defer closeStore()

	tok, err := manager.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	fmt.Fprintf(os.Stderr, "[dsfetch] Token obtained at %s, stored in %s\n", tok.ObtainedAt.Format(time.RFC3339), cfg.TokenStore)
	if *show {
		fmt.Println(tok.AccessToken)
	}
	return ExitSuccess
}
