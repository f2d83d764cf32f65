package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ligustah/dsfetch/internal/auth"
	"github.com/ligustah/dsfetch/internal/config"
	dshttp "github.com/ligustah/dsfetch/internal/http"
	"github.com/ligustah/dsfetch/internal/input"
	"github.com/ligustah/dsfetch/internal/logging"
	"github.com/ligustah/dsfetch/internal/progress"
	"github.com/ligustah/dsfetch/internal/tokenstore"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configFile *string
	envFile    *string
	outputDir  *string
	tokenStore *string
	logLevel   *string
	logFile    *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configFile: fs.String("config", os.Getenv("DSFETCH_CONFIG"), "YAML configuration file"),
		envFile:    fs.String("env-file", config.DefaultTokenStore, "Load environment variables from this file if it exists"),
		outputDir:  fs.String("output-dir", "", "Directory for downloaded products (default \".\")"),
		tokenStore: fs.String("token-store", "", "Where tokens are persisted: a .env path or a bucket URL (default \".env\")"),
		logLevel:   fs.String("log-level", "", "Log level: debug, info, warn, error (default \"info\")"),
		logFile:    fs.String("log-file", "", "Write logs to this file instead of stderr"),
	}
}

// loadConfig resolves configuration: defaults, then the YAML file, then
// the environment (including the .env file), then override. Logging is
// configured from the result.
func loadConfig(common *commonFlags, override config.Config) (config.Config, error) {
	cfg := config.Default()
	if *common.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*common.configFile)
		if err != nil {
			return config.Config{}, err
		}
	}

	if *common.envFile != "" {
		if err := config.LoadDotEnv(*common.envFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override.OutputDir = *common.outputDir
	override.TokenStore = *common.tokenStore
	override.LogLevel = *common.logLevel
	override.LogFile = *common.logFile
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		return config.Config{}, err
	}

	log.WithFields(log.Fields{
		"token_url":      logging.RedactURL(cfg.TokenURL),
		"download_url":   logging.RedactURL(cfg.DownloadURL),
		"token_store":    logging.RedactURL(cfg.TokenStore),
		"archive_bucket": logging.RedactURL(cfg.ArchiveBucket),
		"output_dir":     cfg.OutputDir,
		"workers":        cfg.Workers,
	}).Debug("configuration loaded")

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[dsfetch] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func newClient(cfg config.Config) *dshttp.Client {
	opts := dshttp.DefaultOptions()
	opts.Timeout = cfg.Timeout
	if n := cfg.Workers * 2; n > opts.MaxIdleConnsPerHost {
		opts.MaxIdleConnsPerHost = n
	}
	return dshttp.NewClient(opts)
}

// newManager builds the token manager with its store. The returned
// function closes the store.
func newManager(ctx context.Context, cfg config.Config, client *dshttp.Client) (*auth.Manager, func(), error) {
	store, err := tokenstore.Open(ctx, cfg.TokenStore)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
	}

	m := auth.NewManager(auth.Credentials{Username: cfg.Username, Password: cfg.Password}, auth.Options{
		TokenURL:   cfg.TokenURL,
		ClientID:   cfg.ClientID,
		HTTPClient: client.HTTPClient(),
		Store:      store,
	})
	m.Seed(auth.TokenState{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		ObtainedAt:   time.Now(),
	})
	return m, closeStore, nil
}

// readItems collects ids from -input and positional arguments, in that
// order.
func readItems(inputFile string, args []string) ([]transfer.Item, error) {
	var items []transfer.Item
	if inputFile != "" {
		fromFile, err := input.ReadFile(inputFile)
		if err != nil {
			return nil, err
		}
		items = append(items, fromFile...)
	}
	if len(args) > 0 {
		fromArgs, err := input.FromArgs(args)
		if err != nil {
			return nil, err
		}
		items = append(items, fromArgs...)
	}
	return items, input.Validate(items)
}

// exitCode maps precondition errors to exit codes.
func exitCode(err error) int {
	var (
		ae *auth.AuthError
		ie *input.InputError
	)
	switch {
	case errors.As(err, &ae):
		return ExitAuthError
	case errors.As(err, &ie):
		return ExitInputError
	default:
		return ExitGeneralError
	}
}

func newReporter(cfg config.Config, total int) *progress.Reporter {
	if !cfg.Progress {
		return nil
	}
	return progress.NewReporter(progress.Options{
		TotalItems:     total,
		Workers:        cfg.Workers,
		UpdateInterval: 5 * time.Second,
		Destination:    cfg.OutputDir,
	})
}

func newRunID() string {
	return uuid.NewString()
}
