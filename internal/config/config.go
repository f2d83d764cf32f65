package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/dsfetch/internal/auth"
	"github.com/ligustah/dsfetch/internal/progress"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// DefaultTokenStore is the .env file tokens are persisted to.
const DefaultTokenStore = ".env"

// Config defines configuration for the dsfetch CLI.
type Config struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// AccessToken and RefreshToken seed the token manager. They are only
	// read from the environment.
	AccessToken  string `yaml:"-"`
	RefreshToken string `yaml:"-"`

	ClientID      string        `yaml:"client_id"`
	TokenURL      string        `yaml:"token_url"`
	DownloadURL   string        `yaml:"download_url"`
	OutputDir     string        `yaml:"output_dir"`
	Workers       int           `yaml:"workers"`
	ChunkSize     int64         `yaml:"chunk_size"`
	Timeout       time.Duration `yaml:"timeout"`
	Retry         RetryConfig   `yaml:"retry"`
	TokenStore    string        `yaml:"token_store"`
	ArchiveBucket string        `yaml:"archive_bucket"`
	Progress      bool          `yaml:"progress"`
	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ClientID:    auth.DefaultClientID,
		TokenURL:    auth.DefaultTokenURL,
		DownloadURL: transfer.DefaultDownloadURL,
		OutputDir:   ".",
		Workers:     1,
		ChunkSize:   transfer.DefaultChunkSize,
		Timeout:     60 * time.Second,
		Retry: RetryConfig{
			Attempts: 3,
			Backoff:  5 * time.Second,
		},
		TokenStore: DefaultTokenStore,
		LogLevel:   "info",
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Username      string          `yaml:"username"`
	Password      string          `yaml:"password"`
	ClientID      string          `yaml:"client_id"`
	TokenURL      string          `yaml:"token_url"`
	DownloadURL   string          `yaml:"download_url"`
	OutputDir     string          `yaml:"output_dir"`
	Workers       int             `yaml:"workers"`
	ChunkSize     string          `yaml:"chunk_size"`
	Timeout       string          `yaml:"timeout"`
	Retry         yamlRetryConfig `yaml:"retry"`
	TokenStore    string          `yaml:"token_store"`
	ArchiveBucket string          `yaml:"archive_bucket"`
	Progress      bool            `yaml:"progress"`
	LogLevel      string          `yaml:"log_level"`
	LogFile       string          `yaml:"log_file"`
}

type yamlRetryConfig struct {
	Attempts int    `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	setString(&cfg.Username, yc.Username)
	setString(&cfg.Password, yc.Password)
	setString(&cfg.ClientID, yc.ClientID)
	setString(&cfg.TokenURL, yc.TokenURL)
	setString(&cfg.DownloadURL, yc.DownloadURL)
	setString(&cfg.OutputDir, yc.OutputDir)
	setString(&cfg.TokenStore, yc.TokenStore)
	setString(&cfg.ArchiveBucket, yc.ArchiveBucket)
	setString(&cfg.LogLevel, yc.LogLevel)
	setString(&cfg.LogFile, yc.LogFile)

	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	cfg.Progress = yc.Progress
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process
// environment. Variables that are already set win. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Credentials and tokens use the COPERNICUS_ names, everything else the
// DSFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	setString(&c.Username, os.Getenv("COPERNICUS_USERNAME"))
	setString(&c.Password, os.Getenv("COPERNICUS_PASSWORD"))
	setString(&c.AccessToken, os.Getenv("COPERNICUS_ACCESS_TOKEN"))
	setString(&c.RefreshToken, os.Getenv("COPERNICUS_REFRESH_TOKEN"))

	setString(&c.ClientID, os.Getenv("DSFETCH_CLIENT_ID"))
	setString(&c.TokenURL, os.Getenv("DSFETCH_TOKEN_URL"))
	setString(&c.DownloadURL, os.Getenv("DSFETCH_DOWNLOAD_URL"))
	setString(&c.OutputDir, os.Getenv("DSFETCH_OUTPUT_DIR"))
	setString(&c.TokenStore, os.Getenv("DSFETCH_TOKEN_STORE"))
	setString(&c.ArchiveBucket, os.Getenv("DSFETCH_ARCHIVE_BUCKET"))
	setString(&c.LogLevel, os.Getenv("DSFETCH_LOG_LEVEL"))
	setString(&c.LogFile, os.Getenv("DSFETCH_LOG_FILE"))

	if v := os.Getenv("DSFETCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DSFETCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("DSFETCH_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse DSFETCH_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("DSFETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse DSFETCH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("DSFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("DSFETCH_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DSFETCH_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("DSFETCH_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse DSFETCH_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff < 0 {
		return errors.New("config: retry.backoff must not be negative")
	}
	if c.ClientID == "" {
		return errors.New("config: client_id is required")
	}
	for name, v := range map[string]string{"token_url": c.TokenURL, "download_url": c.DownloadURL} {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s must be an absolute URL", name)
		}
	}
	return nil
}

// HasCredentials reports whether a password grant is possible.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	setString(&c.Username, override.Username)
	setString(&c.Password, override.Password)
	setString(&c.AccessToken, override.AccessToken)
	setString(&c.RefreshToken, override.RefreshToken)
	setString(&c.ClientID, override.ClientID)
	setString(&c.TokenURL, override.TokenURL)
	setString(&c.DownloadURL, override.DownloadURL)
	setString(&c.OutputDir, override.OutputDir)
	setString(&c.TokenStore, override.TokenStore)
	setString(&c.ArchiveBucket, override.ArchiveBucket)
	setString(&c.LogLevel, override.LogLevel)
	setString(&c.LogFile, override.LogFile)

	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	return c
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
