// Package logging configures the shared logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Formatter renders one line per entry:
//
//	[2026-01-02 15:04:05] [info ] download complete run_id=... id=A attempt=1
//
// Fields in fieldOrder come first, any others follow sorted by key.
type Formatter struct{}

var fieldOrder = []string{"run_id", "id", "attempt", "status", "offset", "error"}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%-5s] %s",
		entry.Time.Format("2006-01-02 15:04:05"), level, strings.TrimRight(entry.Message, "\r\n"))

	seen := make(map[string]bool, len(entry.Data))
	for _, k := range fieldOrder {
		if v, ok := entry.Data[k]; ok {
			fmt.Fprintf(buffer, " %s=%v", k, v)
			seen[k] = true
		}
	}
	var rest []string
	for k := range entry.Data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
	}
	buffer.WriteByte('\n')

	return buffer.Bytes(), nil
}

// Options configures Setup.
type Options struct {
	// Level is one of debug, info, warn or error. Default: info
	Level string

	// File, when set, receives the log instead of Output. It is rotated
	// at MaxSizeMB.
	File      string
	MaxSizeMB int

	// Output is used when File is empty. Default: os.Stderr
	Output io.Writer
}

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Setup configures the standard logrus logger. It may be called again to
// reconfigure; a previously opened log file is closed.
func Setup(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = l
	}

	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("logging: create log directory: %w", err)
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		logWriter = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: 3,
		}
		out = logWriter
	}

	log.SetOutput(out)
	log.SetFormatter(&Formatter{})
	log.SetLevel(level)
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter == nil {
		return nil
	}
	err := logWriter.Close()
	logWriter = nil
	log.SetOutput(os.Stderr)
	return err
}

// ParseLevel maps a level name to a logrus level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}

// RedactURL hides the password and query values of raw so it can be
// logged. Strings that do not parse are replaced entirely.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, "REDACTED")
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
