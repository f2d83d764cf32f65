package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ligustah/dsfetch/internal/auth"
	dshttp "github.com/ligustah/dsfetch/internal/http"
)

// DefaultDownloadURL is the Copernicus Data Space OData download service.
const DefaultDownloadURL = "https://download.dataspace.copernicus.eu/odata/v1"

// DefaultChunkSize is how much is written between flushes.
const DefaultChunkSize = 1 << 20

// Item is one object to download.
type Item struct {
	ID string
}

// Observer receives byte-level progress. *progress.Reporter implements it.
type Observer interface {
	AttemptStarted(id string, offset, size int64)
	BytesWritten(n int64)
}

// Options configures the engine.
type Options struct {
	// DownloadURL is the service root; objects are fetched from
	// {DownloadURL}/Products({id})/$value.
	// Default: DefaultDownloadURL
	DownloadURL string

	// Dir is the output directory. Default: current directory.
	Dir string

	// ChunkSize is the number of bytes written and flushed at a time.
	// Default: DefaultChunkSize
	ChunkSize int

	// Progress is an optional progress observer.
	Progress Observer
}

// Engine downloads single objects into a Layout, resuming from
// whatever an earlier attempt left in the part file.
type Engine struct {
	client *dshttp.Client
	opts   Options
	layout Layout
}

// NewEngine creates an engine using client for all requests.
func NewEngine(client *dshttp.Client, opts Options) *Engine {
	if opts.DownloadURL == "" {
		opts.DownloadURL = DefaultDownloadURL
	}
	opts.DownloadURL = strings.TrimRight(opts.DownloadURL, "/")
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Engine{
		client: client,
		opts:   opts,
		layout: Layout{Dir: opts.Dir},
	}
}

// Layout returns the file layout the engine writes to.
func (e *Engine) Layout() Layout {
	return e.layout
}

// ProductURL returns the download URL for id.
func (e *Engine) ProductURL(id string) string {
	return e.opts.DownloadURL + "/Products(" + url.PathEscape(id) + ")/$value"
}

// Download makes one attempt at fetching item with tok.
//
// The part file only ever grows by flushed chunks, and the final file only
// appears by renaming a part file whose size matches the object size. A
// cancelled ctx stops the attempt between reads and yields a
// RetryableFailure whose Reason is the context error.
func (e *Engine) Download(ctx context.Context, item Item, tok auth.TokenState) Outcome {
	if err := ValidateID(item.ID); err != nil {
		return fatal("invalid id %q: %w", item.ID, err)
	}

	final := e.layout.FinalPath(item.ID)
	part := e.layout.PartPath(item.ID)
	logger := log.WithField("id", item.ID)

	if info, err := os.Stat(final); err == nil && info.Mode().IsRegular() {
		// Finished by an earlier run; a leftover part file is stale.
		if err := os.Remove(part); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fatal("remove stale part file: %w", err)
		}
		logger.Debug("already downloaded")
		return Outcome{Kind: Completed, Size: info.Size(), Path: final}
	}

	offset, err := fileSize(part)
	if err != nil {
		return fatal("inspect part file: %w", err)
	}

	resp, err := e.client.GetFrom(ctx, e.ProductURL(item.ID), tok.AccessToken, offset)
	if err != nil {
		return e.requestFailed(ctx, item, offset, err)
	}
	defer resp.Body.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	switch {
	case resp.StatusCode == 200 && offset > 0:
		logger.WithField("offset", offset).Warn("server ignored range request, restarting from zero")
		offset = 0
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case resp.StatusCode == 206 && resp.Start != offset:
		if err := os.Truncate(part, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fatal("reset part file: %w", err)
		}
		return retryable("server resumed at byte %d, expected %d", resp.Start, offset)
	case offset == 0:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	size := int64(-1)
	if resp.ContentLength >= 0 {
		size = offset + resp.ContentLength
	} else if resp.Total >= 0 {
		size = resp.Total
	}

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return fatal("open part file: %w", err)
	}

	if e.opts.Progress != nil {
		e.opts.Progress.AttemptStarted(item.ID, offset, size)
	}
	logger.WithField("offset", offset).WithField("size", size).Debug("streaming")

	written, err := e.stream(f, resp.Body)
	closeErr := f.Close()

	out := Outcome{Offset: offset, Written: written, Size: size}
	var werr *writeError
	switch {
	case errors.As(err, &werr):
		out.Kind, out.Reason = FatalFailure, err
		return out
	case err != nil && ctx.Err() != nil:
		out.Kind, out.Reason = RetryableFailure, ctx.Err()
		return out
	case err != nil:
		out.Kind, out.Reason = RetryableFailure, fmt.Errorf("read body: %w", err)
		return out
	case closeErr != nil:
		out.Kind, out.Reason = FatalFailure, fmt.Errorf("close part file: %w", closeErr)
		return out
	}

	if size >= 0 && offset+written != size {
		out.Kind = RetryableFailure
		out.Reason = fmt.Errorf("body ended at byte %d of %d", offset+written, size)
		return out
	}

	if err := os.Rename(part, final); err != nil {
		out.Kind, out.Reason = FatalFailure, fmt.Errorf("promote part file: %w", err)
		return out
	}

	out.Kind = Completed
	out.Size = offset + written
	out.Path = final
	return out
}

// requestFailed turns a failed GetFrom into an outcome.
func (e *Engine) requestFailed(ctx context.Context, item Item, offset int64, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		return Outcome{Kind: RetryableFailure, Reason: ctx.Err(), Offset: offset, Size: -1}
	case errors.Is(err, dshttp.ErrUnauthorized):
		return Outcome{Kind: Unauthorized, Reason: err, Offset: offset, Size: -1}
	case errors.Is(err, dshttp.ErrRangeNotSatisfiable) && offset > 0:
		return e.rangeNotSatisfiable(item, offset, err)
	case dshttp.IsRetryable(err):
		return Outcome{Kind: RetryableFailure, Reason: err, Offset: offset, Size: -1}
	default:
		return Outcome{Kind: FatalFailure, Reason: err, Offset: offset, Size: -1}
	}
}

// rangeNotSatisfiable handles a 416 reply to a resume request. When the
// server's total equals what is on disk the part file is already whole.
func (e *Engine) rangeNotSatisfiable(item Item, offset int64, err error) Outcome {
	part := e.layout.PartPath(item.ID)

	var se *dshttp.StatusError
	if errors.As(err, &se) && se.ContentRange != "" {
		if _, _, total, perr := dshttp.ParseContentRange(se.ContentRange); perr == nil && total == offset {
			final := e.layout.FinalPath(item.ID)
			if err := os.Rename(part, final); err != nil {
				return fatal("promote part file: %w", err)
			}
			return Outcome{Kind: Completed, Offset: offset, Size: offset, Path: final}
		}
	}

	if err := os.Truncate(part, 0); err != nil {
		return fatal("reset part file: %w", err)
	}
	out := retryable("part file does not match remote object, restarting: %w", err)
	out.Offset = offset
	return out
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// stream copies body into f one chunk at a time. Each chunk is synced
// before it is counted, so the part file never claims unflushed bytes.
func (e *Engine) stream(f *os.File, body io.Reader) (int64, error) {
	buf := make([]byte, e.opts.ChunkSize)
	var written int64

	for {
		n, readErr := fill(body, buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return written, &writeError{fmt.Errorf("write: %w", err)}
			}
			if err := f.Sync(); err != nil {
				return written, &writeError{fmt.Errorf("sync: %w", err)}
			}
			written += int64(n)
			if e.opts.Progress != nil {
				e.opts.Progress.BytesWritten(int64(n))
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// fill reads until buf is full or r fails. Unlike io.ReadFull it passes
// io.EOF through unchanged so a clean end is distinguishable.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		nn, err := r.Read(buf[n:])
		n += nn
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
