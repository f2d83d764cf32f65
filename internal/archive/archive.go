package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/dsfetch/internal/transfer"
)

// DefaultPrefix is prepended to every archived object key.
const DefaultPrefix = "products/"

// Metadata keys set on archived objects.
const (
	MetaProductID = "product_id"
	MetaSHA256    = "sha256"
	MetaRunID     = "run_id"
)

// ErrNotConfigured is returned by Open when no bucket URL is set.
var ErrNotConfigured = errors.New("archive: no bucket configured")

// ErrChecksumMismatch is returned by Verify when the stored object does
// not match the local file.
var ErrChecksumMismatch = errors.New("archive: checksum mismatch")

// Options configures an Archiver.
type Options struct {
	// Prefix is prepended to object keys. Default: DefaultPrefix
	Prefix string

	// RunID is recorded on uploaded objects when set.
	RunID string
}

// Archiver mirrors finished products into a bucket.
type Archiver struct {
	bucket *blob.Bucket
	opts   Options
	owned  bool
}

// Open opens the bucket at bucketURL (s3://, gs://, file://, mem://).
func Open(ctx context.Context, bucketURL string, opts Options) (*Archiver, error) {
	if bucketURL == "" {
		return nil, ErrNotConfigured
	}
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("archive: open bucket: %w", err)
	}
	a := New(bkt, opts)
	a.owned = true
	return a, nil
}

// New wraps an already open bucket. Close does not close it.
func New(bucket *blob.Bucket, opts Options) *Archiver {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Archiver{bucket: bucket, opts: opts}
}

// Close releases the bucket if Open created it.
func (a *Archiver) Close() error {
	if a.owned {
		return a.bucket.Close()
	}
	return nil
}

// Key returns the object key for id.
func (a *Archiver) Key(id string) string {
	return a.opts.Prefix + transfer.FinalName(id)
}

// Object describes an archived product.
type Object struct {
	Key    string
	Exists bool
	Size   int64
	SHA256 string
}

// Stat returns what the bucket holds for id. A missing object is not an
// error.
func (a *Archiver) Stat(ctx context.Context, id string) (Object, error) {
	obj := Object{Key: a.Key(id)}
	attrs, err := a.bucket.Attributes(ctx, obj.Key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return obj, nil
	}
	if err != nil {
		return obj, fmt.Errorf("archive: stat %s: %w", obj.Key, err)
	}
	obj.Exists = true
	obj.Size = attrs.Size
	obj.SHA256 = attrs.Metadata[MetaSHA256]
	return obj, nil
}

// Archive uploads the file at path as the object for id. An object with
// the same size and checksum is left alone.
func (a *Archiver) Archive(ctx context.Context, id, path string) error {
	logger := log.WithField("id", id)

	sum, size, err := fileChecksum(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	obj, err := a.Stat(ctx, id)
	if err != nil {
		return err
	}
	if obj.Exists && obj.Size == size && obj.SHA256 == sum {
		logger.WithField("key", obj.Key).Debug("already archived")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	meta := map[string]string{
		MetaProductID: id,
		MetaSHA256:    sum,
	}
	if a.opts.RunID != "" {
		meta[MetaRunID] = a.opts.RunID
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := a.bucket.NewWriter(wctx, obj.Key, &blob.WriterOptions{
		ContentType: "application/zip",
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("archive: create writer: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		// Cancelling before Close discards the upload.
		cancel()
		w.Close()
		return fmt.Errorf("archive: upload %s: %w", obj.Key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: commit %s: %w", obj.Key, err)
	}

	logger.WithFields(log.Fields{"key": obj.Key, "size": size}).Info("archived")
	return nil
}

// Verify checks that the archived object for id matches the file at path.
func (a *Archiver) Verify(ctx context.Context, id, path string) error {
	sum, size, err := fileChecksum(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	obj, err := a.Stat(ctx, id)
	if err != nil {
		return err
	}
	if !obj.Exists {
		return fmt.Errorf("archive: %s: %w", obj.Key, os.ErrNotExist)
	}
	if obj.Size != size || !strings.EqualFold(obj.SHA256, sum) {
		return fmt.Errorf("%w: %s (size %d, local %d)", ErrChecksumMismatch, obj.Key, obj.Size, size)
	}
	return nil
}

// Delete removes the archived object for id. Deleting a missing object
// is not an error.
func (a *Archiver) Delete(ctx context.Context, id string) error {
	key := a.Key(id)
	if err := a.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("archive: delete %s: %w", key, err)
	}
	return nil
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
