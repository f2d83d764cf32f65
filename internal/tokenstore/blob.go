package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/dsfetch/internal/auth"
)

// DefaultBlobKey is the object the blob store keeps the token in.
const DefaultBlobKey = "dsfetch/token.json"

type blobToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// Blob keeps the token as a JSON object in a bucket, so several hosts
// can share one session.
type Blob struct {
	bucket *blob.Bucket
	key    string
}

// OpenBlob opens the bucket at bucketURL and returns a store using key.
func OpenBlob(ctx context.Context, bucketURL, key string) (*Blob, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open token bucket: %w", err)
	}
	return NewBlob(bkt, key), nil
}

// NewBlob returns a store on an already opened bucket.
func NewBlob(bucket *blob.Bucket, key string) *Blob {
	if key == "" {
		key = DefaultBlobKey
	}
	return &Blob{bucket: bucket, key: key}
}

// Load reads the token object.
func (s *Blob) Load(ctx context.Context) (auth.TokenState, error) {
	data, err := s.bucket.ReadAll(ctx, s.key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return auth.TokenState{}, fmt.Errorf("%s: %w", s.key, auth.ErrNoToken)
	}
	if err != nil {
		return auth.TokenState{}, fmt.Errorf("read token: %w", err)
	}

	var bt blobToken
	if err := json.Unmarshal(data, &bt); err != nil {
		return auth.TokenState{}, fmt.Errorf("parse token: %w", err)
	}
	tok := auth.TokenState{
		AccessToken:  bt.AccessToken,
		RefreshToken: bt.RefreshToken,
		ObtainedAt:   bt.ObtainedAt,
	}
	if !tok.Valid() {
		return auth.TokenState{}, fmt.Errorf("%s: %w", s.key, auth.ErrNoToken)
	}
	return tok, nil
}

// Save overwrites the token object.
func (s *Blob) Save(ctx context.Context, tok auth.TokenState) error {
	data, err := json.Marshal(blobToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   tok.ObtainedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, s.key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Close closes the underlying bucket.
func (s *Blob) Close() error {
	return s.bucket.Close()
}
