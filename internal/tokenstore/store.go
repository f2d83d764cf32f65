package tokenstore

import (
	"context"
	"strings"

	"github.com/ligustah/dsfetch/internal/auth"
)

// Open returns the store for location. A location with a URL scheme
// ("s3://", "gs://", "file://", "mem://") opens a bucket-backed store;
// anything else is treated as the path of a .env file.
func Open(ctx context.Context, location string) (auth.Store, error) {
	if strings.Contains(location, "://") {
		return OpenBlob(ctx, location, DefaultBlobKey)
	}
	return NewEnvFile(location), nil
}
