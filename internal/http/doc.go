// Package http provides the HTTP client used to fetch large objects.
//
// This package handles:
//   - Connection pooling shared between downloads and token exchanges
//   - GET requests from a byte offset with a bearer token
//   - Classification of statuses into sentinel errors
//   - Per-read idle timeouts on response bodies
//   - Content-Range parsing
//
// Retrying is left to the caller; see [IsRetryable].
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout: 60 * time.Second,
//	})
//
//	resp, err := client.GetFrom(ctx, url, accessToken, offset)
//	if errors.Is(err, http.ErrUnauthorized) {
//	    // refresh the token and try again
//	}
//	defer resp.Body.Close()
package http
