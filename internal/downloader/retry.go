package downloader

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ligustah/dsfetch/internal/auth"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// Defaults for RetryPolicy.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 5 * time.Second
)

// Fetcher makes single download attempts. *transfer.Engine implements it.
type Fetcher interface {
	Download(ctx context.Context, item transfer.Item, tok auth.TokenState) transfer.Outcome
}

// Tokens hands out the current token and replaces rejected ones.
// *auth.Manager implements it.
type Tokens interface {
	Current() auth.TokenState
	Refresh(ctx context.Context, stale auth.TokenState) (auth.TokenState, error)
}

// RetryPolicy bounds the attempts made for one item.
type RetryPolicy struct {
	// Attempts is the maximum number of attempts. Default: 3
	Attempts int

	// Backoff is the constant wait after a retryable failure.
	// Zero disables waiting.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Backoff: DefaultBackoff}
}

// Result is the final state of one item.
type Result struct {
	Item transfer.Item

	// Outcome of the last attempt made.
	Outcome transfer.Outcome

	// Attempts counts attempts, not requests: a token refresh repeats the
	// request inside the same attempt.
	Attempts int

	// Refreshes counts token refreshes triggered by this item.
	Refreshes int
}

// Succeeded reports whether the item ended up completed.
func (r Result) Succeeded() bool {
	return r.Outcome.Kind == transfer.Completed
}

// Controller retries one item according to a RetryPolicy.
type Controller struct {
	fetcher Fetcher
	tokens  Tokens
	policy  RetryPolicy
}

// NewController creates a retry controller.
func NewController(fetcher Fetcher, tokens Tokens, policy RetryPolicy) *Controller {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultAttempts
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	return &Controller{fetcher: fetcher, tokens: tokens, policy: policy}
}

// Attempt downloads item, retrying retryable failures up to the policy's
// attempt budget. A 401 triggers one token refresh and an immediate
// repeat within the same attempt; a second 401 is fatal. Fatal failures
// and completion end the loop at once. Cancelling ctx interrupts a
// backoff wait and ends the loop.
func (c *Controller) Attempt(ctx context.Context, item transfer.Item) Result {
	res := Result{Item: item}
	logger := log.WithField("id", item.ID)

	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		res.Attempts = attempt
		out := c.once(ctx, item, &res)
		res.Outcome = out

		switch out.Kind {
		case transfer.Completed:
			logger.WithField("attempt", attempt).Info("download complete")
			return res
		case transfer.FatalFailure:
			logger.WithField("attempt", attempt).WithError(out.Reason).Error("download failed")
			return res
		}

		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("download interrupted")
			return res
		}
		if attempt == c.policy.Attempts {
			break
		}

		logger.WithField("attempt", attempt).WithError(out.Reason).
			Warnf("retryable failure, retrying in %s", c.policy.Backoff)
		if err := sleepContext(ctx, c.policy.Backoff); err != nil {
			return res
		}
	}

	logger.WithField("attempt", res.Attempts).WithError(res.Outcome.Reason).Error("retries exhausted")
	return res
}

// once runs a single attempt, including at most one token refresh.
func (c *Controller) once(ctx context.Context, item transfer.Item, res *Result) transfer.Outcome {
	tok := c.tokens.Current()
	out := c.fetcher.Download(ctx, item, tok)
	if out.Kind != transfer.Unauthorized {
		return out
	}

	res.Refreshes++
	log.WithField("id", item.ID).Info("token rejected, refreshing")

	fresh, err := c.tokens.Refresh(ctx, tok)
	if err != nil {
		return transfer.Outcome{
			Kind:   transfer.RetryableFailure,
			Reason: fmt.Errorf("refresh token: %w", err),
			Offset: out.Offset,
			Size:   -1,
		}
	}

	out = c.fetcher.Download(ctx, item, fresh)
	if out.Kind == transfer.Unauthorized {
		out.Kind = transfer.FatalFailure
		out.Reason = fmt.Errorf("still unauthorized after token refresh: %w", out.Reason)
	}
	return out
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
