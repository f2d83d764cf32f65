package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ligustah/dsfetch/internal/auth"
	"github.com/ligustah/dsfetch/internal/input"
	"github.com/ligustah/dsfetch/internal/progress"
	"github.com/ligustah/dsfetch/internal/transfer"
)

// TokenSource is the token manager as seen by a batch run.
// *auth.Manager implements it.
type TokenSource interface {
	Tokens
	Ensure(ctx context.Context) (auth.TokenState, error)
}

// Archiver copies a finished file somewhere else. *archive.Archiver
// implements it.
type Archiver interface {
	Archive(ctx context.Context, id, path string) error
}

// Options configures a batch run.
type Options struct {
	// Workers is the number of items downloaded at once. Default: 1
	Workers int

	// Retry bounds attempts per item. Default: DefaultRetryPolicy()
	Retry RetryPolicy

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Archiver, when set, receives every completed file.
	Archiver Archiver

	// RunID tags log lines and the report. Generated when empty.
	RunID string
}

// Report summarises a batch run.
type Report struct {
	RunID     string
	Total     int
	Succeeded int

	// FailedIDs lists failed items in input order.
	FailedIDs []string

	// ArchiveFailures lists ids that downloaded but could not be archived.
	// They still count as succeeded.
	ArchiveFailures []string

	// Results holds one entry per input item, in input order.
	Results []Result

	Duration time.Duration
}

// Failed returns the number of failed items.
func (r *Report) Failed() int { return len(r.FailedIDs) }

// OK reports whether every item succeeded.
func (r *Report) OK() bool { return r.Total == r.Succeeded }

// Orchestrator runs batches of downloads.
type Orchestrator struct {
	fetcher Fetcher
	tokens  TokenSource
	opts    Options
}

// New creates an orchestrator that downloads with fetcher and
// authenticates with tokens.
func New(fetcher Fetcher, tokens TokenSource, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Orchestrator{fetcher: fetcher, tokens: tokens, opts: opts}
}

// Run downloads items and returns a report.
//
// Only whole-batch preconditions return an error: invalid input
// (*input.InputError) and failing to obtain a first token
// (*auth.AuthError). Both happen before any download starts. Per-item
// failures end up in Report.FailedIDs. If ctx is cancelled, items not
// yet finished are reported as failed.
func (o *Orchestrator) Run(ctx context.Context, items []transfer.Item) (*Report, error) {
	if err := input.Validate(items); err != nil {
		return nil, err
	}

	runID := o.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := log.WithField("run_id", runID)
	start := time.Now()

	if _, err := o.tokens.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("obtain initial token: %w", err)
	}

	logger.WithFields(log.Fields{"items": len(items), "workers": o.opts.Workers}).Info("batch started")

	ctrl := NewController(o.fetcher, o.tokens, o.opts.Retry)

	// One attempt per id at a time, even when an id is listed twice.
	locks := make(map[string]*sync.Mutex, len(items))
	for _, it := range items {
		if locks[it.ID] == nil {
			locks[it.ID] = &sync.Mutex{}
		}
	}

	results := make([]Result, len(items))
	done := make([]bool, len(items))
	archived := make([]bool, len(items))

	jobs := make(chan int, o.opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]
				if o.opts.Progress != nil {
					o.opts.Progress.ItemBegan()
				}

				mu := locks[item.ID]
				mu.Lock()
				res := ctrl.Attempt(ctx, item)
				mu.Unlock()

				ok := true
				if res.Succeeded() && o.opts.Archiver != nil {
					if err := o.opts.Archiver.Archive(ctx, item.ID, res.Outcome.Path); err != nil {
						logger.WithField("id", item.ID).WithError(err).Warn("archive failed")
						ok = false
					}
				}

				if o.opts.Progress != nil {
					if res.Succeeded() {
						o.opts.Progress.ItemCompleted()
					} else {
						o.opts.Progress.ItemFailed()
					}
				}

				// Each index is written by exactly one worker and read
				// after wg.Wait.
				results[idx] = res
				done[idx] = true
				archived[idx] = ok
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	report := &Report{
		RunID:   runID,
		Total:   len(items),
		Results: results,
	}
	for i, item := range items {
		if !done[i] {
			results[i] = Result{
				Item:    item,
				Outcome: transfer.Outcome{Kind: transfer.RetryableFailure, Reason: cancelReason(ctx), Size: -1},
			}
		}
		if results[i].Succeeded() {
			report.Succeeded++
			if !archived[i] {
				report.ArchiveFailures = append(report.ArchiveFailures, item.ID)
			}
		} else {
			report.FailedIDs = append(report.FailedIDs, item.ID)
		}
	}
	report.Duration = time.Since(start)

	logger.WithFields(log.Fields{
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed(),
		"duration":  report.Duration.Round(time.Millisecond).String(),
	}).Info("batch finished")

	return report, nil
}

func cancelReason(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("not attempted: %w", err)
	}
	return errors.New("not attempted")
}
