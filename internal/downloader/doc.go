// Package downloader runs batches of product downloads.
//
// An Orchestrator takes an ordered list of items, obtains a token, and
// hands each item to a Controller on a bounded pool of workers. The
// Controller drives the transfer engine through repeated attempts:
//
//	Completed         stop, item succeeded
//	FatalFailure      stop, item failed
//	RetryableFailure  wait Backoff, try again until Attempts is used up
//	Unauthorized      refresh the token once and repeat the request;
//	                  a second rejection is fatal
//
// # Usage
//
//	orch := downloader.New(engine, manager, downloader.Options{
//	    Workers: 4,
//	    Retry:   downloader.RetryPolicy{Attempts: 3, Backoff: 5 * time.Second},
//	})
//	report, err := orch.Run(ctx, items)
//
// Run only returns an error when the batch cannot start at all: empty or
// malformed input, or no token could be obtained. Everything else is
// folded into the Report, which lists failed ids in input order. Part
// files of failed items stay on disk so a rerun resumes them.
//
// # Cancellation
//
// Cancelling ctx interrupts backoff waits and in-flight transfers. Items
// that had not finished are reported as failed.
package downloader
