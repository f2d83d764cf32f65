package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalItems is the number of objects in the batch.
	TotalItems int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Destination is the output directory (for display).
	Destination string
}

// Reporter outputs human-readable progress information for a batch.
// The counting methods are safe for concurrent use and may be called
// without Start, in which case nothing is printed.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	completedItems atomic.Int32
	failedItems    atomic.Int32
	inProgress     atomic.Int32
	attempts       atomic.Int32
	writtenBytes   atomic.Int64
	resumedBytes   atomic.Int64
	current        atomic.Value // string
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[dsfetch] Downloading %d products to %s | Workers: %d\n",
		r.opts.TotalItems,
		r.opts.Destination,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints a summary.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// ItemBegan marks an item as in progress.
func (r *Reporter) ItemBegan() {
	r.inProgress.Add(1)
}

// ItemCompleted marks an in-progress item as done.
func (r *Reporter) ItemCompleted() {
	r.completedItems.Add(1)
	r.inProgress.Add(-1)
}

// ItemFailed marks an in-progress item as given up on.
func (r *Reporter) ItemFailed() {
	r.failedItems.Add(1)
	r.inProgress.Add(-1)
}

// AttemptStarted records the start of a download attempt.
func (r *Reporter) AttemptStarted(id string, offset, size int64) {
	r.attempts.Add(1)
	r.resumedBytes.Add(offset)
	r.current.Store(id)
}

// BytesWritten records bytes flushed to disk.
func (r *Reporter) BytesWritten(n int64) {
	r.writtenBytes.Add(n)
}

// Snapshot returns the counters: completed, failed and in-progress items,
// and bytes written.
func (r *Reporter) Snapshot() (completed, failed, inProgress int, written int64) {
	return int(r.completedItems.Load()), int(r.failedItems.Load()), int(r.inProgress.Load()), r.writtenBytes.Load()
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed, failed, inProgress, written := r.Snapshot()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(written-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = written

	var percent float64
	if r.opts.TotalItems > 0 {
		percent = float64(completed+failed) / float64(r.opts.TotalItems) * 100
	}

	current, _ := r.current.Load().(string)

	fmt.Fprintf(r.opts.Output, "\r[dsfetch] Progress: %.1f%% | %d done | %d failed | %d active | %s written | Speed: %s/s | %s    ",
		percent,
		completed,
		failed,
		inProgress,
		humanize.IBytes(uint64(written)),
		humanize.IBytes(uint64(speed)),
		current,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed, failed, _, written := r.Snapshot()
	duration := time.Since(r.startTime)
	avgSpeed := float64(written) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[dsfetch] Products: %d/%d downloaded | %d failed | %d attempts    \n",
		completed,
		r.opts.TotalItems,
		failed,
		r.attempts.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[dsfetch] Total time: %s | Written: %s (resumed past %s) | Average speed: %s/s\n",
		formatDuration(duration),
		humanize.IBytes(uint64(written)),
		humanize.IBytes(uint64(r.resumedBytes.Load())),
		humanize.IBytes(uint64(avgSpeed)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes with binary units ("1.5 KiB").
func FormatBytes(b int64) string {
	if b < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. Binary suffixes (KiB,
// MiB) are powers of 1024, SI suffixes (KB, MB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
