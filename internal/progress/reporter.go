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
	// TotalItems is the number of icons in the catalog.
	TotalItems int

	// Capacity is the number of concurrent transfers (for display).
	Capacity int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Destination is the output location (for display).
	Destination string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	totalItems     atomic.Int64
	completedBytes atomic.Int64
	completedItems atomic.Int32
	failedItems    atomic.Int32
	inProgress     atomic.Int32
	startTime      time.Time
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

	r := &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.totalItems.Store(int64(opts.TotalItems))
	return r
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
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[iconsync] Downloading %d icons to %s | Capacity: %d\n",
		r.totalItems.Load(),
		r.opts.Destination,
		r.opts.Capacity,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status.
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

// AddItems grows the total, e.g. when a retry pass starts.
func (r *Reporter) AddItems(n int) {
	r.totalItems.Add(int64(n))
}

// ItemStarted marks an icon as in progress.
func (r *Reporter) ItemStarted() {
	r.inProgress.Add(1)
}

// ItemCompleted marks an icon as stored.
func (r *Reporter) ItemCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedItems.Add(1)
	r.inProgress.Add(-1)
}

// ItemFailed marks an icon as failed (removes from in-progress).
func (r *Reporter) ItemFailed() {
	r.failedItems.Add(1)
	r.inProgress.Add(-1)
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
	total := r.totalItems.Load()
	completed := int64(r.completedItems.Load())
	failed := int64(r.failedItems.Load())
	inProgress := int64(r.inProgress.Load())

	var percent float64
	if total > 0 {
		percent = float64(completed+failed) / float64(total) * 100
	}

	pending := total - completed - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[iconsync] Progress: %.1f%% | %d stored | %d failed | %d in-flight | %d pending | %s    ",
		percent,
		completed,
		failed,
		inProgress,
		pending,
		humanize.IBytes(uint64(r.completedBytes.Load())),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	fmt.Fprintf(r.opts.Output, "\r[iconsync] Stored %d icons (%s), %d failed attempts in %s    \n",
		r.completedItems.Load(),
		humanize.IBytes(uint64(r.completedBytes.Load())),
		r.failedItems.Load(),
		time.Since(r.startTime).Round(time.Second),
	)
}

// FormatBytes formats bytes using IEC units ("1.5 KiB").
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. Both SI ("1KB" = 1000)
// and IEC ("1KiB" = 1024) suffixes are accepted.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
