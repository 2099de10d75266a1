package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	iconhttp "github.com/ligustah/iconsync/internal/http"
	"github.com/ligustah/iconsync/internal/progress"
	"github.com/ligustah/iconsync/internal/store"
)

// DefaultCapacity is the number of concurrent transfers used by the CLI.
const DefaultCapacity = 10

// ErrTooLarge is returned when a response exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("fetcher: response exceeds size limit")

// Source opens the byte stream behind a URL.
type Source interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Resolver maps an item ID to its storage key.
type Resolver func(id string) string

// SVGResolver stores every item as "<id>.svg".
func SVGResolver(id string) string {
	return id + ".svg"
}

// ExtensionResolver stores items as "<id>.<ext>". A leading dot in ext is
// ignored.
func ExtensionResolver(ext string) Resolver {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return func(id string) string { return id }
	}
	return func(id string) string { return id + "." + ext }
}

// State is the scheduler's position in a run.
type State int32

const (
	Idle State = iota
	Draining
	RetryPending
	Retrying
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case RetryPending:
		return "retry-pending"
	case Retrying:
		return "retrying"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Options configures the scheduler.
type Options struct {
	// Capacity is the maximum number of concurrent transfers. Must be positive.
	Capacity int

	// Resolver maps item IDs to storage keys. Default: SVGResolver.
	Resolver Resolver

	// MaxBytes rejects responses larger than this. Zero disables the check.
	MaxBytes int64

	// Logger receives per-item failures and run notices.
	// Default: stderr with an "[iconsync] " prefix.
	Logger *log.Logger

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// OnStateChange is called synchronously on every state transition.
	OnStateChange func(State)
}

// Report summarizes a run.
type Report struct {
	RunID string

	// Items is the number of items in the input.
	Items int

	// Attempts counts transfer attempts across both passes.
	Attempts int

	// Succeeded counts items stored successfully.
	Succeeded int

	// NotFound lists items that returned 404 on the first pass.
	NotFound []string

	// Unresolved lists items still failing after the retry pass, in the
	// order they first failed.
	Unresolved []string

	Results  []Result
	Bytes    int64
	Duration time.Duration
	State    State
}

// AttemptsFor returns every recorded attempt for id, in pass order.
func (r *Report) AttemptsFor(id string) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Item.ID == id {
			out = append(out, res)
		}
	}
	return out
}

// Scheduler fetches items from a Source into a store.Writer with bounded
// concurrency and a single retry pass.
type Scheduler struct {
	src   Source
	dst   store.Writer
	opts  Options
	log   *log.Logger
	state atomic.Int32
}

// New validates opts and returns a Scheduler.
func New(src Source, dst store.Writer, opts Options) (*Scheduler, error) {
	if src == nil {
		return nil, errors.New("fetcher: source is required")
	}
	if dst == nil {
		return nil, errors.New("fetcher: writer is required")
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, opts.Capacity)
	}
	if opts.Resolver == nil {
		opts.Resolver = SVGResolver
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[iconsync] ", log.LstdFlags)
	}

	return &Scheduler{src: src, dst: dst, opts: opts, log: logger}, nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

// Run fetches every item, then retries transient failures once. Per-item
// errors never abort the run; they end up in the report. Items repeating an
// earlier ID are skipped.
func (s *Scheduler) Run(ctx context.Context, items []Item) *Report {
	start := time.Now()
	items = s.unique(items)
	report := &Report{
		RunID: uuid.NewString(),
		Items: len(items),
	}
	failures := NewFailureSet()

	s.setState(Draining)
	s.runPass(ctx, 1, items, failures, report)

	s.setState(RetryPending)
	retry := failures.Items()
	if len(retry) > 0 {
		s.log.Printf("trying to download errored files (%d)", len(retry))
		if s.opts.Progress != nil {
			s.opts.Progress.AddItems(len(retry))
		}
	}

	s.setState(Retrying)
	s.runPass(ctx, 2, retry, failures, report)

	report.Unresolved = failures.IDs()
	report.Duration = time.Since(start)
	report.State = Done
	s.setState(Done)

	s.log.Printf("finished downloading: %d/%d stored", report.Succeeded, report.Items)
	if n := len(report.Unresolved); n > 0 {
		s.log.Printf("total errors: %d", n)
	}

	return report
}

// unique drops items whose ID was already seen, keeping the first.
func (s *Scheduler) unique(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			s.log.Printf("duplicate item skipped: %s", item.ID)
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// runPass pushes items through a fresh gate and returns once every admitted
// transfer has reported back.
func (s *Scheduler) runPass(ctx context.Context, pass int, items []Item, failures *FailureSet, report *Report) {
	if len(items) == 0 {
		return
	}

	// Capacity was validated in New.
	gate, _ := NewGate(s.opts.Capacity)
	results := make(chan Result)

	go func() {
		defer close(results)
		for i, item := range items {
			err := gate.Go(ctx, item.ID, func() {
				results <- s.transfer(ctx, pass, item)
			})
			if errors.Is(err, ErrAlreadyInFlight) {
				results <- Result{Item: item, Pass: pass, Outcome: Outcome{Kind: FailedTransient, Err: err}}
				continue
			}
			if err != nil {
				// Cancelled while waiting for a slot: the rest never start.
				for _, rest := range items[i:] {
					results <- Result{Item: rest, Pass: pass, Outcome: Outcome{Kind: FailedTransient, Err: err}}
				}
				break
			}
		}
		gate.Wait()
	}()

	for res := range results {
		s.record(res, failures, report)
	}
}

// transfer fetches one item and stores it. The gate slot is held until the
// write has finished.
func (s *Scheduler) transfer(ctx context.Context, pass int, item Item) Result {
	if s.opts.Progress != nil {
		s.opts.Progress.ItemStarted()
	}

	start := time.Now()
	n, err := s.fetch(ctx, item)
	res := Result{
		Item:     item,
		Pass:     pass,
		Outcome:  Classify(err),
		Bytes:    n,
		Duration: time.Since(start),
	}

	if s.opts.Progress != nil {
		if err != nil {
			s.opts.Progress.ItemFailed()
		} else {
			s.opts.Progress.ItemCompleted(n)
		}
	}
	return res
}

func (s *Scheduler) fetch(ctx context.Context, item Item) (int64, error) {
	body, err := s.src.Open(ctx, item.URL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	key := s.opts.Resolver(item.ID)

	var r io.Reader = body
	if s.opts.MaxBytes > 0 {
		r = &capReader{r: body, max: s.opts.MaxBytes}
	}

	return s.dst.Write(ctx, key, r)
}

// capReader fails with ErrTooLarge as soon as more than max bytes have been
// read, so the writer sees a copy error and discards the object.
type capReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.read > c.max {
		return 0, ErrTooLarge
	}
	if rest := c.max + 1 - c.read; int64(len(p)) > rest {
		p = p[:rest]
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.max {
		return n, ErrTooLarge
	}
	return n, err
}

// record applies an attempt's outcome to the failure set and report. Only
// the control loop calls it.
func (s *Scheduler) record(res Result, failures *FailureSet, report *Report) {
	report.Attempts++
	report.Results = append(report.Results, res)

	id := res.Item.ID
	suffix := ""
	if res.Pass > 1 {
		suffix = " (retry)"
	}

	switch res.Outcome.Kind {
	case Succeeded:
		report.Succeeded++
		report.Bytes += res.Bytes
		failures.Remove(id)

	case FailedPermanent:
		s.log.Printf("Icon not found: %s%s", id, suffix)
		if res.Pass == 1 {
			failures.Remove(id)
			report.NotFound = append(report.NotFound, id)
		}

	case FailedTransient:
		var statusErr *iconhttp.StatusError
		if errors.As(res.Outcome.Err, &statusErr) {
			s.log.Printf("error at request to (%s), status: %d%s", res.Item.URL, statusErr.StatusCode, suffix)
		} else {
			s.log.Printf("error downloading %s%s: %v", id, suffix, res.Outcome.Err)
		}
		failures.Add(res.Item)
	}
}
