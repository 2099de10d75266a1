package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	iconhttp "github.com/ligustah/iconsync/internal/http"
	"github.com/ligustah/iconsync/internal/store"
)

// response scripts one attempt against a URL.
type response struct {
	status int
	body   string
	err    error
}

// fakeSource serves scripted responses and tracks how many streams are open.
type fakeSource struct {
	mu     sync.Mutex
	script map[string][]response
	calls  map[string]int
	delay  time.Duration

	active atomic.Int32
	peak   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		script: make(map[string][]response),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) on(url string, responses ...response) {
	f.script[url] = responses
}

func (f *fakeSource) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeSource) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	n := f.calls[url]
	f.calls[url]++
	resps := f.script[url]
	f.mu.Unlock()

	cur := f.active.Add(1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	resp := response{body: "<svg>" + url + "</svg>"}
	if len(resps) > 0 {
		resp = resps[min(n, len(resps)-1)]
	}

	if resp.err != nil {
		f.active.Add(-1)
		return nil, resp.err
	}
	if resp.status != 0 && resp.status != http.StatusOK {
		f.active.Add(-1)
		return nil, &iconhttp.StatusError{URL: url, StatusCode: resp.status}
	}
	return &trackedBody{Reader: strings.NewReader(resp.body), done: func() { f.active.Add(-1) }}, nil
}

type trackedBody struct {
	io.Reader
	once sync.Once
	done func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.done)
	return nil
}

// memWriter stores objects in memory. Keys listed in failures fail that many
// times before succeeding.
type memWriter struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]int
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte), failures: make(map[string]int)}
}

func (w *memWriter) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), &store.WriteError{Key: key, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures[key] > 0 {
		w.failures[key]--
		return 0, &store.WriteError{Key: key, Err: errors.New("disk full")}
	}
	w.objects[key] = data
	return int64(len(data)), nil
}

func (w *memWriter) Exists(ctx context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.objects[key]
	return ok, nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) get(key string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, ok := w.objects[key]
	return data, ok
}

func items(ids ...string) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{ID: id, URL: "https://icons.test/" + id}
	}
	return out
}

func newTestScheduler(t *testing.T, src Source, dst store.Writer, capacity int) (*Scheduler, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	s, err := New(src, dst, Options{
		Capacity: capacity,
		Logger:   log.New(&logs, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, &logs
}

func TestNewRejectsInvalidCapacity(t *testing.T) {
	_, err := New(newFakeSource(), newMemWriter(), Options{Capacity: 0})
	if !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(nil, newMemWriter(), Options{Capacity: 1}); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := New(newFakeSource(), nil, Options{Capacity: 1}); err == nil {
		t.Error("expected error for nil writer")
	}
}

func TestRunStoresEveryItem(t *testing.T) {
	src := newFakeSource()
	dst := newMemWriter()
	s, _ := newTestScheduler(t, src, dst, DefaultCapacity)

	report := s.Run(context.Background(), items("home", "search", "settings"))

	if report.Succeeded != 3 || report.Items != 3 || report.Attempts != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("expected no unresolved items, got %v", report.Unresolved)
	}
	if report.RunID == "" {
		t.Error("expected a run ID")
	}

	data, ok := dst.get("home.svg")
	if !ok {
		t.Fatal("home.svg was not stored")
	}
	if string(data) != "<svg>https://icons.test/home</svg>" {
		t.Errorf("unexpected content %q", data)
	}
	if report.Bytes == 0 {
		t.Error("expected byte count to be recorded")
	}
}

func TestRunCapacityBound(t *testing.T) {
	src := newFakeSource()
	src.delay = 30 * time.Millisecond
	s, _ := newTestScheduler(t, src, newMemWriter(), 2)

	report := s.Run(context.Background(), items("a", "b", "c"))

	if p := src.peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent transfers, got %d", p)
	}
	if p := src.peak.Load(); p < 2 {
		t.Errorf("expected the gate to keep 2 transfers busy, peak was %d", p)
	}
	if report.Succeeded != 3 {
		t.Errorf("expected 3 succeeded, got %d", report.Succeeded)
	}
}

func TestRunCapacityHeldDuringWrite(t *testing.T) {
	src := newFakeSource()
	dst := &slowWriter{memWriter: newMemWriter(), delay: 20 * time.Millisecond}
	s, _ := newTestScheduler(t, src, dst, 2)

	s.Run(context.Background(), items("a", "b", "c", "d", "e"))

	if p := dst.peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent writes, got %d", p)
	}
}

type slowWriter struct {
	*memWriter
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (w *slowWriter) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	cur := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		p := w.peak.Load()
		if cur <= p || w.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(w.delay)
	return w.memWriter.Write(ctx, key, r)
}

func TestRunNotFoundIsNeverRetried(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/ghost", response{status: http.StatusNotFound})
	s, logs := newTestScheduler(t, src, newMemWriter(), 2)

	report := s.Run(context.Background(), items("home", "ghost"))

	if n := src.Calls("https://icons.test/ghost"); n != 1 {
		t.Errorf("expected 1 attempt for ghost, got %d", n)
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("404 must not be unresolved, got %v", report.Unresolved)
	}
	if !reflect.DeepEqual(report.NotFound, []string{"ghost"}) {
		t.Errorf("expected NotFound [ghost], got %v", report.NotFound)
	}
	if n := strings.Count(logs.String(), "Icon not found: ghost"); n != 1 {
		t.Errorf("expected one not-found log line, got %d:\n%s", n, logs.String())
	}
	if strings.Contains(logs.String(), "trying to download errored files") {
		t.Error("retry pass must not be announced when nothing is retryable")
	}
}

func TestRunRetryResolvesTransientFailure(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/a",
		response{status: http.StatusInternalServerError},
		response{body: "<svg>a</svg>"},
	)
	dst := newMemWriter()
	s, logs := newTestScheduler(t, src, dst, 2)

	report := s.Run(context.Background(), items("a", "b"))

	if report.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %d", report.Succeeded)
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("expected a to be resolved, got %v", report.Unresolved)
	}
	if data, _ := dst.get("a.svg"); string(data) != "<svg>a</svg>" {
		t.Errorf("unexpected a.svg content %q", data)
	}

	attempts := report.AttemptsFor("a")
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts for a, got %d", len(attempts))
	}
	if attempts[0].Pass != 1 || attempts[0].Outcome.Kind != FailedTransient {
		t.Errorf("unexpected first attempt: %+v", attempts[0])
	}
	if attempts[1].Pass != 2 || attempts[1].Outcome.Kind != Succeeded {
		t.Errorf("unexpected second attempt: %+v", attempts[1])
	}

	out := logs.String()
	if !strings.Contains(out, "error at request to (https://icons.test/a), status: 500") {
		t.Errorf("missing status log line:\n%s", out)
	}
	if !strings.Contains(out, "trying to download errored files (1)") {
		t.Errorf("missing retry notice:\n%s", out)
	}
	if strings.Contains(out, "total errors") {
		t.Errorf("no errors should remain:\n%s", out)
	}
}

func TestRunRetryRefailsStopsAfterTwoAttempts(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/b", response{status: http.StatusServiceUnavailable})
	s, logs := newTestScheduler(t, src, newMemWriter(), 2)

	report := s.Run(context.Background(), items("a", "b", "c"))

	if n := src.Calls("https://icons.test/b"); n != 2 {
		t.Errorf("expected exactly 2 attempts for b, got %d", n)
	}
	if !reflect.DeepEqual(report.Unresolved, []string{"b"}) {
		t.Errorf("expected unresolved [b], got %v", report.Unresolved)
	}
	if report.Attempts != 4 {
		t.Errorf("expected 4 attempts in total, got %d", report.Attempts)
	}
	if !strings.Contains(logs.String(), "total errors: 1") {
		t.Errorf("missing final error count:\n%s", logs.String())
	}
}

func TestRunNotFoundOnRetryStaysUnresolved(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/a",
		response{status: http.StatusTooManyRequests},
		response{status: http.StatusNotFound},
	)
	s, logs := newTestScheduler(t, src, newMemWriter(), 1)

	report := s.Run(context.Background(), items("a"))

	if !reflect.DeepEqual(report.Unresolved, []string{"a"}) {
		t.Errorf("expected unresolved [a], got %v", report.Unresolved)
	}
	if len(report.NotFound) != 0 {
		t.Errorf("NotFound only lists first-pass 404s, got %v", report.NotFound)
	}
	if !strings.Contains(logs.String(), "Icon not found: a (retry)") {
		t.Errorf("missing retry not-found line:\n%s", logs.String())
	}
}

func TestRunCoverage(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/gone", response{status: http.StatusNotFound})
	src.on("https://icons.test/flaky", response{err: errors.New("connection reset")}, response{})
	src.on("https://icons.test/broken", response{status: http.StatusBadGateway})
	s, _ := newTestScheduler(t, src, newMemWriter(), 3)

	in := items("ok1", "gone", "flaky", "ok2", "broken")
	report := s.Run(context.Background(), in)

	for _, item := range in {
		attempts := report.AttemptsFor(item.ID)
		var first, second int
		for _, a := range attempts {
			switch a.Pass {
			case 1:
				first++
			case 2:
				second++
			}
		}
		if first != 1 {
			t.Errorf("%s: expected one first-pass outcome, got %d", item.ID, first)
			continue
		}
		wantSecond := 0
		if attempts[0].Outcome.Kind == FailedTransient {
			wantSecond = 1
		}
		if second != wantSecond {
			t.Errorf("%s: expected %d retry outcomes, got %d", item.ID, wantSecond, second)
		}
	}

	if !reflect.DeepEqual(report.Unresolved, []string{"broken"}) {
		t.Errorf("expected unresolved [broken], got %v", report.Unresolved)
	}
	if report.Succeeded != 3 {
		t.Errorf("expected 3 succeeded, got %d", report.Succeeded)
	}
}

func TestRunWriteErrorIsTransient(t *testing.T) {
	src := newFakeSource()
	dst := newMemWriter()
	dst.failures["a.svg"] = 1
	s, logs := newTestScheduler(t, src, dst, 2)

	report := s.Run(context.Background(), items("a"))

	if report.Succeeded != 1 || len(report.Unresolved) != 0 {
		t.Errorf("expected write failure to be retried, got %+v", report)
	}
	if !strings.Contains(logs.String(), "error downloading a: write a.svg: disk full") {
		t.Errorf("missing raw error log line:\n%s", logs.String())
	}
}

func TestRunMaxBytes(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/small", response{body: "<svg/>"})
	src.on("https://icons.test/exact", response{body: strings.Repeat("x", 32)})
	src.on("https://icons.test/big", response{body: strings.Repeat("x", 64)})
	dst := newMemWriter()
	var logs bytes.Buffer
	s, err := New(src, dst, Options{
		Capacity: 2,
		MaxBytes: 32,
		Logger:   log.New(&logs, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := s.Run(context.Background(), items("small", "exact", "big"))

	if !reflect.DeepEqual(report.Unresolved, []string{"big"}) {
		t.Errorf("expected unresolved [big], got %v", report.Unresolved)
	}
	last := report.AttemptsFor("big")[1]
	if !errors.Is(last.Outcome.Err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", last.Outcome.Err)
	}
	if _, ok := dst.get("big.svg"); ok {
		t.Error("expected no object for an oversized icon")
	}
	if data, ok := dst.get("exact.svg"); !ok || len(data) != 32 {
		t.Errorf("expected icon at the limit to be stored, got %d bytes", len(data))
	}
}

func TestRunMaxBytesLeavesNoFile(t *testing.T) {
	src := newFakeSource()
	src.on("https://icons.test/a", response{body: strings.Repeat("x", 100)})

	dst, err := store.NewDirWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirWriter: %v", err)
	}
	s, err := New(src, dst, Options{
		Capacity: 1,
		MaxBytes: 10,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := s.Run(context.Background(), items("a"))

	if report.Succeeded != 0 || !reflect.DeepEqual(report.Unresolved, []string{"a"}) {
		t.Errorf("expected a to stay unresolved, got %+v", report)
	}
	if _, err := os.Stat(dst.Path("a.svg")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no file for an oversized icon, got %v", err)
	}
	if ok, _ := dst.Exists(context.Background(), "a.svg"); ok {
		t.Error("expected Exists to report the icon as missing")
	}
}

func TestRunSkipsDuplicateIDs(t *testing.T) {
	src := newFakeSource()
	dst := newMemWriter()
	s, logs := newTestScheduler(t, src, dst, 2)

	in := []Item{
		{ID: "a", URL: "https://icons.test/a"},
		{ID: "b", URL: "https://icons.test/b"},
		{ID: "a", URL: "https://icons.test/other"},
	}
	report := s.Run(context.Background(), in)

	if report.Items != 2 || report.Attempts != 2 || report.Succeeded != 2 {
		t.Errorf("expected 2 items, 2 attempts, 2 stored, got %+v", report)
	}
	if src.Calls("https://icons.test/other") != 0 {
		t.Error("expected the duplicate to be skipped")
	}
	if data, _ := dst.get("a.svg"); !strings.Contains(string(data), "icons.test/a<") {
		t.Errorf("expected the first item to win, got %q", data)
	}
	if !strings.Contains(logs.String(), "duplicate item skipped: a") {
		t.Errorf("missing duplicate log line:\n%s", logs.String())
	}
}

func TestRunEmptyMapping(t *testing.T) {
	var states []State
	s, err := New(newFakeSource(), newMemWriter(), Options{
		Capacity:      DefaultCapacity,
		Logger:        log.New(io.Discard, "", 0),
		OnStateChange: func(st State) { states = append(states, st) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := s.Run(context.Background(), nil)

	if report.Attempts != 0 || report.Succeeded != 0 || len(report.Unresolved) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
	if report.State != Done || s.State() != Done {
		t.Errorf("expected Done, got report=%v scheduler=%v", report.State, s.State())
	}
	want := []State{Draining, RetryPending, Retrying, Done}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("state transitions = %v, want %v", states, want)
	}
}

func TestRunRetryStartsAfterFirstPassDrains(t *testing.T) {
	src := newFakeSource()
	src.delay = 5 * time.Millisecond
	src.on("https://icons.test/x0", response{status: http.StatusInternalServerError}, response{})
	s, _ := newTestScheduler(t, src, newMemWriter(), 2)

	in := make([]Item, 8)
	for i := range in {
		in[i] = Item{ID: fmt.Sprintf("x%d", i), URL: fmt.Sprintf("https://icons.test/x%d", i)}
	}

	report := s.Run(context.Background(), in)

	// Results are recorded in completion order.
	firstPass := 0
	for _, res := range report.Results {
		if res.Pass == 1 {
			firstPass++
			continue
		}
		if firstPass != len(in) {
			t.Fatalf("retry of %s recorded after only %d first-pass outcomes", res.Item.ID, firstPass)
		}
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("expected x0 to resolve on retry, got %v", report.Unresolved)
	}
}

func TestRunCancelledContext(t *testing.T) {
	src := newFakeSource()
	s, _ := newTestScheduler(t, src, newMemWriter(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := s.Run(ctx, items("a", "b", "c"))

	if report.State != Done {
		t.Errorf("expected Done, got %v", report.State)
	}
	if !reflect.DeepEqual(report.Unresolved, []string{"a", "b", "c"}) {
		t.Errorf("expected every item unresolved, got %v", report.Unresolved)
	}
	for _, res := range report.Results {
		if !errors.Is(res.Outcome.Err, context.Canceled) {
			t.Errorf("%s: expected context.Canceled, got %v", res.Item.ID, res.Outcome.Err)
		}
	}
	if n := src.Calls("https://icons.test/a"); n != 0 {
		t.Errorf("no request should be made after cancellation, got %d", n)
	}
}

func TestRunOverHTTPIsIdempotent(t *testing.T) {
	var version atomic.Int32
	version.Store(1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			fmt.Fprintf(w, "<svg id=%q v=%d/>", r.URL.Path, version.Load())
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	dst, err := store.NewDirWriter(dir)
	if err != nil {
		t.Fatalf("NewDirWriter: %v", err)
	}

	client := iconhttp.NewClient(iconhttp.DefaultOptions())
	s, _ := newTestScheduler(t, client, dst, 3)

	in := []Item{
		{ID: "home", URL: server.URL + "/home"},
		{ID: "search", URL: server.URL + "/search"},
		{ID: "missing", URL: server.URL + "/missing"},
	}

	first := s.Run(context.Background(), in)
	if first.Succeeded != 2 || !reflect.DeepEqual(first.NotFound, []string{"missing"}) {
		t.Fatalf("unexpected first report: %+v", first)
	}

	version.Store(2)
	second := s.Run(context.Background(), in)
	if second.Succeeded != 2 {
		t.Fatalf("unexpected second report: %+v", second)
	}

	data, err := os.ReadFile(dst.Path("home.svg"))
	if err != nil {
		t.Fatalf("read home.svg: %v", err)
	}
	if string(data) != `<svg id="/home" v=2/>` {
		t.Errorf("expected overwritten content, got %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 files, got %d", len(entries))
	}
	if first.RunID == second.RunID {
		t.Error("expected distinct run IDs")
	}
}

func TestExtensionResolver(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{"svg", "home.svg"},
		{".png", "home.png"},
		{"", "home"},
	}
	for _, tt := range tests {
		if got := ExtensionResolver(tt.ext)("home"); got != tt.want {
			t.Errorf("ExtensionResolver(%q)(home) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}
