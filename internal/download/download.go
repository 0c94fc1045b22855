// Package download streams remote binary assets into memory with
// progress reporting, retry-with-backoff, multi-file orchestration and
// post-download integrity checking.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Task describes one file to fetch.
type Task struct {
	// URL is the remote asset endpoint (plain HTTP GET).
	URL string
	// Name identifies the task for progress and cancellation.
	Name string
	// SizeBytes is the expected payload length; 0 means unknown.
	SizeBytes int64
	// SHA256 is the expected digest, lowercase hex. Empty disables
	// verification.
	SHA256 string
}

// Manager fetches binary assets reliably under adverse network
// conditions. It is safe for concurrent use.
type Manager struct {
	client  HTTPClient
	log     zerolog.Logger
	retries int
	backoff time.Duration

	mu     sync.Mutex
	active map[string]*activeTask
}

// activeTask carries the cooperative cancellation flag observed at each
// chunk boundary of the streaming loop.
type activeTask struct {
	cancelled atomic.Bool
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Client  HTTPClient
	Logger  *zerolog.Logger
	Retries int
	Backoff time.Duration
}

// New returns a Manager with defaults applied.
func New(opts Options) *Manager {
	m := &Manager{
		client:  opts.Client,
		log:     zerolog.Nop(),
		retries: opts.Retries,
		backoff: opts.Backoff,
		active:  make(map[string]*activeTask),
	}
	if m.client == nil {
		m.client = &http.Client{}
	}
	if opts.Logger != nil {
		m.log = *opts.Logger
	}
	if m.retries < 1 {
		m.retries = DefaultRetries
	}
	if m.backoff <= 0 {
		m.backoff = DefaultBackoff
	}
	return m
}

// Fetch downloads one file and returns its payload. Transport failures
// are retried up to the configured attempt count; a non-2xx response
// and a checksum mismatch are terminal. The task is tracked by name
// until Fetch returns, so Cancel(name) can interrupt the stream.
func (m *Manager) Fetch(ctx context.Context, task Task, opts ...FetchOption) ([]byte, error) {
	cfg := m.newFetchConfig(opts)
	at, err := m.track(task.Name)
	if err != nil {
		return nil, err
	}
	defer m.untrack(task.Name)
	return m.fetch(ctx, task, at, cfg)
}

func (m *Manager) fetch(ctx context.Context, task Task, at *activeTask, cfg fetchConfig) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.retries; attempt++ {
		if attempt > 1 {
			retriesTotal.Inc()
			m.log.Debug().Str("name", task.Name).Int("attempt", attempt).Msg("retrying transfer")
			select {
			case <-time.After(cfg.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if at.cancelled.Load() {
				return nil, fmt.Errorf("%s: %w", task.Name, ErrCancelled)
			}
		}
		data, err := m.attempt(ctx, task, at, cfg)
		if err == nil {
			if task.SHA256 != "" && !VerifyChecksum(data, task.SHA256) {
				checksumFailuresTotal.Inc()
				return nil, fmt.Errorf("%s: %w", task.Name, ErrChecksumMismatch)
			}
			return data, nil
		}
		if isTerminal(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s: %w after %d attempts: %w", task.Name, ErrRetriesExhausted, cfg.retries, lastErr)
}

// isTerminal reports whether err must not be retried: a definitive HTTP
// response, a cooperative cancellation, or a dead context.
func isTerminal(err error) bool {
	return IsStatusError(err) || IsCancelled(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// attempt performs a single streaming transfer.
func (m *Manager) attempt(ctx context.Context, task Task, at *activeTask, cfg fetchConfig) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", task.Name, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", task.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: task.URL, Code: resp.StatusCode}
	}

	expected := task.SizeBytes
	if resp.ContentLength > 0 {
		expected = resp.ContentLength
	}
	sizeKnown := expected > 0

	downloadsInflight.Inc()
	defer downloadsInflight.Dec()

	var data []byte
	if sizeKnown {
		data = make([]byte, 0, expected)
	}
	var received int64
	buf := make([]byte, 32*1024)
	for {
		if at.cancelled.Load() {
			return nil, fmt.Errorf("%s: %w", task.Name, ErrCancelled)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			received += int64(n)
			bytesReceivedTotal.Add(float64(n))
			m.notify(cfg, task.Name, received, expected, sizeKnown, false)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading %s: %w", task.Name, rerr)
		}
	}
	m.notify(cfg, task.Name, received, expected, sizeKnown, true)
	return data, nil
}

// notify publishes a per-task progress update. Two named policies:
// percentage reporting when the content length is known, byte counts
// only when it is not.
func (m *Manager) notify(cfg fetchConfig, name string, received, expected int64, sizeKnown, complete bool) {
	if len(cfg.observers) == 0 {
		return
	}
	p := Progress{Name: name, Received: received, Expected: expected, SizeKnown: sizeKnown}
	if sizeKnown {
		p.Percent = 100 * float64(received) / float64(expected)
		if p.Percent > 100 {
			p.Percent = 100
		}
		if complete && received >= expected {
			p.Percent = 100
		}
	}
	for _, fn := range cfg.observers {
		fn(p)
	}
}

// FetchAll downloads every task and returns payloads in input order.
// Files are initiated in array order; chunk arrivals may interleave up
// to the configured concurrency. If any file fails, the whole call
// fails and already-downloaded payloads are discarded. Observers passed
// in opts receive aggregate progress: monotonically non-decreasing and
// exactly 100 only once every task completes.
func (m *Manager) FetchAll(ctx context.Context, tasks []Task, opts ...FetchOption) ([][]byte, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	cfg := m.newFetchConfig(opts)
	agg := newAggregate(tasks, cfg.observers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(cfg.concurrency))
	results := make([][]byte, len(tasks))
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		errMu.Unlock()
	}

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// A worker already failed and cancelled the context.
			break
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer sem.Release(1)
			taskCfg := cfg
			taskCfg.observers = []Observer{func(p Progress) { agg.update(i, p) }}
			at, err := m.track(task.Name)
			if err != nil {
				fail(err)
				return
			}
			defer m.untrack(task.Name)
			data, err := m.fetch(ctx, task, at, taskCfg)
			if err != nil {
				fail(err)
				return
			}
			results[i] = data
		}(i, task)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	agg.finish()
	return results, nil
}

// Cancel removes the named download from tracking and flags its
// in-flight loop, which exits with ErrCancelled at the next chunk
// boundary. Returns false when no such download is active.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.active[name]
	if at == nil {
		return false
	}
	at.cancelled.Store(true)
	delete(m.active, name)
	m.log.Info().Str("name", name).Msg("download cancelled")
	return true
}

func (m *Manager) track(name string) (*activeTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[name]; busy {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyActive)
	}
	at := &activeTask{}
	m.active[name] = at
	return at, nil
}

func (m *Manager) untrack(name string) {
	m.mu.Lock()
	delete(m.active, name)
	m.mu.Unlock()
}

// aggregate folds per-task byte counts into one overall progress value.
type aggregate struct {
	mu       sync.Mutex
	perTask  []int64 // high-water mark of received bytes per task
	expected int64
	known    bool
	received int64
	lastPct  float64
	done     bool
	obs      []Observer
}

func newAggregate(tasks []Task, obs []Observer) *aggregate {
	a := &aggregate{perTask: make([]int64, len(tasks)), known: true, obs: obs}
	for _, t := range tasks {
		if t.SizeBytes <= 0 {
			// Any unknown size degrades the whole session to
			// byte-count-only reporting.
			a.known = false
		}
		a.expected += t.SizeBytes
	}
	return a
}

// update recomputes the overall value after a chunk of any file. A task
// restarting after a transport failure never moves the total backwards:
// only bytes beyond the task's high-water mark count.
func (a *aggregate) update(i int, p Progress) {
	a.mu.Lock()
	if p.Received > a.perTask[i] {
		a.received += p.Received - a.perTask[i]
		a.perTask[i] = p.Received
	}
	out := a.snapshotLocked()
	a.mu.Unlock()
	for _, fn := range a.obs {
		fn(out)
	}
}

// finish publishes the terminal update; only here may the percentage
// reach exactly 100.
func (a *aggregate) finish() {
	a.mu.Lock()
	a.done = true
	out := a.snapshotLocked()
	a.mu.Unlock()
	for _, fn := range a.obs {
		fn(out)
	}
}

func (a *aggregate) snapshotLocked() Progress {
	out := Progress{Received: a.received, Expected: a.expected, SizeKnown: a.known}
	if !a.known {
		return out
	}
	if a.done {
		a.lastPct = 100
		out.Percent = 100
		return out
	}
	pct := 100 * float64(a.received) / float64(a.expected)
	if pct >= 100 {
		pct = 99.9
	}
	if pct < a.lastPct {
		pct = a.lastPct
	}
	a.lastPct = pct
	out.Percent = pct
	return out
}
