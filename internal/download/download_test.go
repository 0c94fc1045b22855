package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// scriptedClient fails the first failN calls with a transport error and
// serves payload afterwards.
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	failN   int
	payload []byte
	status  int
	noLen   bool
}

func (c *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	if n <= c.failN {
		return nil, errors.New("connection reset by peer")
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	length := int64(len(c.payload))
	if c.noLen {
		length = -1
	}
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(bytes.NewReader(c.payload)),
		ContentLength: length,
	}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestManager(client HTTPClient) *Manager {
	return New(Options{Client: client, Backoff: time.Millisecond})
}

func TestFetchSingleStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xAA, 0xBB, 0xCC})
	}))
	defer srv.Close()

	m := New(Options{})
	var last Progress
	data, err := m.Fetch(context.Background(), Task{URL: srv.URL, Name: "model.onnx"},
		WithObserver(func(p Progress) { last = p }))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("expected 3 bytes, got %d", len(data))
	}
	if !last.SizeKnown || last.Percent != 100 {
		t.Fatalf("final progress should report 100%%, got %+v", last)
	}
}

func TestFetchRetriesTransportFailures(t *testing.T) {
	// Two transport failures, then a 4-byte success.
	c := &scriptedClient{failN: 2, payload: []byte("1234")}
	m := newTestManager(c)
	data, err := m.Fetch(context.Background(), Task{URL: "http://assets/model", Name: "model"},
		WithRetries(3))
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(data))
	}
	if c.callCount() != 3 {
		t.Fatalf("expected exactly 3 transfer attempts, observed %d", c.callCount())
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	// Same failure pattern with one fewer allowed attempt.
	c := &scriptedClient{failN: 2, payload: []byte("1234")}
	m := newTestManager(c)
	_, err := m.Fetch(context.Background(), Task{URL: "http://assets/model", Name: "model"},
		WithRetries(2))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if c.callCount() != 2 {
		t.Fatalf("expected exactly 2 transfer attempts, observed %d", c.callCount())
	}
}

func TestFetchDoesNotRetryHTTPErrors(t *testing.T) {
	c := &scriptedClient{status: http.StatusNotFound}
	m := newTestManager(c)
	_, err := m.Fetch(context.Background(), Task{URL: "http://assets/missing", Name: "missing"},
		WithRetries(5))
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !IsStatusError(err) {
		t.Fatalf("expected a status error, got %v", err)
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code != http.StatusNotFound {
		t.Fatalf("expected code 404, got %d", se.Code)
	}
	if c.callCount() != 1 {
		t.Fatalf("HTTP errors are terminal; observed %d attempts", c.callCount())
	}
}

func TestFetchChecksumMismatch(t *testing.T) {
	payload := []byte("payload")
	c := &scriptedClient{payload: payload}
	m := newTestManager(c)
	wrong := Checksum([]byte("other"))
	_, err := m.Fetch(context.Background(), Task{URL: "http://assets/a", Name: "a", SHA256: wrong})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestFetchChecksumMatch(t *testing.T) {
	payload := []byte("payload")
	c := &scriptedClient{payload: payload}
	m := newTestManager(c)
	data, err := m.Fetch(context.Background(), Task{URL: "http://assets/a", Name: "a", SHA256: Checksum(payload)})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestFetchUnknownLengthDegradesToByteCounts(t *testing.T) {
	c := &scriptedClient{payload: []byte("abcdef"), noLen: true}
	m := newTestManager(c)
	var updates []Progress
	_, err := m.Fetch(context.Background(), Task{URL: "http://assets/a", Name: "a"},
		WithObserver(func(p Progress) { updates = append(updates, p) }))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}
	for _, p := range updates {
		if p.SizeKnown {
			t.Fatalf("size should be unknown, got %+v", p)
		}
	}
	if updates[len(updates)-1].Received != 6 {
		t.Fatalf("expected 6 bytes reported, got %d", updates[len(updates)-1].Received)
	}
}

// dripBody yields a single byte per read until closed.
type dripBody struct {
	closed chan struct{}
	once   sync.Once
}

func (b *dripBody) Read(p []byte) (int, error) {
	select {
	case <-b.closed:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = 'x'
	return 1, nil
}

func (b *dripBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type drippingClient struct{ body *dripBody }

func (c *drippingClient) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Body: c.body, ContentLength: -1}, nil
}

func TestCancelInterruptsStream(t *testing.T) {
	body := &dripBody{closed: make(chan struct{})}
	m := newTestManager(&drippingClient{body: body})

	started := make(chan struct{})
	var startOnce sync.Once
	done := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), Task{URL: "http://assets/slow", Name: "slow"},
			WithObserver(func(Progress) { startOnce.Do(func() { close(started) }) }))
		done <- err
	}()

	<-started
	if !m.Cancel("slow") {
		t.Fatal("expected an active download to cancel")
	}
	select {
	case err := <-done:
		if !IsCancelled(err) {
			t.Fatalf("expected cancellation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled download did not exit")
	}
	if m.Cancel("slow") {
		t.Fatal("cancelled download should no longer be tracked")
	}
}

func TestCancelUnknownName(t *testing.T) {
	m := newTestManager(&scriptedClient{})
	if m.Cancel("nope") {
		t.Fatal("cancelling an unknown name should report false")
	}
}

func TestFetchAllPreservesOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("first")) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("second-payload")) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Options{})
	tasks := []Task{
		{URL: srv.URL + "/a", Name: "a", SizeBytes: 5},
		{URL: srv.URL + "/b", Name: "b", SizeBytes: 14},
	}
	var updates []Progress
	results, err := m.FetchAll(context.Background(), tasks,
		WithConcurrency(1),
		WithObserver(func(p Progress) { updates = append(updates, p) }))
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if string(results[0]) != "first" || string(results[1]) != "second-payload" {
		t.Fatalf("results out of order: %q, %q", results[0], results[1])
	}

	if len(updates) == 0 {
		t.Fatal("expected aggregate updates")
	}
	last := -1.0
	for i, p := range updates {
		if p.Percent < last {
			t.Fatalf("aggregate percent decreased at update %d: %v -> %v", i, last, p.Percent)
		}
		last = p.Percent
		if p.Percent >= 100 && i != len(updates)-1 {
			t.Fatalf("percent hit 100 before completion at update %d", i)
		}
	}
	if updates[len(updates)-1].Percent != 100 {
		t.Fatalf("final aggregate percent should be exactly 100, got %v", updates[len(updates)-1].Percent)
	}
}

func TestFetchAllFailsWhole(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Options{})
	tasks := []Task{
		{URL: srv.URL + "/ok", Name: "ok", SizeBytes: 2},
		{URL: srv.URL + "/gone", Name: "gone", SizeBytes: 4},
	}
	results, err := m.FetchAll(context.Background(), tasks, WithConcurrency(1))
	if err == nil {
		t.Fatal("expected whole-session failure")
	}
	if results != nil {
		t.Fatal("no partial results on failure")
	}
}

func TestFetchAllRejectsDuplicateNames(t *testing.T) {
	m := New(Options{})
	_, err := m.FetchAll(context.Background(), []Task{
		{URL: "http://assets/a", Name: "same"},
		{URL: "http://assets/b", Name: "same"},
	})
	if err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestFetchRejectsDuplicateActiveName(t *testing.T) {
	body := &dripBody{closed: make(chan struct{})}
	m := newTestManager(&drippingClient{body: body})
	started := make(chan struct{})
	var startOnce sync.Once
	go func() {
		m.Fetch(context.Background(), Task{URL: "http://assets/slow", Name: "dup"},
			WithObserver(func(Progress) { startOnce.Do(func() { close(started) }) }))
	}()
	<-started
	defer m.Cancel("dup")
	_, err := m.Fetch(context.Background(), Task{URL: "http://assets/other", Name: "dup"})
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}
