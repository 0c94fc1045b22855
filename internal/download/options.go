package download

import (
	"net/http"
	"time"
)

// Defaults for transfer behavior.
const (
	// DefaultRetries is the default total number of transfer attempts
	// per file. Retries target transport failures only; a definitive
	// HTTP error response is never retried.
	DefaultRetries = 3

	// DefaultBackoff is the delay between transfer attempts.
	DefaultBackoff = 500 * time.Millisecond

	// DefaultConcurrency is the default number of files fetched in
	// parallel by FetchAll.
	DefaultConcurrency = 3

	// MaxConcurrency caps FetchAll parallelism.
	MaxConcurrency = 8
)

// HTTPClient abstracts the transport so tests can inject failures
// without a network.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchOption configures a single Fetch or FetchAll call.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	retries     int
	backoff     time.Duration
	concurrency int
	observers   []Observer
}

func (m *Manager) newFetchConfig(opts []FetchOption) fetchConfig {
	cfg := fetchConfig{
		retries:     m.retries,
		backoff:     m.backoff,
		concurrency: DefaultConcurrency,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithRetries sets the total number of transfer attempts (minimum 1).
func WithRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		if n < 1 {
			n = 1
		}
		c.retries = n
	}
}

// WithBackoff sets the delay between transfer attempts.
func WithBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		if d < 0 {
			d = 0
		}
		c.backoff = d
	}
}

// WithConcurrency bounds FetchAll parallelism, clamped to
// [1, MaxConcurrency]. Ignored by Fetch.
func WithConcurrency(n int) FetchOption {
	return func(c *fetchConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		c.concurrency = n
	}
}

// WithObserver registers a progress observer for this call. May be
// given multiple times; all observers see every update.
func WithObserver(fn Observer) FetchOption {
	return func(c *fetchConfig) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// WithBroadcaster subscribes every update to an externally shared
// broadcaster (e.g. one the UI and a logger both listen on).
func WithBroadcaster(b *Broadcaster) FetchOption {
	return func(c *fetchConfig) {
		if b != nil {
			c.observers = append(c.observers, b.publish)
		}
	}
}
