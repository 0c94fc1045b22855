package download

import "sync"

// Progress is a point-in-time view of one transfer (or, for aggregate
// reporting, of a whole multi-file session).
type Progress struct {
	// Name of the download task; empty for aggregate updates.
	Name string
	// Received is the number of bytes read so far.
	Received int64
	// Expected is the total expected bytes; 0 when unknown.
	Expected int64
	// Percent is 0-100. Only meaningful when SizeKnown is true.
	Percent float64
	// SizeKnown selects the reporting policy: percentage when the
	// content length is known, byte counts only when it is not.
	SizeKnown bool
}

// Observer receives progress updates. Observers must be fast and must
// not panic; they are invoked synchronously at chunk boundaries.
type Observer func(Progress)

// Broadcaster fans progress updates out to any number of subscribers,
// so a UI and a logger can observe the same transfer independently.
type Broadcaster struct {
	mu  sync.RWMutex
	obs []Observer
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster { return &Broadcaster{} }

// Subscribe registers fn for all subsequent updates.
func (b *Broadcaster) Subscribe(fn Observer) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.obs = append(b.obs, fn)
	b.mu.Unlock()
}

func (b *Broadcaster) publish(p Progress) {
	b.mu.RLock()
	obs := b.obs
	b.mu.RUnlock()
	for _, fn := range obs {
		fn(p)
	}
}
