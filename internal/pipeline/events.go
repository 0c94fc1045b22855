package pipeline

import "sync"

// Event represents a package lifecycle transition.
// Minimal and stable: state name + tier and optional fields via key/values.
type Event struct {
	State  string
	Tier   string
	Fields map[string]any
}

// EventPublisher receives lifecycle events from the pipeline.
// Implementations should be lightweight and non-blocking; Publish must
// not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
