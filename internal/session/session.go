package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"offlined/pkg/types"
)

// Stats carries inference telemetry. Mutated only by the Session;
// callers receive copies.
type Stats struct {
	LoadMillis int64
	LastMillis int64
	AvgMillis  float64
	Calls      uint64
}

// Session owns one loaded model graph and drives its forward passes.
// The graph handle is owned exclusively by this instance and must not
// be shared without an explicit Release/reload cycle.
type Session struct {
	engine Engine
	log    zerolog.Logger

	mu       sync.Mutex
	graph    Graph
	provider Provider
	inputs   []string
	outputs  []string
	stats    Stats
}

// New returns an unloaded session backed by the injected engine.
// It fails immediately when no engine has been provided.
func New(engine Engine, logger *zerolog.Logger) (*Session, error) {
	if engine == nil {
		return nil, ErrEngineMissing
	}
	s := &Session{engine: engine, log: zerolog.Nop()}
	if logger != nil {
		s.log = *logger
	}
	return s, nil
}

// BestProvider probes for the accelerated backend and falls back to
// the portable one. The choice is made once per load and not
// re-evaluated mid-session.
func (s *Session) BestProvider() Provider {
	if s.engine.Available(ProviderGPU) {
		return ProviderGPU
	}
	return ProviderCPU
}

// Ready reports whether the session holds a live graph handle.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph != nil
}

// LoadModel loads a model graph from src into the best available
// provider and records load latency and declared tensor names.
func (s *Session) LoadModel(ctx context.Context, src ModelSource) error {
	if src.empty() {
		return fmt.Errorf("session: unsupported model source: neither payload nor path given")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph != nil {
		return ErrAlreadyLoaded
	}

	provider := ProviderCPU
	if s.engine.Available(ProviderGPU) {
		provider = ProviderGPU
	}

	start := time.Now()
	graph, err := s.engine.Load(ctx, src, provider)
	if err != nil {
		return fmt.Errorf("session: loading model on %s: %w", provider, err)
	}
	s.graph = graph
	s.provider = provider
	s.inputs = append([]string(nil), graph.InputNames()...)
	s.outputs = append([]string(nil), graph.OutputNames()...)
	s.stats = Stats{LoadMillis: time.Since(start).Milliseconds()}

	modelLoadsTotal.WithLabelValues(string(provider)).Inc()
	s.log.Info().
		Str("engine", s.engine.Name()).
		Str("provider", string(provider)).
		Int64("load_ms", s.stats.LoadMillis).
		Strs("inputs", s.inputs).
		Strs("outputs", s.outputs).
		Msg("model loaded")
	return nil
}

// RunInference executes one forward pass and returns the backend's raw
// output tensors keyed by output name.
func (s *Session) RunInference(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	s.mu.Lock()
	graph := s.graph
	s.mu.Unlock()
	if graph == nil {
		return nil, ErrNotLoaded
	}

	start := time.Now()
	outputs, err := graph.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("session: forward pass: %w", err)
	}
	elapsed := time.Since(start)
	inferenceSeconds.Observe(elapsed.Seconds())

	s.mu.Lock()
	last := elapsed.Milliseconds()
	s.stats.AvgMillis = (s.stats.AvgMillis*float64(s.stats.Calls) + float64(last)) / float64(s.stats.Calls+1)
	s.stats.LastMillis = last
	s.stats.Calls++
	s.mu.Unlock()
	return outputs, nil
}

// CreateTensor packages data for RunInference. It exists on the
// session so the missing-engine precondition fails fast here rather
// than inside a forward pass.
func (s *Session) CreateTensor(dtype Dtype, data any, dims []int64) (*Tensor, error) {
	if s == nil || s.engine == nil {
		return nil, ErrEngineMissing
	}
	return NewTensor(dtype, data, dims)
}

// Info returns a snapshot of the loaded model, by value so callers
// cannot mutate internal counters. Nil when unloaded.
func (s *Session) Info() *types.ModelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph == nil {
		return nil
	}
	return &types.ModelInfo{
		Inputs:     append([]string(nil), s.inputs...),
		Outputs:    append([]string(nil), s.outputs...),
		Provider:   string(s.provider),
		LoadMillis: s.stats.LoadMillis,
		LastMillis: s.stats.LastMillis,
		AvgMillis:  s.stats.AvgMillis,
		Calls:      s.stats.Calls,
	}
}

// Stats returns a copy of the current telemetry counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// OutputNames returns the graph's declared output tensor names, nil
// when unloaded.
func (s *Session) OutputNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.outputs...)
}

// Release tears the session down: the backend handle is released if
// one exists, then all loaded state resets to initial values. Safe to
// call repeatedly and on a never-loaded instance.
func (s *Session) Release() {
	s.mu.Lock()
	graph := s.graph
	s.graph = nil
	s.provider = ""
	s.inputs = nil
	s.outputs = nil
	s.stats = Stats{}
	s.mu.Unlock()
	if graph == nil {
		return
	}
	if err := graph.Release(); err != nil {
		s.log.Warn().Err(err).Msg("graph release failed")
	}
}
