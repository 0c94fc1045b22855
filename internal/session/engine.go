// Package session loads a precompiled neural-network graph into an
// execution backend, runs forward passes and exposes basic telemetry.
package session

import (
	"context"
	"errors"
	"fmt"
)

// Provider names a concrete execution backend.
type Provider string

const (
	// ProviderGPU is the accelerated backend, used when available.
	ProviderGPU Provider = "gpu"
	// ProviderCPU is the portable backend that runs everywhere.
	ProviderCPU Provider = "cpu"
)

// Dtype identifies a tensor element type.
type Dtype string

const (
	DtypeFloat32 Dtype = "float32"
	DtypeInt64   Dtype = "int64"
	DtypeString  Dtype = "string"
)

// Tensor is a typed, shaped value an engine can consume or produce.
type Tensor struct {
	Dtype Dtype
	Data  any
	Dims  []int64
}

// Engine abstracts the inference runtime so the session manager never
// duck-types against a concrete backend; a test double implements the
// same interface without any native dependency.
type Engine interface {
	// Name identifies the engine implementation.
	Name() string
	// Available probes whether the given provider can execute graphs
	// on this host.
	Available(p Provider) bool
	// Load compiles/loads a model graph for the chosen provider.
	Load(ctx context.Context, src ModelSource, p Provider) (Graph, error)
}

// Graph is a loaded computation graph. It may hold native resources
// and must be released explicitly.
type Graph interface {
	InputNames() []string
	OutputNames() []string
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Release() error
}

// ModelSource is either an in-memory binary payload or a local path.
type ModelSource struct {
	bytes []byte
	path  string
}

// FromBytes wraps an in-memory model payload.
func FromBytes(b []byte) ModelSource { return ModelSource{bytes: b} }

// FromPath references a model file on disk.
func FromPath(p string) ModelSource { return ModelSource{path: p} }

// Bytes returns the in-memory payload, nil for path sources.
func (s ModelSource) Bytes() []byte { return s.bytes }

// Path returns the on-disk location, empty for byte sources.
func (s ModelSource) Path() string { return s.path }

func (s ModelSource) empty() bool { return len(s.bytes) == 0 && s.path == "" }

// Errors surfaced by the session manager. State errors are programmer
// contract violations: they identify the missing precondition and are
// not recoverable at runtime.
var (
	// ErrEngineMissing indicates no execution engine was injected.
	ErrEngineMissing = errors.New("session: inference engine not initialized")

	// ErrNotLoaded indicates an operation requiring a loaded model.
	ErrNotLoaded = errors.New("session: model not loaded")

	// ErrAlreadyLoaded indicates LoadModel on a loaded session;
	// release first.
	ErrAlreadyLoaded = errors.New("session: model already loaded, release first")
)

// IsNotLoaded reports whether err indicates a missing loaded model.
func IsNotLoaded(err error) bool { return errors.Is(err, ErrNotLoaded) }

// NewTensor validates and constructs a Tensor. It fails with a
// descriptive error when dtype and data disagree or the declared shape
// does not hold the data.
func NewTensor(dtype Dtype, data any, dims []int64) (*Tensor, error) {
	var n int
	switch dtype {
	case DtypeFloat32:
		v, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("session: %s tensor requires []float32 data, got %T", dtype, data)
		}
		n = len(v)
	case DtypeInt64:
		v, ok := data.([]int64)
		if !ok {
			return nil, fmt.Errorf("session: %s tensor requires []int64 data, got %T", dtype, data)
		}
		n = len(v)
	case DtypeString:
		if _, ok := data.(string); !ok {
			return nil, fmt.Errorf("session: %s tensor requires string data, got %T", dtype, data)
		}
		n = 1
		if len(dims) == 0 {
			dims = []int64{1}
		}
	default:
		return nil, fmt.Errorf("session: unsupported tensor dtype %q", dtype)
	}
	count := int64(1)
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("session: invalid dimension %d", d)
		}
		count *= d
	}
	if count != int64(n) {
		return nil, fmt.Errorf("session: shape %v holds %d elements, data has %d", dims, count, n)
	}
	return &Tensor{Dtype: dtype, Data: data, Dims: dims}, nil
}
