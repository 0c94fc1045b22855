//go:build llama

package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	llama "github.com/go-skynet/go-llama.cpp"
)

// nativeBuilt indicates this binary was compiled with real llama support.
var nativeBuilt = true

// NativeConfig tunes the in-process llama.cpp engine.
type NativeConfig struct {
	CtxSize   int
	Threads   int
	GPULayers int
	MaxTokens int
	Stop      []string
}

// nativeEngine runs model graphs through the in-process llama.cpp
// bindings. The accelerated provider is available when the engine was
// configured to offload layers to the GPU.
type nativeEngine struct {
	cfg NativeConfig
}

// NewNativeEngine returns the llama.cpp-backed engine.
func NewNativeEngine(cfg NativeConfig) (Engine, error) {
	if cfg.CtxSize <= 0 {
		cfg.CtxSize = 2048
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &nativeEngine{cfg: cfg}, nil
}

func (e *nativeEngine) Name() string { return "llama.cpp" }

func (e *nativeEngine) Available(p Provider) bool {
	switch p {
	case ProviderCPU:
		return true
	case ProviderGPU:
		return e.cfg.GPULayers > 0
	}
	return false
}

func (e *nativeEngine) Load(ctx context.Context, src ModelSource, p Provider) (Graph, error) {
	path := src.Path()
	tmp := ""
	if path == "" {
		// llama.cpp maps the file; spill in-memory payloads to disk.
		f, err := os.CreateTemp("", "offlined-model-*.gguf")
		if err != nil {
			return nil, fmt.Errorf("spilling model payload: %w", err)
		}
		if _, err := f.Write(src.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("spilling model payload: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return nil, fmt.Errorf("spilling model payload: %w", err)
		}
		path = f.Name()
		tmp = path
	}

	mo := []llama.ModelOption{llama.SetContext(e.cfg.CtxSize)}
	if p == ProviderGPU {
		mo = append(mo, llama.SetGPULayers(e.cfg.GPULayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		if tmp != "" {
			os.Remove(tmp)
		}
		return nil, err
	}
	return &nativeGraph{model: m, cfg: e.cfg, tmp: tmp}, nil
}

// nativeGraph exposes llama.cpp generation behind the tensor contract:
// one string input, one string output. The pipeline detects the "text"
// output and takes the direct text path.
type nativeGraph struct {
	model *llama.LLama
	cfg   NativeConfig
	tmp   string
}

func (g *nativeGraph) InputNames() []string  { return []string{"prompt", "max_tokens"} }
func (g *nativeGraph) OutputNames() []string { return []string{"text"} }

func (g *nativeGraph) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if g.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	pt := inputs["prompt"]
	if pt == nil || pt.Dtype != DtypeString {
		return nil, errors.New("llama graph requires a string \"prompt\" input")
	}
	prompt := pt.Data.(string)
	maxTokens := g.cfg.MaxTokens
	if mt := inputs["max_tokens"]; mt != nil {
		if v, ok := mt.Data.([]int64); ok && len(v) == 1 && v[0] > 0 {
			maxTokens = int(v[0])
		}
	}

	// Respect cancellation at each emitted token.
	g.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	})
	po := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetThreads(g.cfg.Threads),
	}
	if len(g.cfg.Stop) > 0 {
		po = append(po, llama.SetStopWords(g.cfg.Stop...))
	}
	text, err := g.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	out, err := NewTensor(DtypeString, text, []int64{1})
	if err != nil {
		return nil, err
	}
	return map[string]*Tensor{"text": out}, nil
}

func (g *nativeGraph) Release() error {
	if g.model != nil {
		g.model.Free()
		g.model = nil
	}
	if g.tmp != "" {
		os.Remove(g.tmp)
		g.tmp = ""
	}
	return nil
}
