//go:build !llama

package session

import (
	"context"
	"errors"
)

// This stub replaces the native llama.cpp engine when the 'llama'
// build tag is not set. The daemon still starts and serves download
// endpoints; loading a model reports the missing capability.

// nativeBuilt indicates this binary was compiled with real llama support.
var nativeBuilt = false

// NativeConfig tunes the in-process llama.cpp engine.
type NativeConfig struct {
	CtxSize   int
	Threads   int
	GPULayers int
	MaxTokens int
	Stop      []string
}

var errNativeUnavailable = errors.New("session: built without llama support (rebuild with -tags=llama)")

// NewNativeEngine returns an engine whose Load always fails with a
// rebuild hint.
func NewNativeEngine(cfg NativeConfig) (Engine, error) {
	return stubEngine{}, nil
}

type stubEngine struct{}

func (stubEngine) Name() string { return "llama-stub" }

func (stubEngine) Available(p Provider) bool { return p == ProviderCPU }

func (stubEngine) Load(_ context.Context, _ ModelSource, _ Provider) (Graph, error) {
	return nil, errNativeUnavailable
}
