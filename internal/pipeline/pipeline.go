// Package pipeline wires the download manager, tokenizer and inference
// session into the package lifecycle: fetch a tier, verify it, load it,
// answer prompts against it.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"offlined/internal/download"
	"offlined/internal/registry"
	"offlined/internal/session"
	"offlined/internal/tokenizer"
	"offlined/pkg/types"
)

// Download lifecycle states reported by Status.
const (
	StateNone        = "none"
	StateDownloading = "downloading"
	StateVerifying   = "verifying"
	StateLoading     = "loading"
	StateReady       = "ready"
	StateFailed      = "failed"
	StateCancelled   = "cancelled"
)

// Asset roles resolved from manifest file names with the extension
// stripped: "model.onnx" and "model.gguf" both fill the model role.
const (
	roleModel = "model"
	roleVocab = "vocab"
)

// DefaultMaxTokens bounds generation when the request does not set a limit.
const DefaultMaxTokens = 256

// Config carries the pipeline's dependencies. Registry and Engine are
// required; the rest default sensibly.
type Config struct {
	Registry    *registry.Registry
	Downloader  *download.Manager
	Engine      session.Engine
	Logger      *zerolog.Logger
	Events      EventPublisher
	MaxTokens   int
	Concurrency int
}

// Pipeline owns the offline package lifecycle. All exported methods are
// safe for concurrent use.
type Pipeline struct {
	reg         *registry.Registry
	dl          *download.Manager
	sess        *session.Session
	log         zerolog.Logger
	events      EventPublisher
	maxTokens   int
	concurrency int
	progress    *download.Broadcaster
	started     time.Time

	mu        sync.Mutex
	tok       *tokenizer.Tokenizer
	state     string
	tier      string
	taskNames []string
	received  int64
	expected  int64
	pct       float64
	lastErr   string
	installed bool
	fetching  bool
	cancel    context.CancelFunc
}

// New builds a Pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}
	sess, err := session.New(cfg.Engine, cfg.Logger)
	if err != nil {
		return nil, err
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	dl := cfg.Downloader
	if dl == nil {
		dl = download.New(download.Options{Logger: cfg.Logger})
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	events := cfg.Events
	if events == nil {
		events = noopPublisher{}
	}
	return &Pipeline{
		reg:         cfg.Registry,
		dl:          dl,
		sess:        sess,
		log:         log,
		events:      events,
		maxTokens:   maxTokens,
		concurrency: cfg.Concurrency,
		progress:    download.NewBroadcaster(),
		started:     time.Now(),
		state:       StateNone,
	}, nil
}

// SubscribeProgress registers an observer for per-file download progress.
func (p *Pipeline) SubscribeProgress(obs download.Observer) {
	p.progress.Subscribe(obs)
}

// Ready reports whether a package is fully loaded and prompts can be answered.
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	tok := p.tok
	p.mu.Unlock()
	return tok != nil && tok.Loaded() && p.sess.Ready()
}

// Tiers lists the manifest tiers in file order.
func (p *Pipeline) Tiers() []types.TierInfo { return p.reg.Tiers() }

// StartFetch launches FetchPackage in the background. It fails fast with
// a busy error while another download is running.
func (p *Pipeline) StartFetch(tier string) error {
	if _, err := p.reg.Tier(tier); err != nil {
		return ErrTierNotFound(tier)
	}
	p.mu.Lock()
	if p.fetching {
		running := p.tier
		p.mu.Unlock()
		return busyError{tier: running}
	}
	p.fetching = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	go func() {
		defer cancel()
		if err := p.fetch(ctx, tier); err != nil {
			p.log.Error().Err(err).Str("tier", tier).Msg("package fetch failed")
		}
	}()
	return nil
}

// FetchPackage downloads, verifies and loads the named tier, blocking
// until the package is ready or the fetch fails.
func (p *Pipeline) FetchPackage(ctx context.Context, tier string) error {
	if _, err := p.reg.Tier(tier); err != nil {
		return ErrTierNotFound(tier)
	}
	p.mu.Lock()
	if p.fetching {
		running := p.tier
		p.mu.Unlock()
		return busyError{tier: running}
	}
	p.fetching = true
	p.mu.Unlock()
	return p.fetch(ctx, tier)
}

// CancelDownload aborts the in-flight package download, if any. It
// reports whether a download was running.
func (p *Pipeline) CancelDownload() bool {
	p.mu.Lock()
	fetching := p.fetching
	names := append([]string(nil), p.taskNames...)
	cancel := p.cancel
	p.mu.Unlock()
	if !fetching {
		return false
	}
	for _, n := range names {
		p.dl.Cancel(n)
	}
	if cancel != nil {
		cancel()
	}
	return true
}

// fetch runs the full lifecycle for one tier. The caller must have set
// p.fetching; fetch clears it on every exit path.
func (p *Pipeline) fetch(ctx context.Context, tier string) (err error) {
	defer func() {
		p.mu.Lock()
		p.fetching = false
		p.cancel = nil
		p.taskNames = nil
		if err != nil {
			p.lastErr = err.Error()
			if download.IsCancelled(err) || ctx.Err() != nil {
				p.state = StateCancelled
			} else {
				p.state = StateFailed
			}
		}
		state := p.state
		p.mu.Unlock()
		if err != nil {
			p.events.Publish(Event{State: state, Tier: tier, Fields: map[string]any{"error": err.Error()}})
		}
	}()

	manifest, err := p.reg.Tier(tier)
	if err != nil {
		return ErrTierNotFound(tier)
	}
	tasks := make([]download.Task, len(manifest.Files))
	names := make([]string, len(manifest.Files))
	for i, f := range manifest.Files {
		tasks[i] = download.Task{URL: f.URL, Name: f.Name, SizeBytes: f.SizeBytes, SHA256: f.SHA256}
		names[i] = f.Name
	}

	p.mu.Lock()
	p.state = StateDownloading
	p.tier = tier
	p.taskNames = names
	p.received = 0
	p.expected = manifest.TotalBytes()
	p.pct = 0
	p.lastErr = ""
	p.mu.Unlock()
	p.events.Publish(Event{State: StateDownloading, Tier: tier})

	p.log.Info().Str("tier", tier).Int("files", len(tasks)).
		Int64("bytes", manifest.TotalBytes()).Msg("fetching package")

	opts := []download.FetchOption{download.WithObserver(p.observe), download.WithBroadcaster(p.progress)}
	if p.concurrency > 0 {
		opts = append(opts, download.WithConcurrency(p.concurrency))
	}
	payloads, err := p.dl.FetchAll(ctx, tasks, opts...)
	if err != nil {
		return err
	}

	p.setState(StateVerifying)
	p.events.Publish(Event{State: StateVerifying, Tier: tier})
	byRole := make(map[string][]byte, len(payloads))
	for i, f := range manifest.Files {
		if f.SHA256 != "" && !download.VerifyChecksum(payloads[i], f.SHA256) {
			return fmt.Errorf("%s: %w", f.Name, download.ErrChecksumMismatch)
		}
		role := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		byRole[role] = payloads[i]
	}
	model, ok := byRole[roleModel]
	if !ok {
		return fmt.Errorf("pipeline: tier %q has no model artifact", tier)
	}
	vocab, ok := byRole[roleVocab]
	if !ok {
		return fmt.Errorf("pipeline: tier %q has no vocab artifact", tier)
	}

	p.setState(StateLoading)
	p.events.Publish(Event{State: StateLoading, Tier: tier})
	tok := tokenizer.New()
	if err := tok.Load(vocab); err != nil {
		return err
	}
	if p.sess.Ready() {
		p.sess.Release()
	}
	if err := p.sess.LoadModel(ctx, session.FromBytes(model)); err != nil {
		return err
	}

	p.mu.Lock()
	p.tok = tok
	p.state = StateReady
	p.pct = 100
	p.installed = true
	p.mu.Unlock()
	p.events.Publish(Event{State: StateReady, Tier: tier, Fields: map[string]any{"vocab_size": tok.VocabSize()}})
	p.log.Info().Str("tier", tier).Int("vocab_size", tok.VocabSize()).Msg("package ready")
	return nil
}

// observe folds per-task progress into the aggregate counters. The
// downloader guarantees monotone aggregate numbers and reports 100 only
// once every task has completed.
func (p *Pipeline) observe(pr download.Progress) {
	p.mu.Lock()
	p.received = pr.Received
	if pr.SizeKnown {
		p.expected = pr.Expected
	}
	p.pct = pr.Percent
	p.mu.Unlock()
}

func (p *Pipeline) setState(s string) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Status snapshots the pipeline for the status endpoint.
func (p *Pipeline) Status() types.StatusResponse {
	p.mu.Lock()
	dl := types.DownloadStatus{
		State:         p.state,
		Tier:          p.tier,
		BytesReceived: p.received,
		BytesExpected: p.expected,
		Percent:       p.pct,
		Error:         p.lastErr,
	}
	tok := p.tok
	installed := p.installed
	p.mu.Unlock()

	vocabSize := 0
	if tok != nil {
		vocabSize = tok.VocabSize()
	}
	return types.StatusResponse{
		Download:       dl,
		Model:          p.sess.Info(),
		VocabSize:      vocabSize,
		Ready:          p.Ready(),
		Installed:      installed,
		UptimeSeconds:  int64(time.Since(p.started).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}

// Release drops the loaded package and resets the lifecycle state. The
// installed flag survives: the package completed once in this process.
func (p *Pipeline) Release() {
	p.sess.Release()
	p.mu.Lock()
	tier := p.tier
	p.tok = nil
	p.state = StateNone
	p.tier = ""
	p.received = 0
	p.expected = 0
	p.pct = 0
	p.lastErr = ""
	p.mu.Unlock()
	p.events.Publish(Event{State: StateNone, Tier: tier})
}
