package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"offlined/internal/config"
	"offlined/internal/download"
	"offlined/internal/httpapi"
	"offlined/internal/pipeline"
	"offlined/internal/registry"
	"offlined/internal/session"
)

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envStr("OFFLINED_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	cfgPath := flag.String("config", os.Getenv("OFFLINED_CONFIG"), "Optional config file (yaml/json/toml)")
	manifestPath := flag.String("manifest", envStr("OFFLINED_MANIFEST", "packages.yaml"), "Package manifest file listing tiers and assets")
	defaultTier := flag.String("default-tier", os.Getenv("OFFLINED_DEFAULT_TIER"), "Tier to fetch at startup (empty disables)")
	logLevel := flag.String("log-level", envStr("OFFLINED_LOG_LEVEL", "info"), "Log level: trace|debug|info|warn|error")
	retries := flag.Int("retries", 0, "Download attempts per file (0=default)")
	concurrency := flag.Int("concurrency", 0, "Concurrent file downloads (0=default)")
	maxTokens := flag.Int("max-tokens", 0, "Default generation token budget (0=default)")
	gpuLayers := flag.Int("gpu-layers", 0, "Model layers to offload to the GPU")
	maxBody := flag.Int64("max-body-bytes", 0, "Maximum JSON request body size (0=default 1MiB)")
	corsOrigins := flag.String("cors-origins", os.Getenv("OFFLINED_CORS_ORIGINS"), "Comma-separated allowed CORS origins (empty disables CORS)")
	answerTimeout := flag.Int64("answer-timeout-sec", 0, "Max /answer duration in seconds (0=unlimited)")
	flag.Parse()

	logger := newLogger(*logLevel)

	var cfg config.Config
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *cfgPath).Msg("loading config")
		}
		cfg = loaded
	}
	// Explicit flags override file values.
	if cfg.Addr == "" || flagSet("addr") {
		cfg.Addr = *addr
	}
	if cfg.ManifestPath == "" || flagSet("manifest") {
		cfg.ManifestPath = *manifestPath
	}
	if *defaultTier != "" {
		cfg.DefaultTier = *defaultTier
	}
	if *retries > 0 {
		cfg.Retries = *retries
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *maxTokens > 0 {
		cfg.MaxTokens = *maxTokens
	}
	if *gpuLayers > 0 {
		cfg.GPULayers = *gpuLayers
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}

	reg, err := registry.Load(cfg.ManifestPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ManifestPath).Msg("loading package manifest")
	}

	engine, err := session.NewNativeEngine(session.NativeConfig{
		CtxSize:   cfg.CtxSize,
		Threads:   cfg.Threads,
		GPULayers: cfg.GPULayers,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing inference engine")
	}

	dl := download.New(download.Options{
		Logger:  &logger,
		Retries: cfg.Retries,
		Backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
	})
	pipe, err := pipeline.New(pipeline.Config{
		Registry:    reg,
		Downloader:  dl,
		Engine:      engine,
		Logger:      &logger,
		MaxTokens:   cfg.MaxTokens,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing pipeline")
	}
	pipe.SubscribeProgress(func(p download.Progress) {
		logger.Debug().Str("name", p.Name).Int64("received", p.Received).
			Int64("expected", p.Expected).Float64("pct", p.Percent).Msg("download progress")
	})

	if cfg.DefaultTier != "" {
		if err := pipe.StartFetch(cfg.DefaultTier); err != nil {
			logger.Error().Err(err).Str("tier", cfg.DefaultTier).Msg("starting default package fetch")
		}
	}

	// HTTP layer wiring
	httpapi.SetLogger(logger)
	httpapi.SetMaxBodyBytes(*maxBody)
	httpapi.SetAnswerTimeoutSeconds(*answerTimeout)
	if origins := splitCSV(*corsOrigins); len(origins) > 0 {
		httpapi.SetCORSOptions(true, origins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	baseCtx, stopBase := context.WithCancel(context.Background())
	defer stopBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(pipe)}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("manifest", cfg.ManifestPath).Msg("offlined listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopBase()
	pipe.CancelDownload()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	pipe.Release()
}

// flagSet reports whether the named flag was passed explicitly.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
