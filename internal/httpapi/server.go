package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offlined/internal/pipeline"
	"offlined/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Tiers() []types.TierInfo
	StartFetch(tier string) error
	CancelDownload() bool
	Answer(ctx context.Context, req types.AnswerRequest) (types.AnswerResponse, error)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/package/tiers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tiers": svc.Tiers()})
	})

	r.Post("/package/download", func(w http.ResponseWriter, r *http.Request) {
		var req types.DownloadRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Tier) == "" {
			writeJSONError(w, http.StatusBadRequest, "tier is required")
			return
		}
		if err := svc.StartFetch(req.Tier); err != nil {
			switch {
			case pipeline.IsTierNotFound(err):
				writeJSONError(w, http.StatusNotFound, err.Error())
			case pipeline.IsBusy(err):
				IncrementBackpressure("download_active")
				writeJSONError(w, http.StatusTooManyRequests, err.Error())
			default:
				writeJSONError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		if zlog != nil {
			zlog.Info().Str("tier", req.Tier).Msg("package download accepted")
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"state": pipeline.StateDownloading, "tier": req.Tier})
	})

	r.Post("/package/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancelled := svc.CancelDownload()
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
	})

	r.Post("/answer", func(w http.ResponseWriter, r *http.Request) {
		var req types.AnswerRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "prompt or messages is required")
			return
		}

		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("path", r.URL.Path)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("answer start")
		}

		// Join server base context with request context so shutdown cancels work too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if answerTimeout > 0 {
			var tcancel context.CancelFunc
			joinedCtx, tcancel = context.WithTimeout(joinedCtx, time.Duration(answerTimeout)*time.Second)
			defer tcancel()
		}

		resp, err := svc.Answer(joinedCtx, req)
		if err != nil {
			// If context was canceled (client disconnect), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := answerErrorStatus(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("answer_busy")
			}
			writeJSONError(w, status, err.Error())
			logAnswerEnd(r, lvl, status, start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logAnswerEnd(r, lvl, http.StatusOK, start, nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// answerErrorStatus maps well-known pipeline errors to HTTP status codes.
func answerErrorStatus(err error) int {
	switch {
	case pipeline.IsInvalidRequest(err):
		return http.StatusBadRequest
	case pipeline.IsNotReady(err):
		return http.StatusConflict
	case pipeline.IsBusy(err):
		return http.StatusTooManyRequests
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func logAnswerEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if lvl < LevelInfo || zlog == nil {
		return
	}
	z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg("answer end")
}

// decodeJSONBody enforces the JSON content type and body size limit,
// then decodes into dst. It writes the error response itself and
// reports whether decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// An oversized body surfaces here too; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("encoding response")
	}
}
