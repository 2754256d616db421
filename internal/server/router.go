package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fetchcache/fetchcache/internal/cache"
)

// Engine is the surface the admin router needs from the cache facade.
type Engine interface {
	BeginScope(path string) *cache.Scope
	FetchCached(ctx context.Context, scope *cache.Scope, desc cache.Descriptor, pol cache.Policy) ([]byte, error)
	InvalidateTag(ctx context.Context, tag string) error
	InvalidatePath(ctx context.Context, path string) error
	Stats(ctx context.Context) (cache.Stats, error)
}

// fetchRequest is the wire form of one proxied fetch: the request descriptor
// plus the caching policy to apply.
type fetchRequest struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// Path binds the fetch to a render path so the resulting entry carries
	// the path label for later InvalidatePath calls.
	Path   string      `json:"path,omitempty"`
	Policy fetchPolicy `json:"policy"`
}

type fetchPolicy struct {
	Mode       string   `json:"mode"`
	TTLSeconds int      `json:"ttlSeconds,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Blocking   bool     `json:"blocking,omitempty"`
}

type invalidateRequest struct {
	Tag  string `json:"tag,omitempty"`
	Path string `json:"path,omitempty"`
}

// NewHandler exposes the engine's administrative and fetch surface over HTTP.
func NewHandler(engine Engine, logger *slog.Logger) http.Handler {
	if engine == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		})
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /fetch", func(w http.ResponseWriter, r *http.Request) {
		handleFetch(engine, logger, w, r)
	})
	mux.HandleFunc("POST /invalidate/tag", func(w http.ResponseWriter, r *http.Request) {
		var req invalidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Tag) == "" {
			writeError(w, http.StatusBadRequest, "tag required")
			return
		}
		if err := engine.InvalidateTag(r.Context(), req.Tag); err != nil {
			logger.Error("tag invalidation failed", slog.String("tag", req.Tag), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "invalidation failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "tag": req.Tag})
	})
	mux.HandleFunc("POST /invalidate/path", func(w http.ResponseWriter, r *http.Request) {
		var req invalidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
			writeError(w, http.StatusBadRequest, "path required")
			return
		}
		if err := engine.InvalidatePath(r.Context(), req.Path); err != nil {
			logger.Error("path invalidation failed", slog.String("path", req.Path), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "invalidation failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "path": req.Path})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := engine.Stats(r.Context())
		if err != nil {
			logger.Error("stats collection failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "stats unavailable")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func handleFetch(engine Engine, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed fetch request")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	pol := cache.Policy{
		Mode:     cache.Mode(req.Policy.Mode),
		TTL:      time.Duration(req.Policy.TTLSeconds) * time.Second,
		Tags:     req.Policy.Tags,
		Blocking: req.Policy.Blocking,
	}
	desc := cache.Descriptor{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Body:    req.Body,
	}

	var scope *cache.Scope
	if req.Path != "" {
		scope = engine.BeginScope(req.Path)
		defer scope.End()
	}

	value, err := engine.FetchCached(r.Context(), scope, desc, pol)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidPolicy) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Warn("fetch failed", slog.String("url", req.URL), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "fetch failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
