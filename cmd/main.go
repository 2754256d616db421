package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fetchcache/fetchcache/internal/cache"
	"github.com/fetchcache/fetchcache/internal/config"
	"github.com/fetchcache/fetchcache/internal/logging"
	"github.com/fetchcache/fetchcache/internal/metrics"
	"github.com/fetchcache/fetchcache/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "FETCHCACHE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	store, err := buildStore(logger, cfg.Server.Cache)
	if err != nil {
		logger.Error("unable to construct cache store", slog.Any("error", err))
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	fetcher := newUpstreamFetcher(cfg.Server.Upstream.Timeout())

	engine, err := cache.New(cache.Options{
		Store:             store,
		Fetch:             fetcher,
		MaxTTL:            cfg.Server.Cache.MaxTTL(),
		ExcludeHeaders:    cfg.Server.Cache.ExcludeHeaders,
		Logger:            logger,
		Metrics:           metricsRecorder,
		BackgroundTimeout: cfg.Server.Cache.BackgroundTimeout(),
		OnRegenerationFailure: func(key cache.Key, err error) {
			logger.Warn("regeneration failure swallowed",
				slog.String("key", string(key)),
				slog.Any("error", err))
		},
	})
	if err != nil {
		logger.Error("unable to construct cache engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := engine.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	var watcher *config.Watcher
	if *configFile != "" {
		watcher, err = loader.Watch(ctx, func(next config.Config) {
			engine.SetMaxTTL(next.Server.Cache.MaxTTL())
			logger.Info("configuration reloaded",
				slog.Int("max_ttl_seconds", next.Server.Cache.MaxTTLSeconds))
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", server.NewHandler(engine, logger))

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildStore selects the persistent backend from configuration, falling back
// to memory when nothing is configured.
func buildStore(logger *slog.Logger, cfg config.CacheConfig) (cache.Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory cache store", slog.Int("max_entries", cfg.MaxEntries))
		return cache.NewMemory(cfg.MaxEntries), nil
	case "redis":
		logger.Info("using redis cache store", slog.String("address", cfg.Redis.Address))
		return cache.NewRedis(cache.RedisConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Retention: cfg.Redis.Retention(),
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// newUpstreamFetcher adapts a plain HTTP client into the engine's FetchFunc.
func newUpstreamFetcher(timeout time.Duration) cache.FetchFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, desc cache.Descriptor) ([]byte, error) {
		method := desc.Method
		if method == "" {
			method = http.MethodGet
		}
		var body io.Reader
		if desc.Body != "" {
			body = strings.NewReader(desc.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, desc.URL, body)
		if err != nil {
			return nil, fmt.Errorf("fetch: build request: %w", err)
		}
		for name, value := range desc.Headers {
			req.Header.Set(name, value)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("fetch: upstream status %d", resp.StatusCode)
		}
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch: read body: %w", err)
		}
		return payload, nil
	}
}
