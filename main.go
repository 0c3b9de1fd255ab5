package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hls-cache-proxy/work/cache"
	"hls-cache-proxy/work/client"
	"hls-cache-proxy/work/config"
	"hls-cache-proxy/work/filter"
	"hls-cache-proxy/work/handlers"
	"hls-cache-proxy/work/logger"
	"hls-cache-proxy/work/prefetch"
	"hls-cache-proxy/work/proxy"
	"hls-cache-proxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig(config.Path())
	logger.Configure(os.Stdout, cfg.LogLevel)

	// shared cache, upstream client and target filter
	store := cache.New(cfg.MaxCacheEntries, cfg.PlaylistTTL, cfg.SegmentTTL)
	httpClient := client.NewHeaderSettingClient(cfg)
	upstreamFilter := filter.New(cfg.UpstreamIncludeRegex, cfg.UpstreamExcludeRegex)

	// Create proxy instance
	proxyInstance := proxy.New(cfg, store, httpClient, upstreamFilter)

	// optional segment warm-up
	var prefetcher *prefetch.Prefetcher
	if cfg.PrefetchEnabled {
		var err error
		prefetcher, err = prefetch.New(cfg.PrefetchWorkers, cfg.UpstreamTimeout, proxyInstance)
		if err != nil {
			logger.Error("{main - main} failed to create prefetch pool, prefetch disabled: %v", err)
		} else {
			proxyInstance.Prefetcher = prefetcher
		}
	}

	// Setup HTTP routes
	router := mux.NewRouter()
	router.HandleFunc(cfg.ProxyPath, handlers.HandleProxy(proxyInstance)).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	setupAdminRoutes(router, proxyInstance, prefetcher)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// show info
	logger.Info("Starting HLS Cache Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Proxy Path: %s", cfg.ProxyPath)
	logger.Info("  - Cache Entries: %d", cfg.MaxCacheEntries)
	logger.Info("  - Playlist TTL / max-age: %s / %s", cfg.PlaylistTTL, cfg.PlaylistMaxAge)
	logger.Info("  - Segment TTL / max-age: %s / %s", cfg.SegmentTTL, cfg.SegmentMaxAge)
	logger.Info("  - Upstream Timeout: %s", cfg.UpstreamTimeout)
	logger.Info("  - Max. Payload Size: %s", utils.FormatBytes(cfg.MaxPayloadSize*1024*1024))
	logger.Info("  - Upstream Rate Limit: %d/s", cfg.UpstreamRateLimit)
	logger.Info("  - Upstream Filter: %v", upstreamFilter.Active())
	logger.Info("  - Fallback Referer: %s", cfg.FallbackReferer)
	logger.Info("  - Prefetch Enabled: %v", prefetcher != nil)
	logger.Info("  - Compress Playlists: %v", cfg.CompressPlaylists)
	logger.Info("  - Log Level: %s", logger.GetLogLevel())
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads the config file and applies its log level
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				logger.Info("Log level now %s", reloadLogLevel(config.Path()))
			case <-ctx.Done():
				return
			}
		}
	}()

	// fire us up
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("{main - main} server failed: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown requested, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("{main - main} graceful shutdown incomplete: %v", err)
	}
	if prefetcher != nil {
		prefetcher.Release(5 * time.Second)
	}

	logger.Info("Stopped")
}

// reloadLogLevel loads the config at path and applies its log level to the
// package logger. Other settings need a restart to take effect.
func reloadLogLevel(path string) string {
	cfg := config.LoadConfig(path)
	logger.SetLogLevel(cfg.LogLevel)
	return logger.GetLogLevel()
}
