package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"hls-cache-proxy/work/cache"
	"hls-cache-proxy/work/handlers"
	"hls-cache-proxy/work/logger"
	"hls-cache-proxy/work/middleware"
	"hls-cache-proxy/work/prefetch"
	"hls-cache-proxy/work/proxy"
	"hls-cache-proxy/work/utils"
)

// StatsResponse is the JSON document served at /stats.
type StatsResponse struct {
	Version          string      `json:"version"`
	Uptime           string      `json:"uptime"`
	MemoryUsage      string      `json:"memoryUsage"`
	Goroutines       int         `json:"goroutines"`
	Cache            cache.Stats `json:"cache"`
	HitRatio         float64     `json:"hitRatio"`
	PlaylistTTL      string      `json:"playlistTTL"`
	SegmentTTL       string      `json:"segmentTTL"`
	PrefetchEnabled  bool        `json:"prefetchEnabled"`
	PrefetchInFlight int         `json:"prefetchInFlight"`
	PrefetchWorkers  int         `json:"prefetchWorkers"`
	FilterActive     bool        `json:"filterActive"`
}

// adminStartTime is the reference point for the reported uptime.
var adminStartTime = time.Now()

// setupAdminRoutes registers the operational routes next to the proxy route.
func setupAdminRoutes(router *mux.Router, mp *proxy.MediaProxy, pf *prefetch.Prefetcher) {
	router.HandleFunc("/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(mp, pf), nil))).Methods("GET", "OPTIONS")
	router.HandleFunc("/healthz", handlers.HandleHealth).Methods("GET")
}

// corsMiddleware lets browser dashboards read the stats route.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleGetStats reports cache, prefetch and runtime state.
func handleGetStats(mp *proxy.MediaProxy, pf *prefetch.Prefetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		cs := mp.Cache.Stats()
		hitRatio := 0.0
		if lookups := cs.Hits + cs.Misses; lookups > 0 {
			hitRatio = float64(cs.Hits) / float64(lookups)
		}

		stats := StatsResponse{
			Version:         Version,
			Uptime:          formatDuration(time.Since(adminStartTime)),
			MemoryUsage:     utils.FormatBytes(int64(m.Alloc)),
			Goroutines:      runtime.NumGoroutine(),
			Cache:           cs,
			HitRatio:        hitRatio,
			PlaylistTTL:     mp.Config.PlaylistTTL.String(),
			SegmentTTL:      mp.Config.SegmentTTL.String(),
			PrefetchEnabled: pf != nil,
			FilterActive:    mp.Filter.Active(),
		}
		if pf != nil {
			stats.PrefetchInFlight = pf.InFlight()
			stats.PrefetchWorkers = pf.Workers()
		}

		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("{main/admin_handlers - handleGetStats} failed to encode stats: %v", err)
		}
	}
}

// formatDuration renders an uptime as a short human string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
