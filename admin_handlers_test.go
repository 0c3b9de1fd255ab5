package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-cache-proxy/work/cache"
	"hls-cache-proxy/work/client"
	"hls-cache-proxy/work/config"
	"hls-cache-proxy/work/filter"
	"hls-cache-proxy/work/proxy"
)

type okFetcher struct{}

func (okFetcher) Fetch(ctx context.Context, target, referer string) (*client.Response, error) {
	return &client.Response{Status: http.StatusOK, Body: []byte("bytes")}, nil
}

func newTestRouter(t *testing.T) (*mux.Router, *proxy.MediaProxy) {
	t.Helper()
	cfg := &config.Config{
		ProxyPath:       "/proxy",
		FallbackReferer: "https://example.com/",
		PlaylistTTL:     10 * time.Minute,
		SegmentTTL:      time.Hour,
		PlaylistMaxAge:  10 * time.Minute,
		SegmentMaxAge:   time.Hour,
		UpstreamTimeout: time.Second,
	}
	mp := proxy.New(cfg, cache.New(5, cfg.PlaylistTTL, cfg.SegmentTTL), okFetcher{}, filter.New("", ""))

	router := mux.NewRouter()
	router.Handle(cfg.ProxyPath, mp).Methods("GET")
	setupAdminRoutes(router, mp, nil)
	return router, mp
}

func TestStatsReportsCacheCounters(t *testing.T) {
	router, _ := newTestRouter(t)

	target := "/proxy?url=" + url.QueryEscape("https://cdn.example/seg.ts")
	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Cache.Entries)
	assert.Equal(t, 5, stats.Cache.Capacity)
	assert.Equal(t, uint64(2), stats.Cache.Hits)
	assert.Equal(t, uint64(1), stats.Cache.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio, 0.001)
	assert.False(t, stats.PrefetchEnabled)
	assert.Equal(t, "1h0m0s", stats.SegmentTTL)
	assert.Equal(t, Version, stats.Version)
}

func TestHealthzRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 30m", formatDuration(150*time.Minute))
	assert.Equal(t, "1d 3h", formatDuration(27*time.Hour))
}
