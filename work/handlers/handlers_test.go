package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-cache-proxy/work/cache"
	"hls-cache-proxy/work/client"
	"hls-cache-proxy/work/config"
	"hls-cache-proxy/work/filter"
	"hls-cache-proxy/work/proxy"
)

type staticFetcher map[string]string

func (f staticFetcher) Fetch(ctx context.Context, target, referer string) (*client.Response, error) {
	body, ok := f[target]
	if !ok {
		return &client.Response{Status: http.StatusNotFound}, nil
	}
	return &client.Response{Status: http.StatusOK, Body: []byte(body)}, nil
}

func newProxy(compress bool) *proxy.MediaProxy {
	cfg := &config.Config{
		FallbackReferer:   "https://example.com/",
		PlaylistTTL:       time.Minute,
		SegmentTTL:        time.Hour,
		PlaylistMaxAge:    time.Minute,
		SegmentMaxAge:     time.Hour,
		UpstreamTimeout:   time.Second,
		CompressPlaylists: compress,
	}
	fetcher := staticFetcher{
		"https://cdn.example/a.m3u8": "#EXTM3U\nseg.ts\n",
		"https://cdn.example/seg.ts": "segment",
	}
	return proxy.New(cfg, cache.New(10, cfg.PlaylistTTL, cfg.SegmentTTL), fetcher, filter.New("", ""))
}

func request(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleProxyCompressesOnlyPlaylists(t *testing.T) {
	h := HandleProxy(newProxy(true))

	playlist := request(h, "https://cdn.example/a.m3u8")
	assert.Equal(t, http.StatusOK, playlist.Code)
	assert.Equal(t, "gzip", playlist.Header().Get("Content-Encoding"))

	segment := request(h, "https://cdn.example/seg.ts")
	assert.Equal(t, http.StatusOK, segment.Code)
	assert.Empty(t, segment.Header().Get("Content-Encoding"))
	assert.Equal(t, "segment", segment.Body.String())
}

func TestHandleProxyGzipETagRevalidates(t *testing.T) {
	mp := newProxy(true)
	h := HandleProxy(mp)
	target := "https://cdn.example/a.m3u8"

	gzipped := request(h, target)
	require.Equal(t, http.StatusOK, gzipped.Code)

	identityReq := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), nil)
	identity := httptest.NewRecorder()
	h(identity, identityReq)

	gzipTag := gzipped.Header().Get("ETag")
	assert.NotEqual(t, identity.Header().Get("ETag"), gzipTag, "each coding needs its own validator")
	assert.True(t, strings.HasSuffix(gzipTag, `-gzip"`))

	revalidate := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), nil)
	revalidate.Header.Set("Accept-Encoding", "gzip")
	revalidate.Header.Set("If-None-Match", gzipTag)
	rec := httptest.NewRecorder()
	h(rec, revalidate)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Equal(t, gzipTag, rec.Header().Get("ETag"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestHandleProxyWithoutCompression(t *testing.T) {
	h := HandleProxy(newProxy(false))

	rec := request(h, "https://cdn.example/a.m3u8")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Body.String(), "?url=")
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
