package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"hls-cache-proxy/work/cache"
	"hls-cache-proxy/work/client"
	"hls-cache-proxy/work/config"
	"hls-cache-proxy/work/filter"
	"hls-cache-proxy/work/logger"
	"hls-cache-proxy/work/metrics"
	"hls-cache-proxy/work/middleware"
	"hls-cache-proxy/work/parser"
	"hls-cache-proxy/work/types"
	"hls-cache-proxy/work/utils"
)

// Fetcher retrieves raw upstream content. *client.HeaderSettingClient is the
// production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, target, referer string) (*client.Response, error)
}

// Scheduler accepts segment URLs to warm in the background.
type Scheduler interface {
	Schedule(urls []string, referer string) int
}

// MediaProxy serves the proxy endpoint: it answers from the cache when it
// can, otherwise fetches upstream, rewrites playlists, stores the result and
// responds. One MediaProxy is built by main and shared by all requests.
type MediaProxy struct {
	Config     *config.Config         // Application configuration
	Cache      *cache.Store           // Shared playlist/segment store
	Fetcher    Fetcher                // Upstream client
	Filter     *filter.UpstreamFilter // Optional allow/deny patterns for targets
	Prefetcher Scheduler              // Segment warm-up, nil when disabled
	flights    singleflight.Group     // Coalesces concurrent misses per key
}

// New creates a MediaProxy. Prefetcher is attached afterwards by the caller
// because it needs the proxy itself as its Warmer.
func New(cfg *config.Config, store *cache.Store, fetcher Fetcher, upstreamFilter *filter.UpstreamFilter) *MediaProxy {
	return &MediaProxy{
		Config:  cfg,
		Cache:   store,
		Fetcher: fetcher,
		Filter:  upstreamFilter,
	}
}

// ServeHTTP implements the endpoint:
//
//	RECEIVED -> CACHE_LOOKUP -> HIT -> RESPONDING
//	                         -> MISS -> FETCHING -> (REWRITING) -> CACHE_STORE -> RESPONDING
//
// Every failure is turned into a plain-text response here.
func (p *MediaProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		p.preflight(w)
		return
	}

	query := r.URL.Query()
	target := query.Get("url")
	if target == "" {
		p.writeError(w, r, types.NewClientError(http.StatusBadRequest, "URL required"))
		return
	}
	if err := p.validateTarget(target); err != nil {
		p.writeError(w, r, err)
		return
	}

	kind := types.Classify(target)

	if payload, ok := p.Cache.Get(target); ok {
		metrics.CacheLookups.WithLabelValues(kind.String(), "hit").Inc()
		logger.Debug("{proxy/proxy - ServeHTTP} cache hit for %s %s", kind, utils.LogURL(p.Config, target))
		p.respond(w, r, payload, "HIT")
		return
	}
	metrics.CacheLookups.WithLabelValues(kind.String(), "miss").Inc()

	referer := query.Get("referer")
	if referer == "" {
		referer = p.Config.FallbackReferer
	}

	payload, err := p.load(r.Context(), target, kind, referer)
	if err != nil {
		p.writeError(w, r, err)
		return
	}

	p.respond(w, r, payload, "MISS")
}

// validateTarget rejects URLs the proxy cannot or will not fetch.
func (p *MediaProxy) validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.NewClientError(http.StatusBadRequest, "URL must be an absolute http(s) URL")
	}
	if !p.Filter.Allowed(target) {
		return types.NewClientError(http.StatusForbidden, "URL not allowed")
	}
	return nil
}

// load runs fetchAndStore once per key no matter how many requests miss
// concurrently. The shared work is detached from the first caller's
// cancellation and bounded by the upstream timeout instead.
func (p *MediaProxy) load(ctx context.Context, target string, kind types.MediaKind, referer string) (types.Payload, error) {
	ch := p.flights.DoChan(target, func() (val interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("{proxy/proxy - load} recovered panic for %s: %v", utils.LogURL(p.Config, target), rec)
				err = types.AsProxyError(fmt.Errorf("panic while loading: %v", rec))
			}
		}()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Config.UpstreamTimeout)
		defer cancel()

		return p.fetchAndStore(loadCtx, target, kind, referer)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.Payload{}, res.Err
		}
		return res.Val.(types.Payload), nil
	case <-ctx.Done():
		return types.Payload{}, types.NewClientError(499, "client closed request")
	}
}

// fetchAndStore is the miss path: fetch, rewrite playlists, store.
// Nothing is written to the cache unless every step succeeded.
func (p *MediaProxy) fetchAndStore(ctx context.Context, target string, kind types.MediaKind, referer string) (types.Payload, error) {
	resp, err := p.Fetcher.Fetch(ctx, target, referer)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(kind.String(), "error").Inc()
		if errors.Is(err, client.ErrPayloadTooLarge) {
			return types.Payload{}, &types.ProxyError{
				Kind:    types.InternalError,
				Status:  http.StatusInternalServerError,
				Message: "Upstream payload rejected",
				Err:     err,
			}
		}
		return types.Payload{}, types.NewUpstreamTransportError(err)
	}

	metrics.UpstreamRequests.WithLabelValues(kind.String(), strconv.Itoa(resp.Status)).Inc()
	metrics.BytesTransferred.WithLabelValues(kind.String(), "upstream").Add(float64(len(resp.Body)))

	if resp.Status < 200 || resp.Status > 299 {
		return types.Payload{}, types.NewUpstreamStatusError(resp.Status)
	}

	body := resp.Body
	if kind == types.Playlist {
		rewritten, passthrough := parser.Rewrite(string(resp.Body), target, referer)
		if passthrough > 0 {
			metrics.RewritePassthrough.Add(float64(passthrough))
			logger.Debug("{proxy/proxy - fetchAndStore} %d unresolvable URI lines left as-is in %s",
				passthrough, utils.LogURL(p.Config, target))
		}
		body = []byte(rewritten)
	}

	payload := types.NewPayload(kind, body)
	p.Cache.Set(target, payload)

	if kind == types.Playlist {
		p.schedulePrefetch(string(resp.Body), target, referer)
	}

	return payload, nil
}

// schedulePrefetch hands the first segments of a media playlist to the
// prefetcher. Nested playlists are never prefetched.
func (p *MediaProxy) schedulePrefetch(upstreamPlaylist, target, referer string) {
	if p.Prefetcher == nil {
		return
	}

	var segments []string
	for _, u := range parser.SegmentURLs(upstreamPlaylist, target, p.Config.PrefetchSegments) {
		if types.Classify(u) == types.Segment && p.Filter.Allowed(u) {
			segments = append(segments, u)
		}
	}
	if len(segments) == 0 {
		return
	}

	n := p.Prefetcher.Schedule(segments, referer)
	logger.Debug("{proxy/proxy - schedulePrefetch} scheduled %d/%d segments from %s", n, len(segments), utils.LogURL(p.Config, target))
}

// Cached reports whether target is already cached and fresh.
func (p *MediaProxy) Cached(target string) bool {
	return p.Cache.Contains(target)
}

// Warm loads target into the cache through the regular miss path.
func (p *MediaProxy) Warm(ctx context.Context, target, referer string) error {
	if !p.Filter.Allowed(target) {
		return types.NewClientError(http.StatusForbidden, "URL not allowed")
	}
	_, err := p.load(ctx, target, types.Classify(target), referer)
	return err
}

// respond writes a cached or freshly fetched payload with its headers.
func (p *MediaProxy) respond(w http.ResponseWriter, r *http.Request, payload types.Payload, cacheStatus string) {
	h := w.Header()
	h.Set("Content-Type", payload.Kind.ContentType())
	h.Set("Cache-Control", p.cacheControl(payload.Kind))
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("ETag", payload.ETag)
	h.Set("X-Cache", cacheStatus)

	if etagMatches(r.Header.Get("If-None-Match"), payload.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	n, err := w.Write(payload.Body)
	metrics.BytesTransferred.WithLabelValues(payload.Kind.String(), "downstream").Add(float64(n))
	if err != nil {
		logger.Debug("{proxy/proxy - respond} client write failed: %v", err)
	}
}

func (p *MediaProxy) cacheControl(kind types.MediaKind) string {
	maxAge := p.Config.SegmentMaxAge
	if kind == types.Playlist {
		maxAge = p.Config.PlaylistMaxAge
	}
	return "public, max-age=" + strconv.FormatInt(int64(maxAge.Seconds()), 10)
}

func (p *MediaProxy) preflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// writeError converts err into a plain-text response. Upstream failures
// keep the upstream status code.
func (p *MediaProxy) writeError(w http.ResponseWriter, r *http.Request, err error) {
	pe := types.AsProxyError(err)
	metrics.ProxyErrors.WithLabelValues(pe.Kind.String()).Inc()

	target := utils.LogURL(p.Config, r.URL.Query().Get("url"))
	if pe.Kind == types.ClientInputError {
		logger.Debug("{proxy/proxy - writeError} rejected %s: %s", target, pe.Error())
	} else {
		logger.Warn("{proxy/proxy - writeError} %s failed for %s: %s", pe.Kind, target, pe.Error())
	}

	h := w.Header()
	h.Del("Content-Encoding")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(pe.Status)
	_, _ = w.Write([]byte(pe.Error()))
}

// etagMatches implements the If-None-Match comparison for a strong ETag.
// The gzip coding's validator (see middleware.GzipETagSuffix) matches too,
// since it names the same cached payload.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	gzipped := strings.TrimSuffix(etag, `"`) + middleware.GzipETagSuffix + `"`
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag || candidate == gzipped {
			return true
		}
	}
	return false
}
