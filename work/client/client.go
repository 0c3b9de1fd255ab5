package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/maypok86/otter/v2"
	"go.uber.org/ratelimit"

	"hls-cache-proxy/work/config"
	"hls-cache-proxy/work/logger"
	"hls-cache-proxy/work/utils"
)

// ErrPayloadTooLarge is returned when an upstream body exceeds the configured cap.
var ErrPayloadTooLarge = errors.New("upstream payload exceeds size limit")

// Response is the raw result of an upstream fetch. The body is not
// interpreted; classification is the caller's concern.
type Response struct {
	Status int
	Body   []byte
}

// HeaderSettingClient wraps http.Client to present a browser identity and
// the caller's Referer/Origin pair to origin media hosts.
type HeaderSettingClient struct {
	Client    *http.Client
	config    *config.Config
	userAgent string
	maxBody   int64
	limiter   ratelimit.Limiter
	limited   bool                         // false when limiter is the unlimited no-op
	origins   *otter.Cache[string, string] // referer -> derived Origin ("" when underivable)
}

// NewHeaderSettingClient builds the upstream client from config. Redirects
// are followed by the default policy and every request is bounded by
// cfg.UpstreamTimeout.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	httpClient := &http.Client{
		Timeout: cfg.UpstreamTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
		},
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.UpstreamRateLimit > 0 {
		limiter = ratelimit.New(cfg.UpstreamRateLimit)
	}

	return &HeaderSettingClient{
		Client:    httpClient,
		config:    cfg,
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxPayloadSize * 1024 * 1024,
		limiter:   limiter,
		limited:   cfg.UpstreamRateLimit > 0,
		origins:   otter.Must(&otter.Options[string, string]{MaximumSize: 1024}),
	}
}

// Fetch performs a GET against target with browser headers and the given
// referer, following redirects, and returns the final status and body.
//
// Parameters:
//   - ctx: bounds the request together with the client timeout
//   - target: absolute upstream URL
//   - referer: Referer to present; empty sends neither Referer nor Origin
//
// Returns:
//   - *Response: status and body of the final response (any status)
//   - error: transport failure, read failure or ErrPayloadTooLarge
func (hsc *HeaderSettingClient) Fetch(ctx context.Context, target, referer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	hsc.setHeaders(req, referer)

	if err := hsc.waitForSlot(ctx); err != nil {
		logger.Debug("{client/client - Fetch} gave up waiting for rate limit on %s: %v", utils.LogURL(hsc.config, target), err)
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := hsc.Client.Do(req)
	if err != nil {
		logger.Debug("{client/client - Fetch} request failed for %s: %v", utils.LogURL(hsc.config, target), err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, hsc.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	if int64(len(body)) > hsc.maxBody {
		return nil, fmt.Errorf("%w (%s)", ErrPayloadTooLarge, utils.FormatBytes(hsc.maxBody))
	}

	logger.Debug("{client/client - Fetch} %d from %s: %s in %s",
		resp.StatusCode, utils.LogURL(hsc.config, target), utils.FormatBytes(int64(len(body))), time.Since(start))

	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// waitForSlot blocks until the limiter grants a request or ctx is done,
// whichever comes first. A slot taken after ctx expired is simply wasted.
func (hsc *HeaderSettingClient) waitForSlot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !hsc.limited {
		return nil
	}

	granted := make(chan struct{})
	go func() {
		hsc.limiter.Take()
		close(granted)
	}()

	select {
	case <-granted:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", hsc.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")

	if referer == "" {
		return
	}
	req.Header.Set("Referer", referer)
	if origin := hsc.originFor(referer); origin != "" {
		req.Header.Set("Origin", origin)
	}
}

// originFor memoizes OriginOf; the same handful of referers arrive on every
// segment request of a session.
func (hsc *HeaderSettingClient) originFor(referer string) string {
	if origin, ok := hsc.origins.GetIfPresent(referer); ok {
		return origin
	}
	origin, _ := OriginOf(referer)
	hsc.origins.Set(referer, origin)
	return origin
}

// OriginOf derives the Origin header value (scheme://host) from a referer.
// Returns false for referers without a scheme and host.
func OriginOf(referer string) (string, bool) {
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}
