package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheLookups counts cache reads by media kind and result (hit, miss).
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hls_proxy_cache_lookups_total",
	Help: "Cache lookups by result",
}, []string{"kind", "result"})

// CacheEvictions counts entries removed from the cache. The "reason" label is
// "capacity" for FIFO evictions and "expired" for lazy TTL removals.
var CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hls_proxy_cache_evictions_total",
	Help: "Cache entries removed",
}, []string{"reason"})

// CacheEntries tracks the current number of cached artifacts.
var CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "hls_proxy_cache_entries",
	Help: "Number of cached entries",
})

// UpstreamRequests counts origin fetches by media kind and HTTP status.
// Transport failures are recorded with status "error".
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hls_proxy_upstream_requests_total",
	Help: "Upstream fetches by status",
}, []string{"kind", "status"})

// BytesTransferred counts payload bytes. Direction is "upstream" for bytes
// read from origin hosts and "downstream" for bytes written to clients.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hls_proxy_bytes_transferred_total",
	Help: "Total bytes transferred",
}, []string{"kind", "direction"})

// ProxyErrors counts failed proxy requests by error kind.
var ProxyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hls_proxy_errors_total",
	Help: "Number of failed proxy requests",
}, []string{"error_type"})

// RewritePassthrough counts playlist URI lines left untouched because they
// could not be resolved.
var RewritePassthrough = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hls_proxy_rewrite_passthrough_total",
	Help: "Playlist URI lines passed through unresolved",
})

// PrefetchJobs counts segment prefetch attempts by result
// (scheduled, skipped, dropped, failed, stored).
var PrefetchJobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hls_proxy_prefetch_jobs_total",
	Help: "Segment prefetch jobs by result",
}, []string{"result"})
