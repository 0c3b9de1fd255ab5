package prefetch

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"hls-cache-proxy/work/logger"
	"hls-cache-proxy/work/metrics"
)

// Warmer is what the prefetcher drives: a cache membership check and a
// loader that fetches a URL and stores it.
type Warmer interface {
	Cached(target string) bool
	Warm(ctx context.Context, target, referer string) error
}

// Prefetcher warms segments listed in freshly fetched playlists on a
// bounded worker pool. Jobs that do not fit in the pool are dropped rather
// than queued; the player will request them itself soon enough.
type Prefetcher struct {
	pool     *ants.Pool
	inflight *xsync.MapOf[string, struct{}]
	warmer   Warmer
	timeout  time.Duration
}

// New creates a prefetcher with workers goroutines. timeout bounds each job.
func New(workers int, timeout time.Duration, warmer Warmer) (*Prefetcher, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Prefetcher{
		pool:     pool,
		inflight: xsync.NewMapOf[string, struct{}](),
		warmer:   warmer,
		timeout:  timeout,
	}, nil
}

// Schedule submits a warm-up job for every URL that is neither cached nor
// already in flight. Returns the number of jobs accepted by the pool.
func (p *Prefetcher) Schedule(urls []string, referer string) int {
	scheduled := 0

	for _, target := range urls {
		if p.warmer.Cached(target) {
			metrics.PrefetchJobs.WithLabelValues("skipped").Inc()
			continue
		}
		if _, loaded := p.inflight.LoadOrStore(target, struct{}{}); loaded {
			metrics.PrefetchJobs.WithLabelValues("skipped").Inc()
			continue
		}

		err := p.pool.Submit(p.job(target, referer))
		if err != nil {
			p.inflight.Delete(target)
			if errors.Is(err, ants.ErrPoolOverload) {
				metrics.PrefetchJobs.WithLabelValues("dropped").Inc()
				logger.Debug("{prefetch/prefetch - Schedule} pool saturated, dropping remaining jobs")
				break
			}
			logger.Warn("{prefetch/prefetch - Schedule} submit failed: %v", err)
			break
		}

		scheduled++
		metrics.PrefetchJobs.WithLabelValues("scheduled").Inc()
	}

	return scheduled
}

func (p *Prefetcher) job(target, referer string) func() {
	return func() {
		defer p.inflight.Delete(target)

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.warmer.Warm(ctx, target, referer); err != nil {
			metrics.PrefetchJobs.WithLabelValues("failed").Inc()
			logger.Debug("{prefetch/prefetch - job} warm-up failed: %v", err)
			return
		}
		metrics.PrefetchJobs.WithLabelValues("stored").Inc()
	}
}

// InFlight returns the number of URLs currently being warmed.
func (p *Prefetcher) InFlight() int {
	return p.inflight.Size()
}

// Workers returns the number of pool workers currently running jobs.
func (p *Prefetcher) Workers() int {
	return p.pool.Running()
}

// Release stops the pool, waiting up to timeout for running jobs.
func (p *Prefetcher) Release(timeout time.Duration) {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		logger.Warn("{prefetch/prefetch - Release} %v", err)
	}
}
