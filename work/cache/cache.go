package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"hls-cache-proxy/work/logger"
	"hls-cache-proxy/work/metrics"
	"hls-cache-proxy/work/types"
)

// Store is a thread-safe in-memory cache of proxied playlists and segments.
// Entries expire after a TTL that depends on their media kind and are removed
// lazily by the read that observes them. The number of entries is bounded;
// inserting a new key at capacity evicts the earliest-inserted entry (FIFO,
// reads do not refresh an entry's position).
type Store struct {
	mu          sync.Mutex               // guards every field below; expiry and eviction happen under it
	entries     map[string]*list.Element // key -> element holding *entry
	order       *list.List               // insertion order, front is oldest
	capacity    int                      // hard bound on len(entries)
	playlistTTL time.Duration            // lifetime of rewritten playlists
	segmentTTL  time.Duration            // lifetime of segment bytes
	clock       clock.Clock              // time source, mockable in tests

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// entry represents a single cached artifact with its insertion timestamp.
type entry struct {
	key        string
	payload    types.Payload
	insertedAt time.Time
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

// Option customises a Store at construction time.
type Option func(*Store)

// WithClock replaces the wall clock, mainly so tests can drive expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New creates an empty Store bounded to capacity entries.
//
// Parameters:
//   - capacity: maximum number of entries held at once (values < 1 become 1)
//   - playlistTTL: how long playlist entries stay fresh
//   - segmentTTL: how long segment entries stay fresh
func New(capacity int, playlistTTL, segmentTTL time.Duration, opts ...Option) *Store {
	if capacity < 1 {
		capacity = 1
	}
	s := &Store{
		entries:     make(map[string]*list.Element, capacity),
		order:       list.New(),
		capacity:    capacity,
		playlistTTL: playlistTTL,
		segmentTTL:  segmentTTL,
		clock:       clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the freshness window for a media kind.
func (s *Store) TTL(kind types.MediaKind) time.Duration {
	if kind == types.Playlist {
		return s.playlistTTL
	}
	return s.segmentTTL
}

// Get retrieves a payload by key.
//
// Behavior:
//   - If the key exists and has not expired, returns the payload and true.
//   - If the key exists but has expired, removes it and returns false.
//   - If the key is missing, returns false.
func (s *Store) Get(key string) (types.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		s.misses++
		return types.Payload{}, false
	}
	s.hits++
	return e.payload, true
}

// Contains reports whether key is cached and fresh without touching the
// hit/miss counters. Expired entries are still removed.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookupLocked(key)
	return ok
}

// Set stores a payload under key, stamping it with the current time.
// Overwriting an existing key moves it to the newest position. When the
// store is full and key is new, the oldest entry is evicted first.
func (s *Store) Set(key string, payload types.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if elem, ok := s.entries[key]; ok {
		e := elem.Value.(*entry)
		e.payload = payload
		e.insertedAt = now
		s.order.MoveToBack(elem)
		return
	}

	if len(s.entries) >= s.capacity {
		s.evictOldestLocked()
	}

	s.entries[key] = s.order.PushBack(&entry{
		key:        key,
		payload:    payload,
		insertedAt: now,
	})
	metrics.CacheEntries.Set(float64(len(s.entries)))
}

// Delete removes key from the store. Returns true if an entry was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(elem)
	return true
}

// Len returns the number of entries currently held, including expired
// entries that have not been observed yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:     len(s.entries),
		Capacity:    s.capacity,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
	}
}

// lookupLocked returns the fresh entry for key, deleting it when stale.
func (s *Store) lookupLocked(key string) (*entry, bool) {
	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	e := elem.Value.(*entry)
	if s.clock.Now().Sub(e.insertedAt) > s.TTL(e.payload.Kind) {
		s.removeLocked(elem)
		s.expirations++
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		logger.Debug("{cache/cache - lookupLocked} expired %s entry after %s", e.payload.Kind, s.TTL(e.payload.Kind))
		return nil, false
	}
	return e, true
}

// evictOldestLocked drops the front of the insertion order.
func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	s.removeLocked(front)
	s.evictions++
	metrics.CacheEvictions.WithLabelValues("capacity").Inc()
}

func (s *Store) removeLocked(elem *list.Element) {
	e := s.order.Remove(elem).(*entry)
	delete(s.entries, e.key)
	metrics.CacheEntries.Set(float64(len(s.entries)))
}
