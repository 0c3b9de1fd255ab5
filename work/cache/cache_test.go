package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-cache-proxy/work/types"
)

const (
	playlistTTL = 600 * time.Second
	segmentTTL  = 3600 * time.Second
)

func newTestStore(t *testing.T, capacity int) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	return New(capacity, playlistTTL, segmentTTL, WithClock(mock)), mock
}

func playlist(body string) types.Payload {
	return types.NewPayload(types.Playlist, []byte(body))
}

func segment(body string) types.Payload {
	return types.NewPayload(types.Segment, []byte(body))
}

func TestGetIsIdempotentWithinTTL(t *testing.T) {
	s, mock := newTestStore(t, 10)
	s.Set("https://host/a.ts", segment("bytes"))

	for i := 0; i < 3; i++ {
		got, ok := s.Get("https://host/a.ts")
		require.True(t, ok)
		assert.Equal(t, []byte("bytes"), got.Body)
		mock.Add(time.Minute)
	}

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
}

func TestMissingKey(t *testing.T) {
	s, _ := newTestStore(t, 10)

	_, ok := s.Get("https://host/none.ts")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Stats().Misses)
}

func TestPlaylistTTLBoundary(t *testing.T) {
	s, mock := newTestStore(t, 10)
	key := "https://host/path/index.m3u8"
	s.Set(key, playlist("#EXTM3U\n"))

	mock.Add(playlistTTL - time.Millisecond)
	_, ok := s.Get(key)
	assert.True(t, ok, "entry should still be fresh just before the TTL")

	mock.Add(2 * time.Millisecond)
	_, ok = s.Get(key)
	assert.False(t, ok, "entry should be stale just after the TTL")
	assert.Equal(t, 0, s.Len(), "stale entry is removed on read")
	assert.Equal(t, uint64(1), s.Stats().Expirations)
}

func TestSegmentTTLBoundary(t *testing.T) {
	s, mock := newTestStore(t, 10)
	key := "https://host/path/seg1.ts"
	s.Set(key, segment("ts"))

	// well past the playlist TTL, segments are still fresh
	mock.Add(playlistTTL + time.Minute)
	_, ok := s.Get(key)
	assert.True(t, ok)

	mock.Set(time.Unix(0, 0).Add(segmentTTL - time.Millisecond))
	_, ok = s.Get(key)
	assert.True(t, ok)

	mock.Add(2 * time.Millisecond)
	_, ok = s.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestFIFOEviction(t *testing.T) {
	const capacity = 5
	s, _ := newTestStore(t, capacity)

	for i := 0; i <= capacity; i++ {
		s.Set(fmt.Sprintf("https://host/seg%d.ts", i), segment(fmt.Sprint(i)))
	}

	assert.Equal(t, capacity, s.Len())
	_, ok := s.Get("https://host/seg0.ts")
	assert.False(t, ok, "first inserted key is evicted")
	for i := 1; i <= capacity; i++ {
		_, ok := s.Get(fmt.Sprintf("https://host/seg%d.ts", i))
		assert.True(t, ok, "key %d should survive", i)
	}
	assert.Equal(t, uint64(1), s.Stats().Evictions)
}

func TestReadsDoNotAffectEvictionOrder(t *testing.T) {
	s, _ := newTestStore(t, 2)
	s.Set("a", segment("a"))
	s.Set("b", segment("b"))

	// a read would save "a" under LRU, but not under FIFO
	_, _ = s.Get("a")
	s.Set("c", segment("c"))

	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
}

func TestOverwriteKeepsSingleEntryAndRefreshesPosition(t *testing.T) {
	s, mock := newTestStore(t, 2)
	s.Set("a", segment("old"))
	s.Set("b", segment("b"))

	mock.Add(time.Second)
	s.Set("a", segment("new"))
	assert.Equal(t, 2, s.Len(), "overwrite must not duplicate")

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got.Body)

	// "a" is now newer than "b", so "b" goes first
	s.Set("c", segment("c"))
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
}

func TestOverwriteResetsInsertionTime(t *testing.T) {
	s, mock := newTestStore(t, 2)
	key := "https://host/live.m3u8"
	s.Set(key, playlist("v1"))

	mock.Add(playlistTTL - time.Second)
	s.Set(key, playlist("v2"))

	mock.Add(2 * time.Second)
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got.Body)
}

func TestOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	s, _ := newTestStore(t, 2)
	s.Set("a", segment("a"))
	s.Set("b", segment("b"))
	s.Set("b", segment("b2"))

	assert.True(t, s.Contains("a"))
	assert.Equal(t, uint64(0), s.Stats().Evictions)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t, 2)
	s.Set("a", segment("a"))

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Equal(t, 0, s.Len())
}

func TestCapacityFloor(t *testing.T) {
	s := New(0, playlistTTL, segmentTTL)
	s.Set("a", segment("a"))
	s.Set("b", segment("b"))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Stats().Capacity)
}

func TestConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t, 64)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (w*31+i)%128)
				if i%3 == 0 {
					s.Set(key, segment(key))
					continue
				}
				if got, ok := s.Get(key); ok {
					// never observe a payload stored under another key
					assert.Equal(t, key, string(got.Body))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), 64)
}
