package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000,
seg0.ts
#EXTINF:4.000,
/abs/seg1.ts
#EXTINF:4.000,
https://other.cdn/seg2.ts
#EXT-X-ENDLIST
`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
720p/index.m3u8
`

func TestSegmentURLsMediaPlaylist(t *testing.T) {
	urls := SegmentURLs(mediaPlaylist, testBase, 10)

	assert.Equal(t, []string{
		"https://host/path/seg0.ts",
		"https://host/abs/seg1.ts",
		"https://other.cdn/seg2.ts",
	}, urls)
}

func TestSegmentURLsHonoursLimit(t *testing.T) {
	urls := SegmentURLs(mediaPlaylist, testBase, 2)
	assert.Len(t, urls, 2)
	assert.Nil(t, SegmentURLs(mediaPlaylist, testBase, 0))
}

func TestSegmentURLsIgnoresMasterAndGarbage(t *testing.T) {
	assert.Empty(t, SegmentURLs(masterPlaylist, testBase, 5))
	assert.Empty(t, SegmentURLs("not a playlist", testBase, 5))
	assert.Empty(t, SegmentURLs(mediaPlaylist, "http://[::1", 5))
}
