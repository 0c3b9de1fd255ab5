package parser

import (
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"hls-cache-proxy/work/logger"
)

// SegmentURLs decodes a media playlist and returns the absolute URLs of at
// most limit segments, in playlist order. Master playlists, undecodable
// input and an unparsable base yield no URLs.
func SegmentURLs(playlist, baseURL string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	decoded, listType, err := m3u8.DecodeFrom(strings.NewReader(playlist), false)
	if err != nil {
		logger.Debug("{parser/segments - SegmentURLs} playlist not decodable: %v", err)
		return nil
	}
	if listType != m3u8.MEDIA {
		return nil
	}

	media, ok := decoded.(*m3u8.MediaPlaylist)
	if !ok {
		return nil
	}

	var urls []string
	for _, seg := range media.Segments {
		if seg == nil {
			break
		}

		ref, err := url.Parse(strings.TrimSpace(seg.URI))
		if err != nil {
			continue
		}

		urls = append(urls, base.ResolveReference(ref).String())
		if len(urls) >= limit {
			break
		}
	}

	return urls
}
