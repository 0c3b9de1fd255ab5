package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// PlaylistSuffix is the file extension that marks an upstream URL as an HLS playlist.
const PlaylistSuffix = ".m3u8"

// Content types emitted for each kind of media.
const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
)

// MediaKind is the classification of a proxied URL. It is derived once when a
// request arrives and carried through lookup, fetch, rewrite and storage.
type MediaKind int

const (
	Segment  MediaKind = iota // opaque, immutable media bytes
	Playlist                  // M3U8 text that must be rewritten
)

// Classify derives the MediaKind of an upstream URL from its suffix. The raw
// string is checked first; a URL whose path ends in the playlist suffix but
// carries a query string is also treated as a playlist. Response content
// types are never consulted because upstream hosts do not set them reliably.
func Classify(rawURL string) MediaKind {
	if strings.HasSuffix(strings.ToLower(rawURL), PlaylistSuffix) {
		return Playlist
	}
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), PlaylistSuffix) {
		return Playlist
	}
	return Segment
}

func (k MediaKind) String() string {
	if k == Playlist {
		return "playlist"
	}
	return "segment"
}

// ContentType returns the response Content-Type for the kind.
func (k MediaKind) ContentType() string {
	if k == Playlist {
		return ContentTypePlaylist
	}
	return ContentTypeSegment
}

// Payload is a cached artifact: rewritten playlist text or raw segment bytes.
// Body must be treated as read-only once the payload is built.
type Payload struct {
	Kind MediaKind
	Body []byte
	ETag string
}

// NewPayload builds a Payload and computes its strong ETag.
func NewPayload(kind MediaKind, body []byte) Payload {
	sum := blake2b.Sum256(body)
	return Payload{
		Kind: kind,
		Body: body,
		ETag: `"` + hex.EncodeToString(sum[:16]) + `"`,
	}
}

// ErrorKind enumerates the failure classes surfaced by the proxy endpoint.
type ErrorKind int

const (
	ClientInputError ErrorKind = iota // bad or missing request parameters
	UpstreamError                     // origin returned non-2xx or could not be reached
	InternalError                     // failure inside the proxy itself
)

func (k ErrorKind) String() string {
	switch k {
	case ClientInputError:
		return "client_input"
	case UpstreamError:
		return "upstream"
	default:
		return "internal"
	}
}

// ProxyError carries everything needed to turn a failure into an HTTP response.
type ProxyError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProxyError) Unwrap() error { return e.Err }

// NewClientError reports invalid input; status is 400 unless overridden.
func NewClientError(status int, msg string) *ProxyError {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &ProxyError{Kind: ClientInputError, Status: status, Message: msg}
}

// NewUpstreamStatusError reports a non-2xx answer from the origin.
func NewUpstreamStatusError(status int) *ProxyError {
	return &ProxyError{
		Kind:    UpstreamError,
		Status:  status,
		Message: fmt.Sprintf("Upstream responded with status %d", status),
	}
}

// NewUpstreamTransportError reports a failure to reach or read from the origin.
func NewUpstreamTransportError(err error) *ProxyError {
	return &ProxyError{
		Kind:    UpstreamError,
		Status:  http.StatusInternalServerError,
		Message: "Upstream request failed",
		Err:     err,
	}
}

// AsProxyError converts any error into a ProxyError, defaulting to an
// internal 500 when err is not already one.
func AsProxyError(err error) *ProxyError {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProxyError{
		Kind:    InternalError,
		Status:  http.StatusInternalServerError,
		Message: "Internal proxy error",
		Err:     err,
	}
}
