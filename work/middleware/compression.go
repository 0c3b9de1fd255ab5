package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"hls-cache-proxy/work/logger"
)

// gzipWriterPool keeps gzip writers at BestSpeed; playlists are small and
// latency matters more than ratio.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// GzipETagSuffix marks the gzip coding of a strong ETag, so the compressed
// and identity representations never share a validator.
const GzipETagSuffix = "-gzip"

// gzipResponseWriter decides at WriteHeader time whether the body gets
// compressed. Bodiless statuses (1xx, 204, 304) and responses that already
// carry a Content-Encoding are written as-is. A 304 still gets the gzip
// ETag because the client revalidated the compressed representation.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	wroteHeader bool
	compress    bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.Header()
	if h.Get("Content-Encoding") == "" {
		if bodyAllowed(status) {
			w.compress = true
			w.gz.Reset(w.ResponseWriter)
			h.Set("Content-Encoding", "gzip")
			h.Del("Content-Length")
		}
		if w.compress || status == http.StatusNotModified {
			h.Add("Vary", "Accept-Encoding")
			if etag := h.Get("ETag"); etag != "" {
				h.Set("ETag", gzipETag(etag))
			}
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

// gzipETag derives the validator of the gzip coding from a strong ETag.
// Weak ETags already tolerate coding differences and are left alone.
func gzipETag(etag string) string {
	if strings.HasPrefix(etag, "W/") || !strings.HasSuffix(etag, `"`) || strings.HasSuffix(etag, GzipETagSuffix+`"`) {
		return etag
	}
	return strings.TrimSuffix(etag, `"`) + GzipETagSuffix + `"`
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if !w.compress {
		return w.ResponseWriter.Write(b)
	}
	return w.gz.Write(b)
}

// Flush pushes buffered compressed bytes to the client.
func (w *gzipResponseWriter) Flush() {
	if w.compress {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// GzipMiddleware compresses responses for requests that match and whose
// client advertises gzip. A nil match compresses everything.
func GzipMiddleware(next http.HandlerFunc, match func(*http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		// pass through if the client doesn't accept gzip or the request is excluded
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || (match != nil && !match(r)) {
			next(w, r)
			return
		}

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gzw := &gzipResponseWriter{ResponseWriter: w, gz: gz}
		defer func() {
			if gzw.compress {
				if err := gz.Close(); err != nil {
					logger.Debug("{middleware/compression - GzipMiddleware} failed to close gzip writer for: %s %s - %v", r.Method, r.URL.Path, err)
				}
			}
			gz.Reset(io.Discard)
			gzipWriterPool.Put(gz)
		}()

		next(gzw, r)
	}
}
