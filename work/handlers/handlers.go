package handlers

import (
	"net/http"

	"hls-cache-proxy/work/middleware"
	"hls-cache-proxy/work/proxy"
	"hls-cache-proxy/work/types"
)

// HandleProxy serves the proxy endpoint. Playlist responses are gzipped for
// clients that accept it when compressPlaylists is enabled; segments always
// pass through untouched.
func HandleProxy(mp *proxy.MediaProxy) http.HandlerFunc {
	if !mp.Config.CompressPlaylists {
		return mp.ServeHTTP
	}
	return middleware.GzipMiddleware(mp.ServeHTTP, isPlaylistRequest)
}

// HandleHealth answers liveness probes.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func isPlaylistRequest(r *http.Request) bool {
	target := r.URL.Query().Get("url")
	return target != "" && types.Classify(target) == types.Playlist
}
