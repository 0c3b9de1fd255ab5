package parser

import (
	"net/url"
	"strings"
)

// Rewrite re-routes every URI line of an M3U8 playlist through the proxy.
//
// Each line is classified after trimming: blank lines and lines starting
// with '#' (tags and comments) are emitted verbatim. Any other line is a URI
// reference, resolved against baseURL and replaced with a query-only
// reference of the form "?url=<abs>&referer=<referer>" so the player's next
// request comes back to the proxy endpoint. A line that cannot be resolved
// is passed through untouched; the manifest degrades rather than breaks.
//
// Parameters:
//   - playlist: raw playlist text as received from upstream
//   - baseURL: absolute URL the playlist was fetched from
//   - referer: referer to carry on the rewritten references
//
// Returns:
//   - string: the rewritten playlist, same line count and order
//   - int: number of URI lines that were passed through unresolved
func Rewrite(playlist, baseURL, referer string) (string, int) {
	base, baseErr := url.Parse(baseURL)

	lines := strings.Split(playlist, "\n")
	passthrough := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if baseErr != nil {
			passthrough++
			continue
		}

		ref, err := url.Parse(trimmed)
		if err != nil {
			passthrough++
			continue
		}

		rewritten := ProxyReference(base.ResolveReference(ref).String(), referer)
		if strings.HasSuffix(line, "\r") {
			rewritten += "\r"
		}
		lines[i] = rewritten
	}

	return strings.Join(lines, "\n"), passthrough
}

// ProxyReference builds the proxy-relative reference for an absolute URL.
func ProxyReference(absURL, referer string) string {
	return "?url=" + url.QueryEscape(absURL) + "&referer=" + url.QueryEscape(referer)
}
