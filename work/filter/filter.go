package filter

import (
	"github.com/grafana/regexp"

	"hls-cache-proxy/work/logger"
)

// UpstreamFilter decides which upstream URLs the proxy is willing to fetch.
// With no patterns configured every URL is allowed.
type UpstreamFilter struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// New compiles the include/exclude patterns. Invalid patterns are logged
// and treated as absent so a typo in the config does not take the proxy down.
func New(includePattern, excludePattern string) *UpstreamFilter {
	return &UpstreamFilter{
		include: compile("include", includePattern),
		exclude: compile("exclude", excludePattern),
	}
}

func compile(name, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} failed to compile %s pattern '%s': %v", name, pattern, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} compiled %s pattern: '%s'", name, pattern)
	return compiled
}

// Allowed reports whether target may be proxied: it must match the include
// pattern (when set) and must not match the exclude pattern (when set).
func (f *UpstreamFilter) Allowed(target string) bool {
	if f == nil {
		return true
	}
	if f.include != nil && !f.include.MatchString(target) {
		return false
	}
	if f.exclude != nil && f.exclude.MatchString(target) {
		return false
	}
	return true
}

// Active reports whether any pattern is in effect.
func (f *UpstreamFilter) Active() bool {
	return f != nil && (f.include != nil || f.exclude != nil)
}
