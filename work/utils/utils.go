package utils

import (
	"fmt"
	"net/url"
	"strings"

	"hls-cache-proxy/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, u string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(u)
	}
	return u
}

// ObfuscateURL keeps scheme and host and masks path, query and fragment,
// since upstream media URLs frequently embed access tokens.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		b.WriteString("/***")
	}
	if u.RawQuery != "" {
		b.WriteString("?***")
	}
	if u.Fragment != "" {
		b.WriteString("#***")
	}
	return b.String()
}

// FormatBytes renders a byte count in human readable binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
