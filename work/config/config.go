package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hls-cache-proxy/work/logger"
)

// DefaultPath is where the config file is looked up when HLSPROXY_CONFIG is unset.
const DefaultPath = "/settings/config.json"

// DefaultUserAgent is a desktop Chrome identity; origin media hosts commonly
// reject requests that do not look like they come from a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config holds all application configuration values for the caching proxy.
type Config struct {
	ListenAddr           string        `json:"listenAddr"`           // Address the HTTP server binds to
	ProxyPath            string        `json:"proxyPath"`            // Route serving the proxy endpoint
	FallbackReferer      string        `json:"fallbackReferer"`      // Referer used when the client omits one
	UserAgent            string        `json:"userAgent"`            // User-Agent sent upstream
	PlaylistTTL          time.Duration `json:"playlistTTL"`          // Cache lifetime of rewritten playlists
	SegmentTTL           time.Duration `json:"segmentTTL"`           // Cache lifetime of segment bytes
	PlaylistMaxAge       time.Duration `json:"playlistMaxAge"`       // Cache-Control max-age for playlists
	SegmentMaxAge        time.Duration `json:"segmentMaxAge"`        // Cache-Control max-age for segments
	MaxCacheEntries      int           `json:"maxCacheEntries"`      // Hard bound on cached artifacts
	UpstreamTimeout      time.Duration `json:"upstreamTimeout"`      // Deadline for a single upstream fetch
	MaxPayloadSize       int64         `json:"maxPayloadSize"`       // Largest accepted upstream body in MB
	UpstreamRateLimit    int           `json:"upstreamRateLimit"`    // Outbound requests per second, 0 = unlimited
	UpstreamIncludeRegex string        `json:"upstreamIncludeRegex"` // Only proxy URLs matching this pattern
	UpstreamExcludeRegex string        `json:"upstreamExcludeRegex"` // Never proxy URLs matching this pattern
	PrefetchEnabled      bool          `json:"prefetchEnabled"`      // Warm segments listed in fresh playlists
	PrefetchWorkers      int           `json:"prefetchWorkers"`      // Size of the prefetch worker pool
	PrefetchSegments     int           `json:"prefetchSegments"`     // Segments warmed per playlist miss
	CompressPlaylists    bool          `json:"compressPlaylists"`    // Gzip playlist responses when accepted
	Debug                bool          `json:"debug"`                // Force DEBUG logging
	LogLevel             string        `json:"logLevel"`             // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls        bool          `json:"obfuscateUrls"`        // Obfuscate URLs in logs
}

// ConfigFile represents the JSON file structure. Durations are strings
// (e.g. "10m") and are parsed into time.Duration values.
type ConfigFile struct {
	ListenAddr           string `json:"listenAddr"`
	ProxyPath            string `json:"proxyPath"`
	FallbackReferer      string `json:"fallbackReferer"`
	UserAgent            string `json:"userAgent"`
	PlaylistTTL          string `json:"playlistTTL"`
	SegmentTTL           string `json:"segmentTTL"`
	PlaylistMaxAge       string `json:"playlistMaxAge"`
	SegmentMaxAge        string `json:"segmentMaxAge"`
	MaxCacheEntries      int    `json:"maxCacheEntries"`
	UpstreamTimeout      string `json:"upstreamTimeout"`
	MaxPayloadSize       int64  `json:"maxPayloadSize"`
	UpstreamRateLimit    int    `json:"upstreamRateLimit"`
	UpstreamIncludeRegex string `json:"upstreamIncludeRegex,omitempty"`
	UpstreamExcludeRegex string `json:"upstreamExcludeRegex,omitempty"`
	PrefetchEnabled      bool   `json:"prefetchEnabled"`
	PrefetchWorkers      int    `json:"prefetchWorkers"`
	PrefetchSegments     int    `json:"prefetchSegments"`
	CompressPlaylists    *bool  `json:"compressPlaylists,omitempty"`
	Debug                bool   `json:"debug"`
	LogLevel             string `json:"logLevel"`
	ObfuscateUrls        bool   `json:"obfuscateUrls"`
}

// Path returns the config file location, honouring HLSPROXY_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("HLSPROXY_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

// LoadConfig loads the configuration from path.
//
// Process:
//   - Attempts to load and parse the JSON file.
//   - Falls back to the default config if the file is missing or invalid.
//   - Applies environment overrides.
//   - Runs validation to ensure safe defaults.
func LoadConfig(path string) *Config {
	cfg, err := loadFromFile(path)
	if err != nil {
		logger.Warn("{config/config - LoadConfig} failed to load config from %s: %v", path, err)
		logger.Warn("{config/config - LoadConfig} falling back to default configuration")
		cfg = getDefaultConfig()
	}

	if err := applyEnvOverrides(cfg); err != nil {
		logger.Error("{config/config - LoadConfig} ignoring environment overrides: %v", err)
	}

	validateAndSetDefaults(cfg)

	if cfg.Debug {
		cfg.LogLevel = "DEBUG"
	}

	return cfg
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and filled by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		ListenAddr:           cf.ListenAddr,
		ProxyPath:            cf.ProxyPath,
		FallbackReferer:      cf.FallbackReferer,
		UserAgent:            cf.UserAgent,
		MaxCacheEntries:      cf.MaxCacheEntries,
		MaxPayloadSize:       cf.MaxPayloadSize,
		UpstreamRateLimit:    cf.UpstreamRateLimit,
		UpstreamIncludeRegex: cf.UpstreamIncludeRegex,
		UpstreamExcludeRegex: cf.UpstreamExcludeRegex,
		PrefetchEnabled:      cf.PrefetchEnabled,
		PrefetchWorkers:      cf.PrefetchWorkers,
		PrefetchSegments:     cf.PrefetchSegments,
		CompressPlaylists:    true,
		Debug:                cf.Debug,
		LogLevel:             cf.LogLevel,
		ObfuscateUrls:        cf.ObfuscateUrls,
	}
	if cf.CompressPlaylists != nil {
		cfg.CompressPlaylists = *cf.CompressPlaylists
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"playlistTTL", cf.PlaylistTTL, &cfg.PlaylistTTL},
		{"segmentTTL", cf.SegmentTTL, &cfg.SegmentTTL},
		{"playlistMaxAge", cf.PlaylistMaxAge, &cfg.PlaylistMaxAge},
		{"segmentMaxAge", cf.SegmentMaxAge, &cfg.SegmentMaxAge},
		{"upstreamTimeout", cf.UpstreamTimeout, &cfg.UpstreamTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// applyEnvOverrides lets container deployments tweak the common knobs
// without shipping a config file.
func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("FALLBACK_REFERER")); v != "" {
		cfg.FallbackReferer = v
	}
	if v := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.UpstreamTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_SIZE: %w", err)
		}
		cfg.MaxCacheEntries = n
	}
	return nil
}

// getDefaultConfig returns a baseline configuration used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8080",
		ProxyPath:         "/proxy",
		FallbackReferer:   "https://example.com/",
		UserAgent:         DefaultUserAgent,
		PlaylistTTL:       600 * time.Second,
		SegmentTTL:        3600 * time.Second,
		PlaylistMaxAge:    600 * time.Second,
		SegmentMaxAge:     31536000 * time.Second,
		MaxCacheEntries:   1000,
		UpstreamTimeout:   15 * time.Second,
		MaxPayloadSize:    64,
		UpstreamRateLimit: 0,
		PrefetchEnabled:   false,
		PrefetchWorkers:   4,
		PrefetchSegments:  3,
		CompressPlaylists: true,
		LogLevel:          "INFO",
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(cfg *Config) {
	def := getDefaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.ProxyPath == "" {
		cfg.ProxyPath = def.ProxyPath
	}
	if !strings.HasPrefix(cfg.ProxyPath, "/") {
		cfg.ProxyPath = "/" + cfg.ProxyPath
	}
	if cfg.FallbackReferer == "" {
		cfg.FallbackReferer = def.FallbackReferer
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.PlaylistTTL <= 0 {
		cfg.PlaylistTTL = def.PlaylistTTL
	}
	if cfg.SegmentTTL <= 0 {
		cfg.SegmentTTL = def.SegmentTTL
	}
	if cfg.PlaylistMaxAge <= 0 {
		cfg.PlaylistMaxAge = def.PlaylistMaxAge
	}
	if cfg.SegmentMaxAge <= 0 {
		cfg.SegmentMaxAge = def.SegmentMaxAge
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = def.MaxCacheEntries
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = def.UpstreamTimeout
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = def.MaxPayloadSize
	}
	if cfg.UpstreamRateLimit < 0 {
		cfg.UpstreamRateLimit = 0
	}
	if cfg.PrefetchWorkers <= 0 {
		cfg.PrefetchWorkers = def.PrefetchWorkers
	}
	if cfg.PrefetchSegments <= 0 {
		cfg.PrefetchSegments = def.PrefetchSegments
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	compress := true
	example := ConfigFile{
		ListenAddr:        ":8080",
		ProxyPath:         "/proxy",
		FallbackReferer:   "https://example.com/",
		UserAgent:         DefaultUserAgent,
		PlaylistTTL:       "10m",
		SegmentTTL:        "1h",
		PlaylistMaxAge:    "10m",
		SegmentMaxAge:     "8760h",
		MaxCacheEntries:   1000,
		UpstreamTimeout:   "15s",
		MaxPayloadSize:    64,
		UpstreamRateLimit: 50,
		PrefetchEnabled:   true,
		PrefetchWorkers:   4,
		PrefetchSegments:  3,
		CompressPlaylists: &compress,
		LogLevel:          "INFO",
		ObfuscateUrls:     true,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
