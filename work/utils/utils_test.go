package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hls-cache-proxy/work/config"
)

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "", ObfuscateURL(""))
	assert.Equal(t, "https://cdn.example/***?***", ObfuscateURL("https://cdn.example/live/index.m3u8?token=abc"))
	assert.Equal(t, "https://cdn.example", ObfuscateURL("https://cdn.example"))
	assert.Equal(t, "***OBFUSCATED***", ObfuscateURL("http://[::1"))
}

func TestLogURL(t *testing.T) {
	raw := "https://cdn.example/seg1.ts"
	assert.Equal(t, raw, LogURL(nil, raw))
	assert.Equal(t, raw, LogURL(&config.Config{}, raw))
	assert.Equal(t, "https://cdn.example/***", LogURL(&config.Config{ObfuscateUrls: true}, raw))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "64.0 MiB", FormatBytes(64<<20))
}
