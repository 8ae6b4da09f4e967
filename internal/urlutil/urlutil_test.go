package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemoteURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"http", "http://example.com/movie.mp4", true},
		{"https", "https://example.com/movie.mkv", true},
		{"protocol relative", "//example.com/movie.ts", true},
		{"file scheme", "file:///tmp/movie.mp4", false},
		{"bare path", "/tmp/movie.mp4", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRemoteURL(tt.url))
		})
	}
}

func TestGetScheme(t *testing.T) {
	assert.Equal(t, "https", GetScheme("https://example.com/a.mp4"))
	assert.Equal(t, "file", GetScheme("file:///tmp/a.mkv"))
	assert.Equal(t, "", GetScheme("://bad"))
}

func TestPathExtension(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain file", "/media/movie.MP4", "mp4"},
		{"url", "https://example.com/show/episode.mkv", "mkv"},
		{"url with query", "https://example.com/stream.ts?token=abc", "ts"},
		{"url with fragment", "https://example.com/clip.webm#t=10", "webm"},
		{"no extension", "https://example.com/stream", ""},
		{"trailing dot", "movie.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PathExtension(tt.input))
		})
	}
}

func TestFilePathFromURL(t *testing.T) {
	p, err := FilePathFromURL("file:///tmp/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/movie.mp4", p)

	_, err = FilePathFromURL("https://example.com/movie.mp4")
	assert.Error(t, err)

	_, err = FilePathFromURL("file://")
	assert.Error(t, err)
}
