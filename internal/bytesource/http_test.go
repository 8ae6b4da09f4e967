package bytesource

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzwannasleep/WebPlayer/internal/config"
)

func testCfg() config.HTTPSourceConfig {
	return config.HTTPSourceConfig{
		Timeout:       2 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 10 * time.Millisecond,
		BackoffFactor: 2.0,
		UserAgent:     "test",
	}
}

func TestHTTPSource_RangeReads(t *testing.T) {
	payload := []byte("0123456789abcdefghij")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	src, err := Open(context.Background(), srv.URL, testCfg(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), src.Size())
	assert.True(t, src.rangeReads)

	sl := src.Slice(3, 8)
	got, err := sl.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload[3:8], got)
}

func TestHTTPSource_FallbackWithoutRangeSupport(t *testing.T) {
	payload := []byte("no range support here, full body only")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore Range header entirely: always 200 + full body.
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	src, err := Open(context.Background(), srv.URL, testCfg(), nil)
	require.NoError(t, err)
	assert.False(t, src.rangeReads)
	assert.Equal(t, int64(len(payload)), src.Size())

	sl := src.Slice(5, 10)
	got, err := sl.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload[5:10], got)
}

func TestHTTPSource_Abort(t *testing.T) {
	payload := []byte("abcdefghij")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	src, err := Open(context.Background(), srv.URL, testCfg(), nil)
	require.NoError(t, err)

	src.Abort()
	_, err = src.Slice(0, 2).Bytes(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
}

func TestParseContentRangeTotal(t *testing.T) {
	total, ok := parseContentRangeTotal("bytes 0-1/12345")
	require.True(t, ok)
	assert.Equal(t, int64(12345), total)

	_, ok = parseContentRangeTotal("garbage")
	assert.False(t, ok)
}
