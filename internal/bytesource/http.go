package bytesource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zzzwannasleep/WebPlayer/internal/config"
	"github.com/zzzwannasleep/WebPlayer/internal/observability"
)

// HTTPSource is a ByteSource over an HTTP resource. It first probes the
// resource with a "Range: bytes=0-1" request: a 206 response with a
// Content-Range total, or a 200 response carrying "Accept-Ranges: bytes"
// and a usable length header, unlocks true range reads; any other outcome
// falls back to a single whole-resource fetch cached in memory.
type HTTPSource struct {
	url    string
	client *http.Client
	cfg    config.HTTPSourceConfig
	logger *slog.Logger

	size        int64
	rangeReads  bool
	aborted     atomic.Bool

	mu        sync.Mutex
	wholeBody []byte // populated lazily in degraded mode

	group singleflight.Group
}

// Open probes url and returns a ready HTTPSource. The context governs the
// probe request only; subsequent Slice calls take their own context.
func Open(ctx context.Context, url string, cfg config.HTTPSourceConfig, logger *slog.Logger) (*HTTPSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: observability.WithComponent(logger, "bytesource.http"),
	}

	if err := s.probe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HTTPSource) probe(ctx context.Context) error {
	if s.cfg.DisableRangeProbe {
		return s.probeWholeResource(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("bytesource: building probe request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-1")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		s.logger.Debug("range probe failed, falling back to whole-resource fetch", slog.String("error", err.Error()))
		return s.probeWholeResource(ctx)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		// Drain the two probe bytes so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			s.size = total
			s.rangeReads = true
			s.logger.Debug("HTTP range reads supported", slog.Int64("size", total))
			return nil
		}
	}

	// Some servers answer the probe with 200 but still advertise range
	// support; accept that when a usable length header is present.
	if resp.StatusCode == http.StatusOK && resp.Header.Get("Accept-Ranges") == "bytes" {
		if total, ok := parseLengthHeader(resp.Header); ok {
			s.size = total
			s.rangeReads = true
			s.logger.Debug("HTTP range reads supported via Accept-Ranges", slog.Int64("size", total))
			return nil
		}
	}

	s.logger.Debug("server did not confirm range support, falling back to whole-resource fetch",
		slog.Int("status", resp.StatusCode))
	return s.probeWholeResource(ctx)
}

func (s *HTTPSource) probeWholeResource(ctx context.Context) error {
	body, total, err := s.fetchWholeResource(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.wholeBody = body
	s.mu.Unlock()
	s.size = total
	s.rangeReads = false
	return nil
}

func (s *HTTPSource) fetchWholeResource(ctx context.Context) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("bytesource: building whole-resource request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("bytesource: whole-resource fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("bytesource: whole-resource fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("bytesource: reading whole-resource body: %w", err)
	}
	return body, int64(len(body)), nil
}

func (s *HTTPSource) Size() int64 { return s.size }

func (s *HTTPSource) Slice(start, end int64) Slice {
	return &byteSlice{
		start: start,
		end:   end,
		fn: func(ctx context.Context) ([]byte, error) {
			return s.readRange(ctx, start, end)
		},
	}
}

func (s *HTTPSource) readRange(ctx context.Context, start, end int64) ([]byte, error) {
	if s.aborted.Load() {
		return nil, ErrAborted
	}
	if start < 0 || start > end || (s.size > 0 && end > s.size) {
		return nil, fmt.Errorf("bytesource: invalid range [%d,%d) over size %d", start, end, s.size)
	}

	if !s.rangeReads {
		s.mu.Lock()
		body := s.wholeBody
		s.mu.Unlock()
		if end > int64(len(body)) {
			end = int64(len(body))
		}
		if start > end {
			start = end
		}
		return body[start:end], nil
	}

	key := fmt.Sprintf("%d-%d", start, end)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.fetchRange(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *HTTPSource) fetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	if s.aborted.Load() {
		return nil, ErrAborted
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("bytesource: building range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bytesource: range read [%d,%d): %w", start, end, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bytesource: range read [%d,%d) returned status %d", start, end, resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bytesource: reading range body: %w", err)
	}
	return buf, nil
}

// doWithRetry executes req, retrying transport errors and 429/5xx
// responses up to RetryAttempts times with exponential backoff capped at
// RetryMaxDelay.
func (s *HTTPSource) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	delay := s.cfg.RetryDelay

	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying HTTP request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", s.url),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * s.cfg.BackoffFactor)
			if delay > s.cfg.RetryMaxDelay {
				delay = s.cfg.RetryMaxDelay
			}
		}

		if s.aborted.Load() {
			return nil, ErrAborted
		}

		resp, err := s.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, fmt.Errorf("max retries exceeded")
}

func (s *HTTPSource) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.logger.Debug("http source aborted")
	}
}

// parseLengthHeader reads the resource length from Content-Length or the
// X-Content-Length header some proxies substitute.
func parseLengthHeader(h http.Header) (int64, bool) {
	for _, key := range []string{"Content-Length", "X-Content-Length"} {
		if v := h.Get(key); v != "" {
			if total, err := strconv.ParseInt(v, 10, 64); err == nil && total > 0 {
				return total, true
			}
		}
	}
	return 0, false
}

// parseContentRangeTotal parses "bytes 0-1/12345" and returns 12345.
func parseContentRangeTotal(v string) (int64, bool) {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 || idx == len(v)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}
