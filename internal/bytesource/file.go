package bytesource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/zzzwannasleep/WebPlayer/internal/observability"
)

// FileSource is a ByteSource backed by a local file opened for random
// access.
type FileSource struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	aborted atomic.Bool
	logger  *slog.Logger
}

// OpenFile opens path and returns a FileSource over its full contents.
func OpenFile(path string, logger *slog.Logger) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bytesource: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bytesource: stat %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		f:      f,
		size:   info.Size(),
		logger: observability.WithComponent(logger, "bytesource.file"),
	}, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Slice(start, end int64) Slice {
	return &byteSlice{
		start: start,
		end:   end,
		fn: func(_ context.Context) ([]byte, error) {
			if s.aborted.Load() {
				return nil, ErrAborted
			}
			if start < 0 || end > s.size || start > end {
				return nil, fmt.Errorf("bytesource: invalid range [%d,%d) over size %d", start, end, s.size)
			}
			buf := make([]byte, end-start)

			s.mu.Lock()
			defer s.mu.Unlock()
			if s.aborted.Load() {
				return nil, ErrAborted
			}
			n, err := s.f.ReadAt(buf, start)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("bytesource: read: %w", err)
			}
			return buf[:n], nil
		},
	}
}

func (s *FileSource) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.logger.Debug("file source aborted")
	}
}

// Close releases the underlying file handle.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
