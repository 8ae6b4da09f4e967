// Package bytesource implements the abstract random-access ByteSource a
// demuxer pulls from, plus the file and HTTP implementations used to back
// it.
package bytesource

import (
	"context"
	"errors"
)

// ErrAborted is returned by Slice/its Bytes() once Abort has been called.
var ErrAborted = errors.New("bytesource: aborted")

// Slice is a requested byte range whose contents are fetched asynchronously
// via Bytes.
type Slice interface {
	// Start and End are the half-open byte range [Start, End) this slice
	// covers.
	Start() int64
	End() int64
	// Bytes blocks until the range has been read, or returns an error if
	// the read failed or the source was aborted.
	Bytes(ctx context.Context) ([]byte, error)
}

// ByteSource is a random-access, read-only view over a sized byte stream.
// Implementations must be safe under concurrent Slice calls, since a
// demuxer issues sequential small reads plus occasional seeks.
type ByteSource interface {
	// Size is the total byte length of the resource. It is constant for
	// the lifetime of the source.
	Size() int64
	// Slice requests the half-open range [start, end). end may not exceed
	// Size().
	Slice(start, end int64) Slice
	// Abort cancels in-flight reads and marks subsequent reads as failing
	// with ErrAborted.
	Abort()
}

// byteSlice is the trivial Slice implementation used by FileSource and
// (after the whole-resource fallback fetch) HTTPSource: the bytes are
// already resident in memory or resolved synchronously.
type byteSlice struct {
	start, end int64
	fn         func(ctx context.Context) ([]byte, error)
}

func (s *byteSlice) Start() int64 { return s.start }
func (s *byteSlice) End() int64   { return s.end }
func (s *byteSlice) Bytes(ctx context.Context) ([]byte, error) {
	return s.fn(ctx)
}
