package mkv

import (
	"context"
	"io"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
)

// reader pulls EBML element headers and element payload bytes from a
// ByteSource on demand, buffering at least one element header at a time.
type reader struct {
	src bytesource.ByteSource
}

func newReader(src bytesource.ByteSource) *reader {
	return &reader{src: src}
}

// bytes fetches the half-open range [start,end), clamped to the source
// size.
func (r *reader) bytes(ctx context.Context, start, end int64) ([]byte, error) {
	size := r.src.Size()
	if end > size {
		end = size
	}
	if end <= start {
		return nil, nil
	}
	return r.src.Slice(start, end).Bytes(ctx)
}

// header reads and parses one element ID+size pair at pos. It returns
// io.EOF once pos reaches the end of the source with no further bytes to
// read.
func (r *reader) header(ctx context.Context, pos int64) (elementHeader, error) {
	buf, err := r.bytes(ctx, pos, pos+maxHeaderSpan)
	if err != nil {
		return elementHeader{}, err
	}
	if len(buf) == 0 {
		return elementHeader{}, io.EOF
	}
	return parseElementHeader(buf, pos)
}

// effectiveEnd resolves an element's data end, substituting fallback for
// the EBML "unknown size" sentinel.
func effectiveEnd(hdr elementHeader, fallback int64) int64 {
	if hdr.Unknown {
		return fallback
	}
	return hdr.DataEnd
}

// nextSibling returns the absolute offset immediately following hdr's
// payload, clamped to limit.
func nextSibling(hdr elementHeader, limit int64) int64 {
	end := hdr.DataEnd
	if hdr.Unknown || end > limit {
		end = limit
	}
	if end < hdr.DataStart {
		return limit
	}
	return end
}
