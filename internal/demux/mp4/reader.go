package mp4

import (
	"context"
	"fmt"
	"io"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
)

// maxPullBytes caps how much a single Read pulls from the byte source, so
// the box walker's read loop issues bounded slice requests.
const maxPullBytes = 1 << 20

// sourceReader adapts a bytesource.ByteSource to the io.ReadSeeker the box
// walker consumes. Each Read fetches at most maxPullBytes starting at the
// current position; Seek just moves the position, so the walker's skips
// over mdat never pull payload bytes.
type sourceReader struct {
	ctx context.Context
	src bytesource.ByteSource
	pos int64
}

func newSourceReader(ctx context.Context, src bytesource.ByteSource) *sourceReader {
	return &sourceReader{ctx: ctx, src: src}
}

func (r *sourceReader) Read(p []byte) (int, error) {
	size := r.src.Size()
	if r.pos >= size {
		return 0, io.EOF
	}
	end := r.pos + int64(len(p))
	if end > r.pos+maxPullBytes {
		end = r.pos + maxPullBytes
	}
	if end > size {
		end = size
	}
	data, err := r.src.Slice(r.pos, end).Bytes(r.ctx)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	r.pos += int64(n)
	return n, nil
}

func (r *sourceReader) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		next = r.src.Size() + offset
	default:
		return 0, fmt.Errorf("mp4: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("mp4: seek to negative offset %d", next)
	}
	r.pos = next
	return next, nil
}
