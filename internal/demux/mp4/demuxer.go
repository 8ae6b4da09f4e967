// Package mp4 implements the ISO-BMFF demuxer: a box walk over the byte
// source builds per-track sample tables once, then a lazy extraction loop
// pulls one sample's bytes per slice and emits encoded chunks in
// timestamp order.
package mp4

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gomp4 "github.com/abema/go-mp4"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/observability"
)

// trackAccum collects one trak's boxes during the walk; Open resolves it
// into a TrackDescriptor plus a sample table afterwards.
type trackAccum struct {
	handler   [4]byte
	timescale uint32
	raw       rawTrack
	stsdStart int64
	stsdEnd   int64
}

// Demuxer is the ISO-BMFF (MP4) demuxer.
type Demuxer struct {
	src    bytesource.ByteSource
	logger *slog.Logger

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
	stopped  bool

	tracks  []media.TrackDescriptor
	samples map[int][]sample

	// emitted tracks the cumulative per-track emitted-sample count, so a
	// paused-and-resumed extraction continues from the same index instead
	// of re-delivering from the head.
	emitted map[int]int

	selectedVideoID int
	selectedAudioID int
	videoCB         media.VideoSampleFunc
	audioCB         media.AudioSampleFunc
}

// New returns an MP4 demuxer pulling from src.
func New(src bytesource.ByteSource, logger *slog.Logger) *Demuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demuxer{
		src:      src,
		logger:   observability.WithComponent(logger, "demux.mp4"),
		resumeCh: make(chan struct{}),
		samples:  make(map[int][]sample),
		emitted:  make(map[int]int),
	}
}

// Open walks the box structure, building the sample table for every trak,
// then resolves each track's sample description into a TrackDescriptor.
func (d *Demuxer) Open(ctx context.Context) error {
	var accums []*trackAccum
	var cur *trackAccum

	rs := newSourceReader(ctx, d.src)
	_, err := gomp4.ReadBoxStructure(rs, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl():
			return h.Expand()

		case gomp4.BoxTypeTrak():
			cur = &trackAccum{}
			accums = append(accums, cur)
			return h.Expand()

		case gomp4.BoxTypeMdhd():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if mdhd, ok := box.(*gomp4.Mdhd); ok {
				cur.timescale = mdhd.Timescale
				cur.raw.timescale = mdhd.Timescale
			}

		case gomp4.BoxTypeHdlr():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if hdlr, ok := box.(*gomp4.Hdlr); ok {
				cur.handler = hdlr.HandlerType
			}

		case gomp4.BoxTypeStsd():
			if cur == nil {
				return nil, nil
			}
			cur.stsdStart = int64(h.BoxInfo.Offset + h.BoxInfo.HeaderSize)
			cur.stsdEnd = int64(h.BoxInfo.Offset + h.BoxInfo.Size)

		case gomp4.BoxTypeStts():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stts, ok := box.(*gomp4.Stts); ok {
				for _, e := range stts.Entries {
					cur.raw.stts = append(cur.raw.stts, sttsEntry{count: e.SampleCount, delta: e.SampleDelta})
				}
			}

		case gomp4.BoxTypeCtts():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if ctts, ok := box.(*gomp4.Ctts); ok {
				for _, e := range ctts.Entries {
					offset := int64(e.SampleOffsetV0)
					if ctts.GetVersion() == 1 {
						offset = int64(e.SampleOffsetV1)
					}
					cur.raw.ctts = append(cur.raw.ctts, cttsEntry{count: e.SampleCount, offset: offset})
				}
			}

		case gomp4.BoxTypeStsc():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stsc, ok := box.(*gomp4.Stsc); ok {
				for _, e := range stsc.Entries {
					cur.raw.stsc = append(cur.raw.stsc, stscEntry{firstChunk: e.FirstChunk, samplesPerChunk: e.SamplesPerChunk})
				}
			}

		case gomp4.BoxTypeStsz():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stsz, ok := box.(*gomp4.Stsz); ok {
				if stsz.SampleSize != 0 {
					for i := uint32(0); i < stsz.SampleCount; i++ {
						cur.raw.sizes = append(cur.raw.sizes, stsz.SampleSize)
					}
				} else {
					cur.raw.sizes = stsz.EntrySize
				}
			}

		case gomp4.BoxTypeStco():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stco, ok := box.(*gomp4.Stco); ok {
				for _, off := range stco.ChunkOffset {
					cur.raw.chunkOffsets = append(cur.raw.chunkOffsets, uint64(off))
				}
			}

		case gomp4.BoxTypeCo64():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if co64, ok := box.(*gomp4.Co64); ok {
				cur.raw.chunkOffsets = co64.ChunkOffset
			}

		case gomp4.BoxTypeStss():
			if cur == nil {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stss, ok := box.(*gomp4.Stss); ok {
				cur.raw.syncSamples = stss.SampleNumber
				cur.raw.hasStss = true
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("mp4: walking box structure: %w", err)
	}

	for i, acc := range accums {
		td, tbl, err := d.resolveTrack(ctx, i+1, acc)
		if err != nil {
			d.logger.Debug("skipping track", slog.Int("track", i+1), slog.String("error", err.Error()))
			continue
		}
		d.tracks = append(d.tracks, td)
		d.samples[td.ID] = tbl
	}
	if len(d.tracks) == 0 {
		return fmt.Errorf("mp4: no supported tracks")
	}
	d.logger.Debug("container opened", slog.Int("track_count", len(d.tracks)))
	return nil
}

// resolveTrack turns an accumulated trak into a descriptor plus sample
// table. Tracks with unsupported handlers or sample entries are skipped.
func (d *Demuxer) resolveTrack(ctx context.Context, id int, acc *trackAccum) (media.TrackDescriptor, []sample, error) {
	var td media.TrackDescriptor
	switch acc.handler {
	case [4]byte{'v', 'i', 'd', 'e'}, [4]byte{'s', 'o', 'u', 'n'}:
	default:
		return td, nil, fmt.Errorf("unsupported handler %q", acc.handler[:])
	}
	if acc.stsdEnd <= acc.stsdStart {
		return td, nil, fmt.Errorf("no stsd box")
	}

	stsdBytes, err := d.src.Slice(acc.stsdStart, acc.stsdEnd).Bytes(ctx)
	if err != nil {
		return td, nil, fmt.Errorf("reading stsd: %w", err)
	}
	entries, err := parseStsd(stsdBytes)
	if err != nil {
		return td, nil, err
	}
	if len(entries) == 0 {
		return td, nil, fmt.Errorf("empty stsd")
	}
	entry := entries[0]
	kind, codec, private, err := describeEntry(entry)
	if err != nil {
		return td, nil, err
	}

	tbl, err := buildSamples(acc.raw)
	if err != nil {
		return td, nil, err
	}

	td = media.TrackDescriptor{
		ID:           id,
		Kind:         kind,
		Codec:        codec,
		CodecPrivate: private,
		Width:        entry.width,
		Height:       entry.height,
		SampleRate:   entry.sampleRate,
		Channels:     entry.channels,
	}
	if len(acc.raw.stts) == 1 {
		td.DefaultDurationUs = roundDiv(int64(acc.raw.stts[0].delta)*1_000_000, int64(acc.raw.timescale))
	}
	return td, tbl, nil
}

// Tracks implements media.Demuxer.
func (d *Demuxer) Tracks() []media.TrackDescriptor { return d.tracks }

func (d *Demuxer) hasTrack(trackID int, kind media.TrackKind) bool {
	for _, t := range d.tracks {
		if t.ID == trackID && t.Kind == kind {
			return true
		}
	}
	return false
}

// SelectVideoTrack implements media.Demuxer.
func (d *Demuxer) SelectVideoTrack(trackID int, fn media.VideoSampleFunc) error {
	if !d.hasTrack(trackID, media.TrackVideo) {
		return fmt.Errorf("mp4: unknown video track %d", trackID)
	}
	d.selectedVideoID = trackID
	d.videoCB = fn
	return nil
}

// SelectAudioTrack implements media.Demuxer.
func (d *Demuxer) SelectAudioTrack(trackID int, fn media.AudioSampleFunc) error {
	if !d.hasTrack(trackID, media.TrackAudio) {
		return fmt.Errorf("mp4: unknown audio track %d", trackID)
	}
	d.selectedAudioID = trackID
	d.audioCB = fn
	return nil
}

// SelectSubtitleTrack implements media.Demuxer. Subtitle extraction is an
// MKV concern; MP4 text tracks are not handled.
func (d *Demuxer) SelectSubtitleTrack(int, media.SubtitleCueFunc) error {
	return fmt.Errorf("mp4: no subtitle tracks")
}

// Start pulls sample bytes lazily (one slice per sample) and emits chunks
// for every selected track, interleaved in timestamp order. Extraction
// ends when each selected track's cumulative emitted count reaches its
// sample count.
func (d *Demuxer) Start(ctx context.Context) error {
	type cursor struct {
		trackID int
		video   bool
		table   []sample
	}
	var cursors []*cursor
	if d.videoCB != nil && d.selectedVideoID != 0 {
		cursors = append(cursors, &cursor{trackID: d.selectedVideoID, video: true, table: d.samples[d.selectedVideoID]})
	}
	if d.audioCB != nil && d.selectedAudioID != 0 {
		cursors = append(cursors, &cursor{trackID: d.selectedAudioID, table: d.samples[d.selectedAudioID]})
	}

	for {
		d.mu.Lock()
		stopped := d.stopped
		paused := d.paused
		resumeCh := d.resumeCh
		d.mu.Unlock()
		if stopped {
			return nil
		}
		if paused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-resumeCh:
				continue
			}
		}

		var next *cursor
		for _, c := range cursors {
			idx := d.emitted[c.trackID]
			if idx >= len(c.table) {
				continue
			}
			if next == nil || c.table[idx].timestampUs < next.table[d.emitted[next.trackID]].timestampUs {
				next = c
			}
		}
		if next == nil {
			return nil
		}

		idx := d.emitted[next.trackID]
		s := next.table[idx]
		payload, err := d.src.Slice(s.offset, s.offset+s.size).Bytes(ctx)
		if err != nil {
			return fmt.Errorf("mp4: reading sample %d of track %d: %w", idx, next.trackID, err)
		}
		d.emitted[next.trackID] = idx + 1

		if next.video {
			kind := media.ChunkDelta
			if s.sync {
				kind = media.ChunkKey
			}
			d.videoCB(media.EncodedVideoChunk{
				TrackID:     next.trackID,
				Kind:        kind,
				TimestampUs: s.timestampUs,
				DurationUs:  s.durationUs,
				Bytes:       payload,
			})
		} else {
			d.audioCB(media.EncodedAudioChunk{
				TrackID:     next.trackID,
				TimestampUs: s.timestampUs,
				DurationUs:  s.durationUs,
				Bytes:       payload,
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Pause implements media.Demuxer: the extraction loop stops advancing the
// sample index at the next sample boundary.
func (d *Demuxer) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume implements media.Demuxer.
func (d *Demuxer) Resume() {
	d.mu.Lock()
	if d.paused {
		d.paused = false
		close(d.resumeCh)
		d.resumeCh = make(chan struct{})
	}
	d.mu.Unlock()
}

// Close implements media.Demuxer.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		if d.paused {
			close(d.resumeCh)
		}
	}
	d.mu.Unlock()
	d.src.Abort()
	return nil
}
