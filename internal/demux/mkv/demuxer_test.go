package mkv

import (
	"context"
	"testing"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
)

type memSource struct{ data []byte }

type memSlice struct {
	data       []byte
	start, end int64
}

func (s *memSlice) Start() int64                                  { return s.start }
func (s *memSlice) End() int64                                    { return s.end }
func (s *memSlice) Bytes(context.Context) ([]byte, error)         { return s.data, nil }
func (m *memSource) Size() int64                                  { return int64(len(m.data)) }
func (m *memSource) Abort()                                       {}
func (m *memSource) Slice(start, end int64) bytesource.Slice {
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	return &memSlice{data: m.data[start:end], start: start, end: end}
}

// idBytes returns id's minimal big-endian representation, which (for every
// well-known ID in this package) is also its correct EBML byte width.
func idBytes(id uint32) []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		return []byte{byte(id >> 8), byte(id)}
	case id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	}
}

// vintSize encodes value as an EBML size VINT of the given byte length.
func vintSize(value uint64, length int) []byte {
	buf := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		buf[i] = byte(value)
		value >>= 8
	}
	buf[0] |= byte(0x80) >> uint(length-1)
	return buf
}

// elem builds an EBML element with an 8-byte size field (always valid,
// regardless of payload length, which keeps fixture construction simple).
func elem(id uint32, data []byte) []byte {
	out := append([]byte{}, idBytes(id)...)
	out = append(out, vintSize(uint64(len(data)), 8)...)
	out = append(out, data...)
	return out
}

func uintBytes(v uint64) []byte {
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	return b
}

// TestDemuxer_ScenarioFour builds the exact Segment/Cluster/SimpleBlock
// fixture (TimecodeScale 1e6, Cluster Timecode 1000, SimpleBlock at
// relative timecode 42) and verifies the emitted
// video chunk's timestamp.
func TestDemuxer_ScenarioFour(t *testing.T) {
	cp := []byte{0x01, 0x42, 0xC0, 0x1E, 0xFF, 0xE1, 0x00, 0x00}

	trackEntryData := append([]byte{}, elem(idTrackNumber, []byte{0x01})...)
	trackEntryData = append(trackEntryData, elem(idTrackType, []byte{0x01})...)
	trackEntryData = append(trackEntryData, elem(idCodecID, []byte("V_MPEG4/ISO/AVC"))...)
	trackEntryData = append(trackEntryData, elem(idCodecPrivate, cp)...)
	videoData := append([]byte{}, elem(idPixelWidth, uintBytes(1920))...)
	videoData = append(videoData, elem(idPixelHeight, uintBytes(1080))...)
	trackEntryData = append(trackEntryData, elem(idVideo, videoData)...)
	tracksElem := elem(idTracks, elem(idTrackEntry, trackEntryData))

	infoElem := elem(idInfo, elem(idTimecodeScale, uintBytes(1_000_000)))

	simpleBlockData := []byte{0x81, 0x00, 0x2A, 0x80} // track=1, rel_tc=42, flags=keyframe
	simpleBlockData = append(simpleBlockData, 0xDE, 0xAD, 0xBE, 0xEF)
	clusterData := append([]byte{}, elem(idTimecode, uintBytes(1000))...)
	clusterData = append(clusterData, elem(idSimpleBlock, simpleBlockData)...)
	clusterElem := elem(idCluster, clusterData)

	segmentData := append([]byte{}, infoElem...)
	segmentData = append(segmentData, tracksElem...)
	segmentData = append(segmentData, clusterElem...)
	segmentElem := elem(idSegment, segmentData)

	stream := append([]byte{}, elem(idEBML, nil)...)
	stream = append(stream, segmentElem...)

	src := &memSource{data: stream}
	d := New(src, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tracks := d.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("len(tracks) = %d, want 1", len(tracks))
	}
	track := tracks[0]
	if track.Kind != media.TrackVideo {
		t.Fatalf("Kind = %v, want video", track.Kind)
	}
	if track.Codec != "avc1.42C01E" {
		t.Fatalf("Codec = %q, want avc1.42C01E", track.Codec)
	}
	if track.Width != 1920 || track.Height != 1080 {
		t.Fatalf("dims = %dx%d, want 1920x1080", track.Width, track.Height)
	}

	var got []media.EncodedVideoChunk
	if err := d.SelectVideoTrack(track.ID, func(c media.EncodedVideoChunk) {
		got = append(got, c)
	}); err != nil {
		t.Fatalf("SelectVideoTrack: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	c := got[0]
	if c.TimestampUs != 1_042_000 {
		t.Fatalf("TimestampUs = %d, want 1042000", c.TimestampUs)
	}
	if c.DurationUs != 0 {
		t.Fatalf("DurationUs = %d, want 0 (single sample, EOS flush)", c.DurationUs)
	}
	if c.Kind != media.ChunkKey {
		t.Fatalf("Kind = %v, want key", c.Kind)
	}
}

// TestDemuxer_SkipsLacedVideoBlocks feeds a Cluster holding one Xiph-laced
// video SimpleBlock and one plain one: the laced block is discarded and
// counted, the plain block still comes through.
func TestDemuxer_SkipsLacedVideoBlocks(t *testing.T) {
	cp := []byte{0x01, 0x42, 0xC0, 0x1E, 0xFF, 0xE1, 0x00, 0x00}

	trackEntryData := append([]byte{}, elem(idTrackNumber, []byte{0x01})...)
	trackEntryData = append(trackEntryData, elem(idTrackType, []byte{0x01})...)
	trackEntryData = append(trackEntryData, elem(idCodecID, []byte("V_MPEG4/ISO/AVC"))...)
	trackEntryData = append(trackEntryData, elem(idCodecPrivate, cp)...)
	tracksElem := elem(idTracks, elem(idTrackEntry, trackEntryData))

	// Xiph lacing: flags bits 1-2 = 01. Payload content past the flags
	// byte is irrelevant, since laced video blocks are dropped unparsed.
	lacedBlock := []byte{0x81, 0x00, 0x00, 0x82, 0x01, 0x04, 0xAA, 0xBB}
	plainBlock := []byte{0x81, 0x00, 0x10, 0x80, 0xDE, 0xAD}
	clusterData := append([]byte{}, elem(idTimecode, uintBytes(0))...)
	clusterData = append(clusterData, elem(idSimpleBlock, lacedBlock)...)
	clusterData = append(clusterData, elem(idSimpleBlock, plainBlock)...)
	clusterElem := elem(idCluster, clusterData)

	segmentData := append([]byte{}, elem(idInfo, elem(idTimecodeScale, uintBytes(1_000_000)))...)
	segmentData = append(segmentData, tracksElem...)
	segmentData = append(segmentData, clusterElem...)
	stream := append([]byte{}, elem(idEBML, nil)...)
	stream = append(stream, elem(idSegment, segmentData)...)

	d := New(&memSource{data: stream}, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var got []media.EncodedVideoChunk
	if err := d.SelectVideoTrack(1, func(c media.EncodedVideoChunk) {
		got = append(got, c)
	}); err != nil {
		t.Fatalf("SelectVideoTrack: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n := d.SkippedLacedVideoBlocks(); n != 1 {
		t.Fatalf("SkippedLacedVideoBlocks = %d, want 1", n)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (only the plain block)", len(got))
	}
	if got[0].TimestampUs != 16_000 {
		t.Fatalf("TimestampUs = %d, want 16000", got[0].TimestampUs)
	}
}

func TestRoundDivI(t *testing.T) {
	if got := roundDivI(1042*1_000_000, 1000); got != 1_042_000 {
		t.Fatalf("roundDivI = %d, want 1042000", got)
	}
}
