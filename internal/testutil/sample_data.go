// Package testutil provides test utilities: an in-memory byte source and
// container fixture builders used by demuxer and orchestrator tests.
package testutil

import (
	"context"
	"encoding/binary"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
)

// MemSource is a trivial in-memory bytesource.ByteSource.
type MemSource struct {
	Data []byte
}

// MemSlice is the Slice returned by MemSource.
type MemSlice struct {
	data       []byte
	start, end int64
}

func (s *MemSlice) Start() int64 { return s.start }
func (s *MemSlice) End() int64   { return s.end }
func (s *MemSlice) Bytes(context.Context) ([]byte, error) {
	return s.data, nil
}

func (m *MemSource) Size() int64 { return int64(len(m.Data)) }
func (m *MemSource) Abort()      {}
func (m *MemSource) Slice(start, end int64) bytesource.Slice {
	if end > int64(len(m.Data)) {
		end = int64(len(m.Data))
	}
	if start > end {
		start = end
	}
	return &MemSlice{data: m.Data[start:end], start: start, end: end}
}

// Box assembles an ISO-BMFF box: 32-bit size, four-char type, payload.
func Box(boxType string, payload ...[]byte) []byte {
	var body []byte
	for _, p := range payload {
		body = append(body, p...)
	}
	out := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], boxType)
	return append(out, body...)
}

// FullBox assembles a full box: version byte, 24-bit flags, payload.
func FullBox(boxType string, version byte, flags uint32, payload ...[]byte) []byte {
	hdr := []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
	return Box(boxType, append([][]byte{hdr}, payload...)...)
}

// U16 and U32 are big-endian integer helpers for fixture payloads.
func U16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func U32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// MP4Sample is one fixture sample: payload bytes, its stts delta in track
// timescale ticks, and whether it is a sync sample.
type MP4Sample struct {
	Bytes         []byte
	DurationTicks uint32
	Sync          bool
}

// MP4TrackSpec describes one fixture track. All samples land in a single
// chunk, so the chunk offset table has one entry per track.
type MP4TrackSpec struct {
	Handler     string // "vide" or "soun"
	EntryFormat string // "avc1", "mp4a", ...
	ChildType   string // "avcC", "esds", ...
	ChildBytes  []byte
	Width       int
	Height      int
	SampleRate  int
	Channels    int
	Timescale   uint32
	Samples     []MP4Sample
}

// BuildMP4 assembles a minimal but structurally valid progressive MP4:
// ftyp, one mdat holding every track's samples (one contiguous chunk per
// track), then moov with a trak per track spec.
func BuildMP4(tracks ...MP4TrackSpec) []byte {
	ftyp := Box("ftyp", []byte("isom"), U32(0x200), []byte("isomiso2avc1mp41"))

	var mdatBody []byte
	chunkOffsets := make([]uint32, len(tracks))
	for i, tr := range tracks {
		chunkOffsets[i] = uint32(len(ftyp) + 8 + len(mdatBody))
		for _, s := range tr.Samples {
			mdatBody = append(mdatBody, s.Bytes...)
		}
	}
	mdat := Box("mdat", mdatBody)

	var traks []byte
	for i, tr := range tracks {
		traks = append(traks, buildTrak(tr, chunkOffsets[i])...)
	}
	moov := Box("moov", traks)

	out := append([]byte{}, ftyp...)
	out = append(out, mdat...)
	return append(out, moov...)
}

func buildTrak(tr MP4TrackSpec, chunkOffset uint32) []byte {
	mdhd := FullBox("mdhd", 0, 0,
		U32(0), U32(0), // creation, modification
		U32(tr.Timescale),
		U32(0),       // duration
		U16(0x55C4), // language "und"
		U16(0),
	)
	hdlr := FullBox("hdlr", 0, 0,
		U32(0),
		[]byte(tr.Handler),
		make([]byte, 12),
		[]byte{0},
	)

	entry := buildSampleEntry(tr)
	stsd := FullBox("stsd", 0, 0, U32(1), entry)

	var stts []byte
	stts = append(stts, U32(uint32(len(tr.Samples)))...)
	for _, s := range tr.Samples {
		stts = append(stts, U32(1)...)
		stts = append(stts, U32(s.DurationTicks)...)
	}
	sttsBox := FullBox("stts", 0, 0, stts)

	stscBox := FullBox("stsc", 0, 0, U32(1), U32(1), U32(uint32(len(tr.Samples))), U32(1))

	var sizes []byte
	sizes = append(sizes, U32(0)...) // sample_size: per-sample sizes follow
	sizes = append(sizes, U32(uint32(len(tr.Samples)))...)
	for _, s := range tr.Samples {
		sizes = append(sizes, U32(uint32(len(s.Bytes)))...)
	}
	stszBox := FullBox("stsz", 0, 0, sizes)

	stcoBox := FullBox("stco", 0, 0, U32(1), U32(chunkOffset))

	stblChildren := [][]byte{stsd, sttsBox, stscBox, stszBox, stcoBox}
	if tr.Handler == "vide" {
		var syncs []uint32
		for i, s := range tr.Samples {
			if s.Sync {
				syncs = append(syncs, uint32(i+1))
			}
		}
		if len(syncs) < len(tr.Samples) {
			var stss []byte
			stss = append(stss, U32(uint32(len(syncs)))...)
			for _, n := range syncs {
				stss = append(stss, U32(n)...)
			}
			stblChildren = append(stblChildren, FullBox("stss", 0, 0, stss))
		}
	}
	stbl := Box("stbl", stblChildren...)
	minf := Box("minf", stbl)
	mdia := Box("mdia", mdhd, hdlr, minf)
	return Box("trak", mdia)
}

func buildSampleEntry(tr MP4TrackSpec) []byte {
	child := Box(tr.ChildType, tr.ChildBytes)
	if tr.Handler == "vide" {
		body := make([]byte, 0, 78)
		body = append(body, make([]byte, 6)...) // reserved
		body = append(body, U16(1)...)          // data reference index
		body = append(body, make([]byte, 16)...)
		body = append(body, U16(uint16(tr.Width))...)
		body = append(body, U16(uint16(tr.Height))...)
		body = append(body, U32(0x00480000)...) // horiz dpi
		body = append(body, U32(0x00480000)...) // vert dpi
		body = append(body, U32(0)...)
		body = append(body, U16(1)...) // frame count
		body = append(body, make([]byte, 32)...)
		body = append(body, U16(0x0018)...) // depth
		body = append(body, U16(0xFFFF)...)
		return Box(tr.EntryFormat, body, child)
	}
	body := make([]byte, 0, 28)
	body = append(body, make([]byte, 6)...) // reserved
	body = append(body, U16(1)...)          // data reference index
	body = append(body, make([]byte, 8)...) // version/revision/vendor
	body = append(body, U16(uint16(tr.Channels))...)
	body = append(body, U16(16)...) // sample size
	body = append(body, make([]byte, 4)...)
	body = append(body, U32(uint32(tr.SampleRate)<<16)...) // 16.16
	return Box(tr.EntryFormat, body, child)
}

// BuildEsds wraps an AudioSpecificConfig in a complete esds box payload:
// the full-box version/flags word followed by the descriptor chain
// (ES_Descriptor → DecoderConfigDescriptor → DecSpecificInfo), single-byte
// descriptor sizes throughout.
func BuildEsds(asc []byte) []byte {
	dsi := append([]byte{0x05, byte(len(asc))}, asc...)
	dcd := []byte{0x04, byte(13 + len(dsi)), 0x40, 0x15}
	dcd = append(dcd, make([]byte, 11)...)
	dcd = append(dcd, dsi...)
	es := []byte{0x03, byte(3 + len(dcd)), 0x00, 0x01, 0x00}
	es = append(es, dcd...)
	return append([]byte{0, 0, 0, 0}, es...)
}

// TSPacket assembles a 188-byte transport packet with the given PID,
// payload_unit_start flag and payload, padded with 0xFF.
func TSPacket(pid int, payloadUnitStart bool, payload []byte) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = byte(pid >> 8 & 0x1F)
	if payloadUnitStart {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 // payload only
	n := copy(pkt[4:], payload)
	for i := 4 + n; i < 188; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}
