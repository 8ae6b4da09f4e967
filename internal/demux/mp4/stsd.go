package mp4

import (
	"encoding/binary"
	"fmt"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
)

// visualEntryFixedSize is the byte count of a VisualSampleEntry's fixed
// fields (after the 8-byte box header): 6 reserved + 2 data-ref index +
// 16 predefined/reserved + width/height + resolution + reserved + frame
// count + compressor name + depth + predefined.
const visualEntryFixedSize = 78

// audioEntryFixedSize covers an AudioSampleEntry's fixed fields: 6
// reserved + 2 data-ref index + 8 version/revision/vendor + channel count
// + sample size + predefined + reserved + 16.16 sample rate.
const audioEntryFixedSize = 28

// sampleEntry is one parsed stsd entry: its four-char format, the
// visual/audio fixed fields, and the payloads of its child boxes keyed by
// box type.
type sampleEntry struct {
	format     string
	width      int
	height     int
	sampleRate int
	channels   int
	children   map[string][]byte
}

var visualFormats = map[string]bool{
	"avc1": true, "avc3": true, "hvc1": true, "hev1": true, "vp09": true, "av01": true,
}

var audioFormats = map[string]bool{
	"mp4a": true, "Opus": true, "fLaC": true,
}

// parseStsd parses a raw stsd box payload (full-box header included) into
// its sample entries. Entries with unrecognized formats are returned with
// empty children so the caller can reject the track.
func parseStsd(payload []byte) ([]sampleEntry, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("mp4: stsd too short (%d bytes)", len(payload))
	}
	count := binary.BigEndian.Uint32(payload[4:8])
	data := payload[8:]

	var entries []sampleEntry
	for i := uint32(0); i < count && len(data) >= 8; i++ {
		size := int(binary.BigEndian.Uint32(data[0:4]))
		if size < 8 || size > len(data) {
			return nil, fmt.Errorf("mp4: stsd entry size %d out of bounds", size)
		}
		entry := sampleEntry{
			format:   string(data[4:8]),
			children: map[string][]byte{},
		}
		body := data[8:size]

		switch {
		case visualFormats[entry.format]:
			if len(body) < visualEntryFixedSize {
				return nil, fmt.Errorf("mp4: visual sample entry truncated")
			}
			entry.width = int(binary.BigEndian.Uint16(body[24:26]))
			entry.height = int(binary.BigEndian.Uint16(body[26:28]))
			parseEntryChildren(body[visualEntryFixedSize:], entry.children)
		case audioFormats[entry.format]:
			if len(body) < audioEntryFixedSize {
				return nil, fmt.Errorf("mp4: audio sample entry truncated")
			}
			entry.channels = int(binary.BigEndian.Uint16(body[16:18]))
			entry.sampleRate = int(binary.BigEndian.Uint32(body[24:28]) >> 16)
			parseEntryChildren(body[audioEntryFixedSize:], entry.children)
		}
		entries = append(entries, entry)
		data = data[size:]
	}
	return entries, nil
}

// parseEntryChildren walks the child boxes of a sample entry, collecting
// each child's payload by box type. Malformed trailing bytes are ignored
// rather than failing the whole entry.
func parseEntryChildren(data []byte, out map[string][]byte) {
	for len(data) >= 8 {
		size := int(binary.BigEndian.Uint32(data[0:4]))
		if size < 8 || size > len(data) {
			return
		}
		boxType := string(data[4:8])
		out[boxType] = data[8:size]
		data = data[size:]
	}
}

// describeEntry maps a parsed sample entry to its codec string and
// codec-private description, per the description-selection priority
// avcC/hvcC/vpcC/av1C for video and esds/dOps/dfLa for audio.
func describeEntry(entry sampleEntry) (kind media.TrackKind, codec string, private []byte, err error) {
	switch entry.format {
	case "avc1", "avc3":
		record, ok := entry.children[boxAvcC]
		if !ok {
			return 0, "", nil, fmt.Errorf("mp4: %s entry has no avcC", entry.format)
		}
		codec, err = avcCodecString(record)
		return media.TrackVideo, codec, record, err
	case "hvc1", "hev1":
		record, ok := entry.children[boxHvcC]
		if !ok {
			return 0, "", nil, fmt.Errorf("mp4: %s entry has no hvcC", entry.format)
		}
		codec, err = hevcCodecString(record)
		return media.TrackVideo, codec, record, err
	case "vp09":
		payload, ok := entry.children[boxVpcC]
		if !ok || len(payload) < 4 {
			return 0, "", nil, fmt.Errorf("mp4: vp09 entry has no vpcC")
		}
		// vpcC is a full box; the record follows the version/flags word.
		record := payload[4:]
		return media.TrackVideo, vp9CodecString(record), record, nil
	case "av01":
		record, ok := entry.children[boxAv1C]
		if !ok {
			return 0, "", nil, fmt.Errorf("mp4: av01 entry has no av1C")
		}
		codec, err = av1CodecString(record)
		return media.TrackVideo, codec, record, err
	case "mp4a":
		payload, ok := entry.children[boxEsds]
		if !ok {
			return 0, "", nil, fmt.Errorf("mp4: mp4a entry has no esds")
		}
		asc, err := audioSpecificConfigFromEsds(payload)
		if err != nil {
			return 0, "", nil, err
		}
		codec, err = aacCodecString(asc)
		return media.TrackAudio, codec, asc, err
	case "Opus":
		record, ok := entry.children[boxDOps]
		if !ok {
			return 0, "", nil, fmt.Errorf("mp4: Opus entry has no dOps")
		}
		return media.TrackAudio, "opus", record, nil
	case "fLaC":
		record, ok := entry.children[boxDfLa]
		if !ok {
			return 0, "", nil, fmt.Errorf("mp4: fLaC entry has no dfLa")
		}
		return media.TrackAudio, "flac", record, nil
	default:
		return 0, "", nil, fmt.Errorf("mp4: unsupported sample entry %q", entry.format)
	}
}
