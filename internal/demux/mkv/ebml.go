// Package mkv implements the hand-rolled streaming EBML/Matroska parser
// over a pulling byte reader: segment discovery, track mapping, and
// Cluster/Block extraction for video, audio, and subtitle (text + PGS)
// tracks.
package mkv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Well-known EBML/Matroska element IDs used by this parser.
const (
	idEBML          uint32 = 0x1A45DFA3
	idSegment        uint32 = 0x18538067
	idInfo           uint32 = 0x1549A966
	idTimecodeScale  uint32 = 0x2AD7B1
	idTracks         uint32 = 0x1654AE6B
	idTrackEntry     uint32 = 0xAE
	idTrackNumber    uint32 = 0xD7
	idTrackType      uint32 = 0x83
	idCodecID        uint32 = 0x86
	idCodecPrivate   uint32 = 0x63A2
	idDefaultDuration uint32 = 0x23E383
	idName           uint32 = 0x536E
	idLanguage       uint32 = 0x22B59C
	idVideo          uint32 = 0xE0
	idAudio          uint32 = 0xE1
	idPixelWidth     uint32 = 0xB0
	idPixelHeight    uint32 = 0xBA
	idSamplingFreq   uint32 = 0xB5
	idChannels       uint32 = 0x9F
	idCluster        uint32 = 0x1F43B675
	idTimecode       uint32 = 0xE7
	idSimpleBlock    uint32 = 0xA3
	idBlockGroup     uint32 = 0xA0
	idBlock          uint32 = 0xA1
	idBlockDuration  uint32 = 0x9B
)

// elementHeader is a parsed EBML element ID + size pair, along with the
// file offsets of its data payload.
type elementHeader struct {
	ID         uint32
	DataStart  int64
	DataEnd    int64 // DataStart + size; may be unknown-size sentinel handled by caller
	Unknown    bool  // size field was the all-ones "unknown size" marker
	HeaderSize int64 // bytes consumed by ID+size fields
}

// readVINT decodes an EBML variable-length integer starting at buf[0].
// If keepMarker is true, the leading length marker bit is kept in the
// returned value (used for element IDs); otherwise it is stripped (used
// for sizes and other VINT-encoded data). It returns the decoded value,
// the number of bytes consumed, and whether the size was the "unknown"
// all-ones marker.
func readVINT(buf []byte, keepMarker bool) (value uint64, length int, unknown bool, err error) {
	if len(buf) == 0 {
		return 0, 0, false, fmt.Errorf("mkv: empty VINT")
	}
	first := buf[0]
	length = 1
	mask := byte(0x80)
	for mask != 0 && first&mask == 0 {
		mask >>= 1
		length++
	}
	if mask == 0 || length > 8 {
		return 0, 0, false, fmt.Errorf("mkv: invalid VINT length marker 0x%02X", first)
	}
	if len(buf) < length {
		return 0, 0, false, fmt.Errorf("mkv: short VINT, need %d bytes", length)
	}

	stripped := uint64(first &^ mask)
	for i := 1; i < length; i++ {
		stripped = stripped<<8 | uint64(buf[i])
	}
	// The "unknown size" sentinel is all data bits set to 1.
	dataBits := uint(length * 7)
	allOnes := uint64(1)<<dataBits - 1
	unknown = stripped == allOnes

	value = stripped
	if keepMarker {
		value = uint64(first)
		for i := 1; i < length; i++ {
			value = value<<8 | uint64(buf[i])
		}
	}
	return value, length, unknown, nil
}

// parseElementHeader reads one EBML element ID and size field from the
// start of buf, and returns it with data offsets relative to
// baseOffset+len(consumed header).
func parseElementHeader(buf []byte, baseOffset int64) (elementHeader, error) {
	idVal, idLen, _, err := readVINT(buf, true)
	if err != nil {
		return elementHeader{}, fmt.Errorf("mkv: reading element ID: %w", err)
	}
	if idLen > 4 {
		return elementHeader{}, fmt.Errorf("mkv: element ID too long (%d bytes)", idLen)
	}
	if len(buf) < idLen {
		return elementHeader{}, fmt.Errorf("mkv: short element ID")
	}

	sizeBuf := buf[idLen:]
	sizeVal, sizeLen, unknown, err := readVINT(sizeBuf, false)
	if err != nil {
		return elementHeader{}, fmt.Errorf("mkv: reading element size: %w", err)
	}

	headerSize := int64(idLen + sizeLen)
	dataStart := baseOffset + headerSize
	dataEnd := dataStart
	if !unknown {
		dataEnd = dataStart + int64(sizeVal)
	}

	return elementHeader{
		ID:         uint32(idVal),
		DataStart:  dataStart,
		DataEnd:    dataEnd,
		Unknown:    unknown,
		HeaderSize: headerSize,
	}, nil
}

// maxHeaderSpan bounds how many bytes of an element header (ID + size,
// each up to 8 bytes) the reader must have buffered before parsing.
const maxHeaderSpan = 16

// uintFromElement interprets an element's raw data bytes as a big-endian
// unsigned integer, the Matroska convention for UInt-typed elements.
func uintFromElement(data []byte) uint64 {
	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}
	return v
}

// floatFromElement interprets a 4- or 8-byte big-endian IEEE-754 value,
// the Matroska convention for Float-typed elements (SamplingFrequency).
func floatFromElement(data []byte) float64 {
	switch len(data) {
	case 4:
		bits := binary.BigEndian.Uint32(data)
		return float64(math.Float32frombits(bits))
	case 8:
		bits := binary.BigEndian.Uint64(data)
		return math.Float64frombits(bits)
	default:
		return 0
	}
}
