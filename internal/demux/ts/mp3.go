package ts

import "fmt"

// mp3Frame is one parsed MPEG audio frame header (Layer III only — the TS
// demuxer only routes stream_type 0x03/0x04 here).
type mp3Frame struct {
	SampleRate  int
	BitrateKbps int
	Padding     int
	MPEGVersion int // 1 = MPEG-1, 2 = MPEG-2/2.5
	FrameLength int
}

var mp3V1SampleRates = [4]int{44100, 48000, 32000, 0}
var mp3V2SampleRates = [4]int{22050, 24000, 16000, 0}

var mp3V1BitratesL3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var mp3V2BitratesL3 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

// findMP3Sync scans for an 11-bit MPEG audio frame sync (11111111 111xxxxx).
func findMP3Sync(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF && data[i+1]&0xE0 == 0xE0 {
			return i
		}
	}
	return -1
}

// parseMP3Header parses a 4-byte MPEG audio frame header starting at
// data[0], validating sync, version, and that layer == III (layer 01).
func parseMP3Header(data []byte) (mp3Frame, error) {
	if len(data) < 4 {
		return mp3Frame{}, fmt.Errorf("ts: MP3 header too short (%d bytes)", len(data))
	}
	if data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return mp3Frame{}, fmt.Errorf("ts: MP3 sync mismatch")
	}
	versionBits := (data[1] >> 3) & 0x03 // 00=MPEG2.5, 10=MPEG2, 11=MPEG1
	layerBits := (data[1] >> 1) & 0x03   // 01=LayerIII
	if layerBits != 0x01 {
		return mp3Frame{}, fmt.Errorf("ts: MP3 layer %d unsupported (only Layer III)", layerBits)
	}
	bitrateIdx := (data[2] >> 4) & 0x0F
	sfi := (data[2] >> 2) & 0x03
	padding := int((data[2] >> 1) & 0x01)

	var f mp3Frame
	var coef int
	switch versionBits {
	case 0x03: // MPEG-1
		f.MPEGVersion = 1
		f.SampleRate = mp3V1SampleRates[sfi]
		f.BitrateKbps = mp3V1BitratesL3[bitrateIdx]
		coef = 144
	case 0x02, 0x00: // MPEG-2 or MPEG-2.5
		f.MPEGVersion = 2
		f.SampleRate = mp3V2SampleRates[sfi]
		f.BitrateKbps = mp3V2BitratesL3[bitrateIdx]
		coef = 72
	default:
		return mp3Frame{}, fmt.Errorf("ts: MP3 reserved version bits")
	}
	if f.SampleRate == 0 || f.BitrateKbps == 0 {
		return mp3Frame{}, fmt.Errorf("ts: MP3 header has reserved sample-rate/bitrate field")
	}
	f.Padding = padding
	f.FrameLength = (coef*f.BitrateKbps*1000)/f.SampleRate + padding
	if f.FrameLength < 4 {
		return mp3Frame{}, fmt.Errorf("ts: MP3 computed frame length too short")
	}
	return f, nil
}

// samplesPerFrame returns 1152 for MPEG-1 Layer III, 576 for MPEG-2/2.5.
func (f mp3Frame) samplesPerFrame() int {
	if f.MPEGVersion == 1 {
		return 1152
	}
	return 576
}

// extractMP3Frames splits a concatenated MPEG audio byte stream into
// discrete frames the same way extractADTSFrames does for AAC.
func extractMP3Frames(data []byte) (frames []mp3Frame, payloads [][]byte, remainder []byte) {
	pos := 0
	for pos < len(data) {
		syncAt := findMP3Sync(data[pos:])
		if syncAt < 0 {
			return frames, payloads, nil
		}
		pos += syncAt
		hdr, err := parseMP3Header(data[pos:])
		if err != nil {
			pos++
			continue
		}
		if pos+hdr.FrameLength > len(data) {
			return frames, payloads, data[pos:]
		}
		frames = append(frames, hdr)
		payloads = append(payloads, data[pos:pos+hdr.FrameLength])
		pos += hdr.FrameLength
	}
	return frames, payloads, nil
}
