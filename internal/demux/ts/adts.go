package ts

import "fmt"

// adtsFrame is one parsed ADTS frame: its header fields plus the frame
// length (header + raw_data_block) so the caller can slice past it.
type adtsFrame struct {
	Profile             int // MPEG-4 Audio Object Type minus one, per ADTS encoding
	SamplingFrequencyIdx int
	ChannelConfig        int
	FrameLength          int
	HeaderLength         int // 7 (no CRC) or 9 (CRC present)
}

var adtsSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// findADTSSync scans for the 12-bit ADTS sync word (0xFFF) and returns the
// offset of its first byte, or -1 if not found.
func findADTSSync(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF && data[i+1]&0xF0 == 0xF0 {
			return i
		}
	}
	return -1
}

// parseADTSHeader parses a 7-byte (or 9-byte with CRC) ADTS header
// starting at data[0], which must already be sync-aligned.
func parseADTSHeader(data []byte) (adtsFrame, error) {
	if len(data) < 7 {
		return adtsFrame{}, fmt.Errorf("ts: ADTS header too short (%d bytes)", len(data))
	}
	if data[0] != 0xFF || data[1]&0xF0 != 0xF0 {
		return adtsFrame{}, fmt.Errorf("ts: ADTS sync mismatch")
	}
	protectionAbsent := data[1] & 0x01
	profile := int(data[2] >> 6 & 0x03)
	sfi := int(data[2] >> 2 & 0x0F)
	channelConfig := int(data[2]&0x01)<<2 | int(data[3]>>6&0x03)
	frameLength := int(data[3]&0x03)<<11 | int(data[4])<<3 | int(data[5]>>5&0x07)

	headerLen := 7
	if protectionAbsent == 0 {
		headerLen = 9
	}
	if frameLength < headerLen {
		return adtsFrame{}, fmt.Errorf("ts: ADTS frame_length %d shorter than header %d", frameLength, headerLen)
	}
	return adtsFrame{
		Profile:              profile,
		SamplingFrequencyIdx: sfi,
		ChannelConfig:        channelConfig,
		FrameLength:          frameLength,
		HeaderLength:         headerLen,
	}, nil
}

// sampleRate resolves the ADTS sampling_frequency_index to Hz, 0 if
// reserved/unknown.
func (f adtsFrame) sampleRate() int {
	if f.SamplingFrequencyIdx < 0 || f.SamplingFrequencyIdx >= len(adtsSampleRates) {
		return 0
	}
	return adtsSampleRates[f.SamplingFrequencyIdx]
}

// audioSpecificConfig synthesizes the 2-byte AudioSpecificConfig from the
// ADTS header fields: AOT (profile+1), sampling_frequency_index, and
// channel_configuration.
func (f adtsFrame) audioSpecificConfig() []byte {
	aot := f.Profile + 1
	b0 := byte(aot<<3) | byte(f.SamplingFrequencyIdx>>1)
	b1 := byte(f.SamplingFrequencyIdx&0x01)<<7 | byte(f.ChannelConfig)<<3
	return []byte{b0, b1}
}

// aacCodecString builds `mp4a.40.{AOT}` from the ADTS profile field.
func (f adtsFrame) aacCodecString() string {
	return fmt.Sprintf("mp4a.40.%d", f.Profile+1)
}

// extractADTSFrames splits a concatenated ADTS byte stream into discrete
// frames, resynchronizing past invalid bytes. It returns the consumed
// frames plus the unconsumed remainder (a partial frame awaiting more
// bytes). Invariant: the emitted frame bytes, the bytes discarded during
// resync, and the returned remainder, taken in input order, reproduce the
// original input exactly.
func extractADTSFrames(data []byte) (frames [][]byte, remainder []byte) {
	pos := 0
	for pos < len(data) {
		syncAt := findADTSSync(data[pos:])
		if syncAt < 0 {
			return frames, nil
		}
		pos += syncAt
		hdr, err := parseADTSHeader(data[pos:])
		if err != nil {
			pos++ // discard the invalid sync byte, keep resyncing
			continue
		}
		if pos+hdr.FrameLength > len(data) {
			return frames, data[pos:]
		}
		frames = append(frames, data[pos:pos+hdr.FrameLength])
		pos += hdr.FrameLength
	}
	return frames, nil
}
