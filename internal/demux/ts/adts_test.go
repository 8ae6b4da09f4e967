package ts

import (
	"bytes"
	"testing"
)

// buildADTSFrame constructs a minimal ADTS frame header (no CRC) plus a
// raw_data_block payload of the given length.
func buildADTSFrame(profile, sfi, channelConfig int, payloadLen int) []byte {
	frameLength := 7 + payloadLen
	b := make([]byte, frameLength)
	b[0] = 0xFF
	b[1] = 0xF1 // sync + MPEG-4 + layer 00 + protection_absent=1
	b[2] = byte(profile<<6) | byte(sfi<<2) | byte((channelConfig>>2)&0x01)
	b[3] = byte((channelConfig&0x03)<<6) | byte(frameLength>>11)
	b[4] = byte(frameLength >> 3)
	b[5] = byte((frameLength&0x07)<<5) | 0x1F
	b[6] = 0xFC
	for i := 7; i < frameLength; i++ {
		b[i] = byte(i)
	}
	return b
}

func TestParseADTSHeader(t *testing.T) {
	frame := buildADTSFrame(1, 3, 2, 100) // profile=1 (AAC-LC => AOT=2), sfi=3(48000), stereo
	hdr, err := parseADTSHeader(frame)
	if err != nil {
		t.Fatalf("parseADTSHeader: %v", err)
	}
	if hdr.FrameLength != len(frame) {
		t.Fatalf("FrameLength = %d, want %d", hdr.FrameLength, len(frame))
	}
	if hdr.sampleRate() != 48000 {
		t.Fatalf("sampleRate = %d, want 48000", hdr.sampleRate())
	}
	if hdr.aacCodecString() != "mp4a.40.2" {
		t.Fatalf("codec = %q, want mp4a.40.2", hdr.aacCodecString())
	}
}

// TestExtractADTSFrames_RoundTrip verifies that the concatenation of
// emitted frame bytes equals the original bytes for a stream with no
// garbage between frames.
func TestExtractADTSFrames_RoundTrip(t *testing.T) {
	f1 := buildADTSFrame(1, 3, 2, 50)
	f2 := buildADTSFrame(1, 3, 2, 80)
	stream := append(append([]byte{}, f1...), f2...)

	frames, remainder := extractADTSFrames(stream)
	if len(remainder) != 0 {
		t.Fatalf("remainder = %d bytes, want 0", len(remainder))
	}
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	var reconstructed []byte
	for _, f := range frames {
		reconstructed = append(reconstructed, f...)
	}
	if !bytes.Equal(reconstructed, stream) {
		t.Fatal("reconstructed stream does not match original")
	}
}

func TestExtractADTSFrames_ResyncsPastGarbage(t *testing.T) {
	f1 := buildADTSFrame(1, 3, 2, 20)
	garbage := []byte{0x00, 0x11, 0x22}
	f2 := buildADTSFrame(1, 3, 2, 30)
	stream := append(append(append([]byte{}, f1...), garbage...), f2...)

	frames, remainder := extractADTSFrames(stream)
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if len(remainder) != 0 {
		t.Fatalf("remainder = %d bytes, want 0", len(remainder))
	}
}

func TestExtractADTSFrames_PartialTrailingFrame(t *testing.T) {
	f1 := buildADTSFrame(1, 3, 2, 20)
	f2 := buildADTSFrame(1, 3, 2, 30)
	stream := append(append([]byte{}, f1...), f2[:10]...)

	frames, remainder := extractADTSFrames(stream)
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
	if len(remainder) != 10 {
		t.Fatalf("len(remainder) = %d, want 10", len(remainder))
	}
}
