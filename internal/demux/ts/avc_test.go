package ts

import (
	"bytes"
	"testing"
)

// TestAVCCodecString derives the codec string from a baseline SPS.
func TestAVCCodecString(t *testing.T) {
	sps := []byte{0x00, 0x42, 0xC0, 0x1E, 0xAA, 0xBB}
	pps := []byte{0x00, 0x68, 0xCE, 0x3C, 0x80}

	codec, err := avcCodecString(sps)
	if err != nil {
		t.Fatalf("avcCodecString: %v", err)
	}
	if codec != "avc1.42C01E" {
		t.Fatalf("codec = %q, want avc1.42C01E", codec)
	}

	record := buildAVCDecoderConfigurationRecord(sps, pps)
	want := []byte{0x01, 0x42, 0xC0, 0x1E, 0xFF, 0xE1, 0x00, byte(len(sps))}
	if !bytes.HasPrefix(record, want) {
		t.Fatalf("record header = % X, want prefix % X", record[:len(want)], want)
	}
}

func TestScanAnnexBNALUs(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB, // SPS-ish NAL
		0x00, 0x00, 0x01, 0x68, 0xCC, // PPS-ish NAL
		0x00, 0x00, 0x00, 0x01, 0x65, 0xDD, 0xEE, // IDR with 4-byte start code
	}
	nalus := scanAnnexBNALUs(data)
	if len(nalus) != 3 {
		t.Fatalf("len(nalus) = %d, want 3", len(nalus))
	}
	if !bytes.Equal(nalus[0], []byte{0x67, 0xAA, 0xBB}) {
		t.Fatalf("nalus[0] = % X", nalus[0])
	}
	if !bytes.Equal(nalus[2], []byte{0x65, 0xDD, 0xEE}) {
		t.Fatalf("nalus[2] = % X", nalus[2])
	}
}

// TestAnnexBToAVCC verifies the framing invariant: sum(NAL_length) +
// 4*NAL_count == output length, and each 4-byte length field equals the
// following NAL's size.
func TestAnnexBToAVCC(t *testing.T) {
	nalus := [][]byte{
		{0x67, 0x01, 0x02},
		{0x68, 0x03},
		{0x65, 0x04, 0x05, 0x06},
	}
	out := annexBToAVCC(nalus)

	wantLen := 0
	for _, n := range nalus {
		wantLen += 4 + len(n)
	}
	if len(out) != wantLen {
		t.Fatalf("len(out) = %d, want %d", len(out), wantLen)
	}

	pos := 0
	for _, n := range nalus {
		length := int(out[pos])<<24 | int(out[pos+1])<<16 | int(out[pos+2])<<8 | int(out[pos+3])
		if length != len(n) {
			t.Fatalf("length field = %d, want %d", length, len(n))
		}
		pos += 4
		if !bytes.Equal(out[pos:pos+length], n) {
			t.Fatalf("NAL payload mismatch at pos %d", pos)
		}
		pos += length
	}
}

func TestContainsIDR(t *testing.T) {
	nalus := [][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x03}}
	if !containsIDR(nalus) {
		t.Fatal("expected IDR detection")
	}
	nonIDR := [][]byte{{0x67, 0x01}, {0x41, 0x02}}
	if containsIDR(nonIDR) {
		t.Fatal("expected no IDR detection")
	}
}
