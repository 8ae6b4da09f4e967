package subtitle

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRepackPGS_AlreadyWrapped(t *testing.T) {
	payload := []byte{'P', 'G', 0x01, 0x02, 0x03}
	out := RepackPGS(payload, 1_000_000)
	if !bytes.Equal(out, payload) {
		t.Fatalf("already-wrapped payload should pass through unmodified")
	}
}

func TestRepackPGS_WrapsSegments(t *testing.T) {
	body := []byte{0xAA, 0xBB, 0xCC}
	var payload []byte
	payload = append(payload, 0x16) // segment_type (PDS, arbitrary for the test)
	var segLen [2]byte
	binary.BigEndian.PutUint16(segLen[:], uint16(len(body)))
	payload = append(payload, segLen[:]...)
	payload = append(payload, body...)

	out := RepackPGS(payload, 1_000_000) // 1s -> pts90k = 90000
	if len(out) != pgsHeaderSize+len(body) {
		t.Fatalf("len(out) = %d, want %d", len(out), pgsHeaderSize+len(body))
	}
	if out[0] != 'P' || out[1] != 'G' {
		t.Fatalf("missing PG magic")
	}
	pts := binary.BigEndian.Uint32(out[2:6])
	if pts != 90000 {
		t.Fatalf("pts90k = %d, want 90000", pts)
	}
	dts := binary.BigEndian.Uint32(out[6:10])
	if dts != pts {
		t.Fatalf("dts90k = %d, want == pts90k", dts)
	}
	if out[10] != 0x16 {
		t.Fatalf("segment_type = %#x, want 0x16", out[10])
	}
	gotLen := binary.BigEndian.Uint16(out[11:13])
	if int(gotLen) != len(body) {
		t.Fatalf("segment_length = %d, want %d", gotLen, len(body))
	}
	if !bytes.Equal(out[13:], body) {
		t.Fatalf("body mismatch")
	}
}
