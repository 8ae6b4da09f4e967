package subtitle

import "encoding/binary"

// pgsHeaderSize is the PG packet header's fixed size: "PG" +
// PTS90k:u32be + DTS90k:u32be + segment_type:u8 + segment_length:u16be.
const pgsHeaderSize = 13

// RepackPGS converts an MKV S_HDMV/PGS Block payload into a self-contained
// sequence of .sup-style PG packets. A payload already beginning with the
// "PG" magic is assumed to already carry that header and is returned
// unmodified; otherwise each (segment_type, segment_length, body) tuple in
// the payload is wrapped in a synthesized PG header stamping
// pts90k = round(timestamp_us * 90000 / 1e6).
func RepackPGS(payload []byte, timestampUs int64) []byte {
	if len(payload) >= 2 && payload[0] == 'P' && payload[1] == 'G' {
		return payload
	}

	pts90k := uint32(roundDiv(timestampUs*90000, 1_000_000))
	var out []byte
	pos := 0
	for pos+3 <= len(payload) {
		segType := payload[pos]
		segLen := int(binary.BigEndian.Uint16(payload[pos+1 : pos+3]))
		pos += 3
		if pos+segLen > len(payload) {
			segLen = len(payload) - pos
		}
		body := payload[pos : pos+segLen]
		pos += segLen

		hdr := make([]byte, pgsHeaderSize)
		hdr[0], hdr[1] = 'P', 'G'
		binary.BigEndian.PutUint32(hdr[2:6], pts90k)
		binary.BigEndian.PutUint32(hdr[6:10], pts90k) // no B-frames in PGS: DTS == PTS
		hdr[10] = segType
		binary.BigEndian.PutUint16(hdr[11:13], uint16(segLen))

		out = append(out, hdr...)
		out = append(out, body...)
	}
	return out
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return (num + den/2) / den
}
