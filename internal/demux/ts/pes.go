package ts

// pesHeader is the parsed subset of a PES packet header this demuxer
// needs: where the payload begins and the presentation timestamp, if
// present.
type pesHeader struct {
	HasPTS      bool
	PTS90k      int64
	PayloadOff  int
}

// parsePESHeader parses a PES packet starting at a payload_unit_start
// boundary: start code 00 00 01, stream id, PES_packet_length, then the
// optional PTS/DTS header.
func parsePESHeader(data []byte) (pesHeader, error) {
	if len(data) < 9 {
		return pesHeader{}, errShortPES
	}
	if data[0] != 0x00 || data[1] != 0x00 || data[2] != 0x01 {
		return pesHeader{}, errBadPESStart
	}
	ptsDTSFlags := (data[7] >> 6) & 0x03
	headerDataLen := int(data[8])
	payloadOff := 9 + headerDataLen
	if payloadOff > len(data) {
		return pesHeader{}, errShortPES
	}

	h := pesHeader{PayloadOff: payloadOff}
	if ptsDTSFlags == 2 || ptsDTSFlags == 3 {
		if len(data) < 14 {
			return pesHeader{}, errShortPES
		}
		h.HasPTS = true
		h.PTS90k = decodePTS(data[9:14])
	}
	return h, nil
}

// decodePTS decodes the 33-bit, 90kHz presentation timestamp from the
// five marker-bit-interleaved bytes that follow the PTS_DTS_flags byte,
// from the five-byte 33-bit encoding.
func decodePTS(b []byte) int64 {
	b0, b1, b2, b3, b4 := int64(b[0]), int64(b[1]), int64(b[2]), int64(b[3]), int64(b[4])
	return ((b0>>1)&7)<<30 | b1<<22 | ((b2>>1)&0x7F)<<15 | b3<<7 | ((b4>>1)&0x7F)
}

// ptsToUs converts a 90kHz PTS tick count to microseconds, rounding to
// nearest.
func ptsToUs(pts int64) int64 {
	return roundDiv(pts*1_000_000, 90_000)
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if (num < 0) != (den < 0) {
		return -roundDiv(-num, den)
	}
	return (num + den/2) / den
}

// pesAssembler accumulates one elementary stream's PES payload across
// packets until the next payload_unit_start finalizes it.
type pesAssembler struct {
	buf     []byte
	pts90k  int64
	hasPTS  bool
	pending bool
}

// feed appends a packet payload to the in-progress PES. If
// payloadUnitStart is set, any previously pending PES is finalized first
// (returned) and a new one begins with this payload as its header.
func (a *pesAssembler) feed(payloadUnitStart bool, payload []byte) (finished []byte, finishedPTS int64, hasFinished bool) {
	if payloadUnitStart {
		if a.pending {
			finished = a.buf
			finishedPTS = a.pts90k
			hasFinished = a.hasPTS
		}
		hdr, err := parsePESHeader(payload)
		if err != nil {
			a.pending = false
			a.buf = nil
			return finished, finishedPTS, hasFinished
		}
		a.buf = append([]byte(nil), payload[hdr.PayloadOff:]...)
		a.pts90k = hdr.PTS90k
		a.hasPTS = hdr.HasPTS
		a.pending = true
		return finished, finishedPTS, hasFinished
	}
	if a.pending {
		a.buf = append(a.buf, payload...)
	}
	return nil, 0, false
}

// flush finalizes whatever PES is in progress, e.g. at end of stream.
func (a *pesAssembler) flush() (data []byte, pts90k int64, hasPTS bool, ok bool) {
	if !a.pending {
		return nil, 0, false, false
	}
	data, pts90k, hasPTS = a.buf, a.pts90k, a.hasPTS
	a.pending = false
	a.buf = nil
	return data, pts90k, hasPTS, true
}
