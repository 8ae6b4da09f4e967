package ts

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// scanAnnexBNALUs splits an Annex-B byte stream (start codes 00 00 01 or
// 00 00 00 01) into its constituent NAL units, stripping the start codes
// and any trailing_zero_8bits between units.
func scanAnnexBNALUs(data []byte) [][]byte {
	var nalus [][]byte
	starts := findStartCodes(data)
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].pos
		}
		begin := s.pos + s.len
		if begin >= end {
			continue
		}
		nalu := data[begin:end]
		// Trim a trailing zero-byte run some encoders leave before the
		// next start code.
		for len(nalu) > 0 && nalu[len(nalu)-1] == 0x00 {
			nalu = nalu[:len(nalu)-1]
		}
		if len(nalu) > 0 {
			nalus = append(nalus, nalu)
		}
	}
	return nalus
}

type startCode struct {
	pos int
	len int
}

func findStartCodes(data []byte) []startCode {
	var out []startCode
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			out = append(out, startCode{pos: i, len: 3})
			i += 2
		}
	}
	return out
}

// avcNALType returns the nal_unit_type (low 5 bits of the first NAL byte).
func avcNALType(nalu []byte) h264.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return h264.NALUType(nalu[0] & 0x1F)
}

// findSPSPPS extracts the first SPS and first PPS NAL unit from a set of
// Annex-B NAL units, as used for TS track discovery (first PES carrying
// both). Keyframe detection uses containsIDR instead.
func findSPSPPS(nalus [][]byte) (sps, pps []byte, ok bool) {
	for _, n := range nalus {
		switch avcNALType(n) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = n
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = n
			}
		}
	}
	return sps, pps, sps != nil && pps != nil
}

// containsIDR reports whether any NAL unit in au is an IDR slice
// (nal_unit_type 5), which marks the access unit as a random-access
// point.
func containsIDR(nalus [][]byte) bool {
	for _, n := range nalus {
		if avcNALType(n) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// avcCodecString builds the `avc1.PPccLL` codec string from SPS bytes 1-3
// (profile_idc, constraint flags, level_idc).
func avcCodecString(sps []byte) (string, error) {
	if len(sps) < 4 {
		return "", fmt.Errorf("ts: SPS too short for codec string (%d bytes)", len(sps))
	}
	return fmt.Sprintf("avc1.%02X%02X%02X", sps[1], sps[2], sps[3]), nil
}

// buildAVCDecoderConfigurationRecord synthesizes an
// AVCDecoderConfigurationRecord carrying exactly one SPS and one PPS, with
// lengthSizeMinusOne = 3 (4-byte NAL length fields).
func buildAVCDecoderConfigurationRecord(sps, pps []byte) []byte {
	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 0x01)             // configurationVersion
	buf = append(buf, sps[1], sps[2], sps[3]) // profile_idc, compat, level_idc
	buf = append(buf, 0xFF)             // reserved(6)=111111 | lengthSizeMinusOne=3
	buf = append(buf, 0xE1)             // reserved(3)=111 | numOfSequenceParameterSets=1
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)
	buf = append(buf, 0x01) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)
	return buf
}

// annexBToAVCC converts one access unit's Annex-B NAL units to AVCC
// framing: each start code is replaced with a 4-byte big-endian NAL
// length. Invariant: sum(NAL_length) + 4*NAL_count ==
// output length, and each length field equals the following NAL's size.
func annexBToAVCC(nalus [][]byte) []byte {
	total := 0
	for _, n := range nalus {
		total += 4 + len(n)
	}
	out := make([]byte, 0, total)
	var lenBuf [4]byte
	for _, n := range nalus {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n)))
		out = append(out, lenBuf[:]...)
		out = append(out, n...)
	}
	return out
}
