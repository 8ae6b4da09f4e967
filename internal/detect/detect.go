// Package detect identifies a container format from its leading bytes,
// used as a fallback when a URL carries no usable extension or media type.
package detect

import (
	"bytes"
	"encoding/binary"
)

// Container identifies the demuxer a ByteSource should be routed to.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerMP4
	ContainerMKV
	ContainerTS
)

func (c Container) String() string {
	switch c {
	case ContainerMP4:
		return "mp4"
	case ContainerMKV:
		return "mkv"
	case ContainerTS:
		return "ts"
	default:
		return "unknown"
	}
}

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// tsSyncByte is the MPEG-TS packet sync byte; see probeTSStride for how
// this is used to confirm a stride rather than a coincidental match.
const tsSyncByte = 0x47

// Sniff inspects the first bytes of a resource (the caller should supply
// at least 64KiB, or the whole resource if shorter) and returns the
// container it identifies, or ContainerUnknown if none of the known
// signatures match.
func Sniff(head []byte) Container {
	if isMP4(head) {
		return ContainerMP4
	}
	if isMKV(head) {
		return ContainerMKV
	}
	if isTS(head) {
		return ContainerTS
	}
	return ContainerUnknown
}

// isMP4 looks for an ISO-BMFF top-level box whose type is one of the
// well-known container/movie boxes within the first few box headers.
func isMP4(head []byte) bool {
	pos := 0
	for i := 0; i < 4 && pos+8 <= len(head); i++ {
		size := binary.BigEndian.Uint32(head[pos : pos+4])
		boxType := string(head[pos+4 : pos+8])
		switch boxType {
		case "ftyp", "moov", "free", "mdat", "wide", "skip":
			if boxType == "ftyp" || boxType == "moov" {
				return true
			}
		default:
			return false
		}
		if size == 0 {
			return false
		}
		if size == 1 {
			// 64-bit size extension; not worth decoding for a sniff probe.
			return false
		}
		pos += int(size)
	}
	return false
}

func isMKV(head []byte) bool {
	return bytes.HasPrefix(head, ebmlMagic)
}

// isTS applies the same stride/sync-byte probe the TS demuxer uses on
// Open, but only checks for a plausible match rather than picking the
// best stride.
func isTS(head []byte) bool {
	for _, stride := range []int{188, 192, 204} {
		if probeTSStride(head, stride) {
			return true
		}
	}
	return false
}

func probeTSStride(data []byte, stride int) bool {
	if len(data) < stride*3 {
		return false
	}
	maxOffset := stride
	if maxOffset > len(data) {
		maxOffset = len(data)
	}
	for offset := 0; offset < maxOffset; offset++ {
		matched := 0
		for i := 0; offset+i*stride < len(data) && matched < 3; i++ {
			if data[offset+i*stride] != tsSyncByte {
				break
			}
			matched++
		}
		if matched >= 3 {
			return true
		}
	}
	return false
}
