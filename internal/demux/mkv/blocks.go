package mkv

import (
	"fmt"
	"log/slog"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
)

// laceMetadataLen returns the number of bytes at the start of a laced
// block body occupied by the frame-count byte and per-lacing-type size
// metadata. Only the length is needed: frame
// boundaries are not reconstructed, since a laced block's frames are
// retained concatenated as one chunk.
func laceMetadataLen(lacing byte, payload []byte) (int, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("mkv: laced block missing frame count")
	}
	frameCount := int(payload[0]) + 1
	pos := 1

	switch lacing {
	case 1: // Xiph: each of the first frameCount-1 sizes is a run of 0xFF
		// bytes terminated by a byte < 0xFF.
		for i := 0; i < frameCount-1; i++ {
			for {
				if pos >= len(payload) {
					return 0, fmt.Errorf("mkv: truncated Xiph lace sizes")
				}
				b := payload[pos]
				pos++
				if b != 0xFF {
					break
				}
			}
		}
	case 2: // Fixed-size: no per-frame metadata beyond the frame count.
	case 3: // EBML: one VINT size, then frameCount-2 signed VINT diffs.
		if pos >= len(payload) {
			return 0, fmt.Errorf("mkv: truncated EBML lace size")
		}
		_, n, _, err := readVINT(payload[pos:], false)
		if err != nil {
			return 0, fmt.Errorf("mkv: EBML lace first size: %w", err)
		}
		pos += n
		for i := 0; i < frameCount-2; i++ {
			if pos >= len(payload) {
				return 0, fmt.Errorf("mkv: truncated EBML lace diff")
			}
			_, n, _, err := readVINT(payload[pos:], false)
			if err != nil {
				return 0, fmt.Errorf("mkv: EBML lace diff: %w", err)
			}
			pos += n
		}
	default:
		return 0, fmt.Errorf("mkv: invalid lacing type %d", lacing)
	}
	return pos, nil
}

// roundDivI rounds num/den to the nearest integer for both signs of num.
func roundDivI(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}

// handleBlock parses one Block/SimpleBlock body (track number, relative
// timecode, flags, payload) and dispatches it by track kind.
func (d *Demuxer) handleBlock(data []byte, clusterTC int64, isSimple bool, blockDurationUs int64) error {
	trackNum, n, _, err := readVINT(data, false)
	if err != nil {
		return fmt.Errorf("mkv: block track number: %w", err)
	}
	if len(data) < n+3 {
		return fmt.Errorf("mkv: short block header")
	}
	relTC := int16(uint16(data[n])<<8 | uint16(data[n+1]))
	flags := data[n+2]
	payload := data[n+3:]

	st, ok := d.trackByNumber[int(trackNum)]
	if !ok {
		return nil
	}

	lacing := (flags >> 1) & 0x03
	keyframe := isSimple && flags&0x80 != 0
	timestampUs := roundDivI((clusterTC+int64(relTC))*d.timecodeScale, 1000)

	if lacing != 0 {
		if st.kind == media.TrackVideo {
			d.mu.Lock()
			d.lacedVideoSkips++
			total := d.lacedVideoSkips
			d.mu.Unlock()
			d.logger.Debug("skipping laced video block (unsupported)",
				slog.Uint64("skipped_total", total))
			return nil
		}
		metaLen, err := laceMetadataLen(lacing, payload)
		if err != nil {
			return fmt.Errorf("mkv: lace metadata: %w", err)
		}
		payload = payload[metaLen:]
	}

	switch st.kind {
	case media.TrackVideo:
		d.emitVideo(st, timestampUs, keyframe, payload)
	case media.TrackAudio:
		d.emitAudio(st, timestampUs, payload)
	case media.TrackSubtitle:
		d.emitSubtitle(st, timestampUs, blockDurationUs, payload)
	}
	return nil
}
