package ts

// psiAssembler accumulates PSI section bytes for one PID across packets,
// honoring the pointer-field-on-payload_unit_start convention.
type psiAssembler struct {
	buf     []byte
	want    int // total_length once known, 0 until the section header is parsed
	started bool
}

// feed appends one packet payload (adaptation field already stripped) to
// the assembler, handling the pointer byte on a new section start. It
// returns the complete section bytes once enough have accumulated, or nil
// if more data is needed.
func (a *psiAssembler) feed(payloadUnitStart bool, payload []byte) []byte {
	if payloadUnitStart {
		if len(payload) == 0 {
			return nil
		}
		pointer := int(payload[0])
		rest := payload[1:]
		if pointer > len(rest) {
			pointer = len(rest)
		}
		// Bytes before the pointer belong to a previous, now-discarded
		// section; bytes from the pointer onward start the new one.
		a.buf = append([]byte(nil), rest[pointer:]...)
		a.started = true
		a.want = 0
	} else if a.started {
		a.buf = append(a.buf, payload...)
	} else {
		return nil
	}

	if a.want == 0 && len(a.buf) >= 3 {
		sectionLength := int(a.buf[1]&0x0F)<<8 | int(a.buf[2])
		a.want = 3 + sectionLength
	}
	if a.want > 0 && len(a.buf) >= a.want {
		section := a.buf[:a.want]
		a.buf = nil
		a.started = false
		a.want = 0
		return section
	}
	return nil
}

// patEntry is one (program_number, pmt_pid) mapping from a PAT section.
type patEntry struct {
	ProgramNumber int
	PMTPID        int
}

// parsePAT walks a complete PAT section (table_id 0x00) and returns its
// program entries.
func parsePAT(section []byte) ([]patEntry, error) {
	if len(section) < 8 || section[0] != 0x00 {
		return nil, errShortPSI
	}
	sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
	end := 3 + sectionLength - 4 // minus trailing CRC32
	if end > len(section) {
		end = len(section)
	}
	pos := 8 // skip table_id..last_section_number
	var entries []patEntry
	for pos+4 <= end {
		programNumber := int(section[pos])<<8 | int(section[pos+1])
		pmtPID := int(section[pos+2]&0x1F)<<8 | int(section[pos+3])
		entries = append(entries, patEntry{ProgramNumber: programNumber, PMTPID: pmtPID})
		pos += 4
	}
	return entries, nil
}

// selectPMTPID returns the PMT PID of the first PAT entry with a nonzero
// program_number (program_number 0 is reserved for the network PID).
func selectPMTPID(entries []patEntry) (int, bool) {
	for _, e := range entries {
		if e.ProgramNumber != 0 {
			return e.PMTPID, true
		}
	}
	return 0, false
}

// pmtEntry is one elementary stream mapping from a PMT section.
type pmtEntry struct {
	StreamType int
	PID        int
}

const (
	streamTypeH264      = 0x1B
	streamTypeHEVC       = 0x24
	streamTypeAAC        = 0x0F
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
)

// parsePMT walks a complete PMT section (table_id 0x02) and returns its
// elementary stream entries.
func parsePMT(section []byte) ([]pmtEntry, error) {
	if len(section) < 12 || section[0] != 0x02 {
		return nil, errShortPSI
	}
	sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
	end := 3 + sectionLength - 4
	if end > len(section) {
		end = len(section)
	}
	programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])
	pos := 12 + programInfoLength

	var entries []pmtEntry
	for pos+5 <= end {
		streamType := int(section[pos])
		elementaryPID := int(section[pos+1]&0x1F)<<8 | int(section[pos+2])
		esInfoLength := int(section[pos+3]&0x0F)<<8 | int(section[pos+4])
		entries = append(entries, pmtEntry{StreamType: streamType, PID: elementaryPID})
		pos += 5 + esInfoLength
	}
	return entries, nil
}

// selectVideoAudio picks the first supported video PID (H.264 then HEVC)
// and the first supported audio PID (AAC, falling back to MPEG-1/2 Audio
// Layer III) from a PMT's entries.
func selectVideoAudio(entries []pmtEntry) (videoPID, videoType, audioPID, audioType int, hasAudio bool) {
	videoPID, audioPID = -1, -1
	for _, e := range entries {
		if videoPID == -1 && (e.StreamType == streamTypeH264 || e.StreamType == streamTypeHEVC) {
			videoPID, videoType = e.PID, e.StreamType
		}
	}
	for _, e := range entries {
		if e.StreamType == streamTypeAAC {
			audioPID, audioType, hasAudio = e.PID, e.StreamType, true
			break
		}
	}
	if !hasAudio {
		for _, e := range entries {
			if e.StreamType == streamTypeMPEG1Audio || e.StreamType == streamTypeMPEG2Audio {
				audioPID, audioType, hasAudio = e.PID, e.StreamType, true
				break
			}
		}
	}
	return
}
