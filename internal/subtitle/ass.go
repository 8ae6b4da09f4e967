// Package subtitle implements the ASS/SSA Format-line projection and PGS
// packet repacking the MKV demuxer uses for subtitle tracks.
package subtitle

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ParseFormat extracts the comma-separated column names from an SSA/ASS
// CodecPrivate's `Format:` line in the [Events] section.
func ParseFormat(codecPrivate []byte) []string {
	inEvents := false
	for _, raw := range strings.Split(string(codecPrivate), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.EqualFold(line, "[Events]"):
			inEvents = true
			continue
		case strings.HasPrefix(line, "["):
			inEvents = false
			continue
		}
		if !inEvents || !strings.HasPrefix(line, "Format:") {
			continue
		}
		cols := strings.Split(strings.TrimPrefix(line, "Format:"), ",")
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = strings.TrimSpace(c)
		}
		return out
	}
	return nil
}

// ExtractText projects a subtitle Block payload's comma-separated fields
// onto format's last (Text) column, stripping embedded NULs and
// normalizing to NFC. With no format (S_TEXT/UTF8), the
// whole payload is the text.
func ExtractText(format []string, payload []byte) string {
	s := strings.ReplaceAll(string(payload), "\x00", "")
	if len(format) == 0 {
		return norm.NFC.String(s)
	}
	parts := strings.SplitN(s, ",", len(format))
	text := parts[len(parts)-1]
	return norm.NFC.String(text)
}
