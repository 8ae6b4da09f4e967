package mkv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
)

// trackState is the per-track bookkeeping needed while dispatching Blocks,
// keyed by Matroska TrackNumber.
type trackState struct {
	number  int
	id      int
	kind    media.TrackKind
	codecID string
	format  []string // ASS/SSA Format: columns, nil otherwise
}

func (d *Demuxer) parseTracks(ctx context.Context, parent elementHeader) error {
	pos := parent.DataStart
	limit := effectiveEnd(parent, d.segmentEnd)
	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			return fmt.Errorf("mkv: reading Tracks child: %w", err)
		}
		if hdr.ID == idTrackEntry {
			if err := d.parseTrackEntry(ctx, hdr); err != nil {
				d.logger.Debug("skipping unparseable TrackEntry", slog.String("error", err.Error()))
			}
		}
		pos = nextSibling(hdr, limit)
	}
	return nil
}

func (d *Demuxer) parseTrackEntry(ctx context.Context, parent elementHeader) error {
	var tb trackBuild
	pos := parent.DataStart
	limit := effectiveEnd(parent, d.segmentEnd)
	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			return fmt.Errorf("mkv: reading TrackEntry child: %w", err)
		}
		switch hdr.ID {
		case idTrackNumber:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.number = int(uintFromElement(data))
		case idTrackType:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.trackType = int(uintFromElement(data))
		case idCodecID:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.codecID = string(data)
		case idCodecPrivate:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.codecPrivate = append([]byte(nil), data...)
		case idDefaultDuration:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.defaultDuration = int64(uintFromElement(data))
		case idName:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.name = string(data)
		case idLanguage:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.language = string(data)
		case idVideo:
			if err := d.parseVideoDims(ctx, hdr, &tb); err != nil {
				return err
			}
		case idAudio:
			if err := d.parseAudioParams(ctx, hdr, &tb); err != nil {
				return err
			}
		}
		pos = nextSibling(hdr, limit)
	}

	if tb.number == 0 {
		return fmt.Errorf("mkv: TrackEntry missing TrackNumber")
	}
	td, ok := describeTrack(tb)
	if !ok {
		d.logger.Debug("unsupported track CodecID", slog.String("codec_id", tb.codecID))
		return nil
	}

	d.tracks = append(d.tracks, td)
	if d.trackByNumber == nil {
		d.trackByNumber = make(map[int]*trackState)
	}
	d.trackByNumber[tb.number] = &trackState{
		number:  tb.number,
		id:      td.ID,
		kind:    td.Kind,
		codecID: tb.codecID,
		format:  td.ASSFormat,
	}
	return nil
}

func (d *Demuxer) parseVideoDims(ctx context.Context, parent elementHeader, tb *trackBuild) error {
	pos := parent.DataStart
	limit := effectiveEnd(parent, d.segmentEnd)
	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			return fmt.Errorf("mkv: reading Video child: %w", err)
		}
		switch hdr.ID {
		case idPixelWidth:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.width = int(uintFromElement(data))
		case idPixelHeight:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.height = int(uintFromElement(data))
		}
		pos = nextSibling(hdr, limit)
	}
	return nil
}

func (d *Demuxer) parseAudioParams(ctx context.Context, parent elementHeader, tb *trackBuild) error {
	pos := parent.DataStart
	limit := effectiveEnd(parent, d.segmentEnd)
	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			return fmt.Errorf("mkv: reading Audio child: %w", err)
		}
		switch hdr.ID {
		case idSamplingFreq:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.sampleRate = int(floatFromElement(data))
		case idChannels:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			tb.channels = int(uintFromElement(data))
		}
		pos = nextSibling(hdr, limit)
	}
	return nil
}
