// Package mkv implements the hand-rolled streaming EBML/Matroska parser
// over a pulling byte reader: segment discovery, track mapping, and
// Cluster/Block extraction for video, audio, and subtitle (text + PGS)
// tracks.
package mkv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/observability"
	"github.com/zzzwannasleep/WebPlayer/internal/subtitle"
)

// yieldEveryElements bounds how many child elements the cluster walker
// processes before re-checking pause state, keeping the extract loop
// responsive to Pause without a per-element check.
const yieldEveryElements = 200

// subtitleFallbackDurationUs closes a pending text cue that never saw a
// following block, at end of stream.
const subtitleFallbackDurationUs = 5_000_000

// pendingCue is a subtitle text cue awaiting its end timestamp, either
// from the next same-track block or the stream-end fallback.
type pendingCue struct {
	startUs int64
	text    string
}

// Demuxer is the hand-rolled EBML/Matroska demuxer.
type Demuxer struct {
	src    bytesource.ByteSource
	logger *slog.Logger
	rd     *reader

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
	stopped  bool

	timecodeScale int64 // ns per tick

	segmentStart, segmentEnd int64
	firstClusterPos          int64

	tracks        []media.TrackDescriptor
	trackByNumber map[int]*trackState

	selectedVideoID    int
	selectedAudioID    int
	selectedSubtitleID int

	videoCB    media.VideoSampleFunc
	audioCB    media.AudioSampleFunc
	subtitleCB media.SubtitleCueFunc

	pendingVideo    map[int]*media.EncodedVideoChunk
	pendingSubtitle map[int]*pendingCue
	pgsBuf          map[int][]byte

	elementsSinceYield int
	lacedVideoSkips    uint64
}

// New returns an MKV demuxer pulling from src.
func New(src bytesource.ByteSource, logger *slog.Logger) *Demuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demuxer{
		src:      src,
		logger:   observability.WithComponent(logger, "demux.mkv"),
		rd:       newReader(src),
		resumeCh: make(chan struct{}),
	}
}

// Open locates the Segment element, parses Info (TimecodeScale) and
// Tracks, and records the first Cluster's offset for Start to resume
// from.
func (d *Demuxer) Open(ctx context.Context) error {
	size := d.src.Size()
	d.timecodeScale = 1_000_000

	pos := int64(0)
	var segFound bool
	for pos < size {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("mkv: reading top-level element: %w", err)
		}
		if hdr.ID == idSegment {
			d.segmentStart = hdr.DataStart
			d.segmentEnd = effectiveEnd(hdr, size)
			segFound = true
			break
		}
		pos = nextSibling(hdr, size)
	}
	if !segFound {
		return fmt.Errorf("mkv: no Segment element found")
	}

	var foundTracks, foundCluster bool
	pos = d.segmentStart
segLoop:
	for pos < d.segmentEnd {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("mkv: reading Segment child: %w", err)
		}
		switch hdr.ID {
		case idInfo:
			if err := d.parseInfo(ctx, hdr); err != nil {
				return err
			}
		case idTracks:
			if err := d.parseTracks(ctx, hdr); err != nil {
				return err
			}
			foundTracks = true
		case idCluster:
			d.firstClusterPos = pos
			foundCluster = true
			break segLoop
		}
		pos = nextSibling(hdr, d.segmentEnd)
	}

	if !foundTracks {
		return fmt.Errorf("mkv: no Tracks element found before first Cluster")
	}
	if !foundCluster {
		return fmt.Errorf("mkv: no Cluster found")
	}
	d.logger.Debug("segment discovered",
		slog.Int64("timecode_scale_ns", d.timecodeScale),
		slog.Int("track_count", len(d.tracks)),
		slog.Int64("first_cluster", d.firstClusterPos))
	return nil
}

func (d *Demuxer) parseInfo(ctx context.Context, parent elementHeader) error {
	pos := parent.DataStart
	limit := effectiveEnd(parent, d.segmentEnd)
	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			return fmt.Errorf("mkv: reading Info child: %w", err)
		}
		if hdr.ID == idTimecodeScale {
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			if v := uintFromElement(data); v != 0 {
				d.timecodeScale = int64(v)
			}
		}
		pos = nextSibling(hdr, limit)
	}
	return nil
}

// Tracks implements media.Demuxer.
func (d *Demuxer) Tracks() []media.TrackDescriptor { return d.tracks }

func (d *Demuxer) hasTrack(trackID int, kind media.TrackKind) bool {
	for _, t := range d.tracks {
		if t.ID == trackID && t.Kind == kind {
			return true
		}
	}
	return false
}

// SelectVideoTrack implements media.Demuxer.
func (d *Demuxer) SelectVideoTrack(trackID int, fn media.VideoSampleFunc) error {
	if !d.hasTrack(trackID, media.TrackVideo) {
		return fmt.Errorf("mkv: unknown video track %d", trackID)
	}
	d.selectedVideoID = trackID
	d.videoCB = fn
	return nil
}

// SelectAudioTrack implements media.Demuxer.
func (d *Demuxer) SelectAudioTrack(trackID int, fn media.AudioSampleFunc) error {
	if !d.hasTrack(trackID, media.TrackAudio) {
		return fmt.Errorf("mkv: unknown audio track %d", trackID)
	}
	d.selectedAudioID = trackID
	d.audioCB = fn
	return nil
}

// SelectSubtitleTrack implements media.Demuxer.
func (d *Demuxer) SelectSubtitleTrack(trackID int, fn media.SubtitleCueFunc) error {
	if !d.hasTrack(trackID, media.TrackSubtitle) {
		return fmt.Errorf("mkv: unknown subtitle track %d", trackID)
	}
	d.selectedSubtitleID = trackID
	d.subtitleCB = fn
	return nil
}

// Start walks Clusters from where Open left off, dispatching Blocks until
// end of stream, honoring Pause/Resume at cluster/element boundaries.
func (d *Demuxer) Start(ctx context.Context) error {
	pos := d.firstClusterPos
	for pos < d.segmentEnd {
		d.mu.Lock()
		stopped := d.stopped
		paused := d.paused
		resumeCh := d.resumeCh
		d.mu.Unlock()
		if stopped {
			return nil
		}
		if paused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-resumeCh:
				continue
			}
		}

		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("mkv: reading Cluster: %w", err)
		}
		if hdr.ID != idCluster {
			pos = nextSibling(hdr, d.segmentEnd)
			continue
		}
		nextPos, err := d.processCluster(ctx, hdr)
		if err != nil {
			return err
		}
		pos = nextPos

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	d.flushEOS()
	return nil
}

func (d *Demuxer) processCluster(ctx context.Context, cluster elementHeader) (int64, error) {
	limit := effectiveEnd(cluster, d.segmentEnd)
	var clusterTC int64
	pos := cluster.DataStart

	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			if err == io.EOF {
				break
			}
			return pos, fmt.Errorf("mkv: reading Cluster child: %w", err)
		}
		if hdr.ID == idCluster {
			// cluster had unknown size; this is the next sibling Cluster.
			return pos, nil
		}

		switch hdr.ID {
		case idTimecode:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return pos, err
			}
			clusterTC = int64(uintFromElement(data))
		case idSimpleBlock:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return pos, err
			}
			if err := d.handleBlock(data, clusterTC, true, 0); err != nil {
				d.logger.Debug("SimpleBlock parse failed", slog.String("error", err.Error()))
			}
		case idBlockGroup:
			if err := d.handleBlockGroup(ctx, hdr, clusterTC); err != nil {
				d.logger.Debug("BlockGroup parse failed", slog.String("error", err.Error()))
			}
		}

		d.elementsSinceYield++
		if d.elementsSinceYield >= yieldEveryElements {
			d.elementsSinceYield = 0
			d.mu.Lock()
			paused := d.paused
			stopped := d.stopped
			resumeCh := d.resumeCh
			d.mu.Unlock()
			if stopped {
				return limit, nil
			}
			if paused {
				select {
				case <-ctx.Done():
					return pos, ctx.Err()
				case <-resumeCh:
				}
			}
		}
		pos = nextSibling(hdr, limit)
	}
	return limit, nil
}

func (d *Demuxer) handleBlockGroup(ctx context.Context, parent elementHeader, clusterTC int64) error {
	limit := effectiveEnd(parent, d.segmentEnd)
	pos := parent.DataStart
	var blockData []byte
	var haveDuration bool
	var durationTicks int64

	for pos < limit {
		hdr, err := d.rd.header(ctx, pos)
		if err != nil {
			return fmt.Errorf("mkv: reading BlockGroup child: %w", err)
		}
		switch hdr.ID {
		case idBlock:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			blockData = data
		case idBlockDuration:
			data, err := d.rd.bytes(ctx, hdr.DataStart, hdr.DataEnd)
			if err != nil {
				return err
			}
			durationTicks = int64(uintFromElement(data))
			haveDuration = true
		}
		pos = nextSibling(hdr, limit)
	}
	if blockData == nil {
		return nil
	}
	var durUs int64
	if haveDuration {
		durUs = roundDivI(durationTicks*d.timecodeScale, 1000)
	}
	return d.handleBlock(blockData, clusterTC, false, durUs)
}

func (d *Demuxer) emitVideo(st *trackState, timestampUs int64, keyframe bool, payload []byte) {
	if st.id != d.selectedVideoID {
		return
	}
	kind := media.ChunkDelta
	if keyframe {
		kind = media.ChunkKey
	}
	chunk := media.EncodedVideoChunk{
		TrackID:     st.id,
		Kind:        kind,
		TimestampUs: timestampUs,
		Bytes:       append([]byte(nil), payload...),
	}
	if prev := d.pendingVideo[st.id]; prev != nil {
		p := *prev
		p.DurationUs = chunk.TimestampUs - p.TimestampUs
		if p.DurationUs < 0 {
			p.DurationUs = 0
		}
		if d.videoCB != nil {
			d.videoCB(p)
		}
	}
	if d.pendingVideo == nil {
		d.pendingVideo = make(map[int]*media.EncodedVideoChunk)
	}
	c := chunk
	d.pendingVideo[st.id] = &c
}

func (d *Demuxer) emitAudio(st *trackState, timestampUs int64, payload []byte) {
	if st.id != d.selectedAudioID {
		return
	}
	if d.audioCB != nil {
		d.audioCB(media.EncodedAudioChunk{
			TrackID:     st.id,
			TimestampUs: timestampUs,
			Bytes:       append([]byte(nil), payload...),
		})
	}
}

func (d *Demuxer) emitSubtitle(st *trackState, timestampUs, blockDurationUs int64, payload []byte) {
	if st.id != d.selectedSubtitleID {
		return
	}
	if st.codecID == "S_HDMV/PGS" {
		d.appendPGS(st.id, payload, timestampUs)
		return
	}

	text := subtitle.ExtractText(st.format, payload)
	d.closePendingSubtitle(st.id, timestampUs)
	if blockDurationUs > 0 {
		d.emitTextCue(st.id, timestampUs, timestampUs+blockDurationUs, text)
		return
	}
	if d.pendingSubtitle == nil {
		d.pendingSubtitle = make(map[int]*pendingCue)
	}
	d.pendingSubtitle[st.id] = &pendingCue{startUs: timestampUs, text: text}
}

func (d *Demuxer) closePendingSubtitle(trackID int, endUs int64) {
	p := d.pendingSubtitle[trackID]
	if p == nil {
		return
	}
	delete(d.pendingSubtitle, trackID)
	d.emitTextCue(trackID, p.startUs, endUs, p.text)
}

func (d *Demuxer) emitTextCue(trackID int, startUs, endUs int64, text string) {
	if d.subtitleCB == nil {
		return
	}
	d.subtitleCB(media.SubtitleCue{
		TrackID: trackID,
		Kind:    media.SubtitleText,
		StartUs: startUs,
		EndUs:   endUs,
		Text:    text,
	})
}

func (d *Demuxer) appendPGS(trackID int, payload []byte, timestampUs int64) {
	repacked := subtitle.RepackPGS(payload, timestampUs)
	if d.pgsBuf == nil {
		d.pgsBuf = make(map[int][]byte)
	}
	d.pgsBuf[trackID] = append(d.pgsBuf[trackID], repacked...)
}

func (d *Demuxer) flushEOS() {
	for id, p := range d.pendingVideo {
		final := *p
		final.DurationUs = 0
		if d.videoCB != nil {
			d.videoCB(final)
		}
		delete(d.pendingVideo, id)
	}
	for id, p := range d.pendingSubtitle {
		d.emitTextCue(id, p.startUs, p.startUs+subtitleFallbackDurationUs, p.text)
		delete(d.pendingSubtitle, id)
	}
	for id, buf := range d.pgsBuf {
		if d.subtitleCB != nil && len(buf) > 0 {
			d.subtitleCB(media.SubtitleCue{TrackID: id, Kind: media.SubtitlePGS, Bytes: buf})
		}
		delete(d.pgsBuf, id)
	}
}

// SkippedLacedVideoBlocks reports how many laced video blocks the extract
// loop has discarded; lacing is unsupported for video tracks.
func (d *Demuxer) SkippedLacedVideoBlocks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lacedVideoSkips
}

// Pause implements media.Demuxer.
func (d *Demuxer) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume implements media.Demuxer.
func (d *Demuxer) Resume() {
	d.mu.Lock()
	if d.paused {
		d.paused = false
		close(d.resumeCh)
		d.resumeCh = make(chan struct{})
	}
	d.mu.Unlock()
}

// Close implements media.Demuxer.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		if d.paused {
			close(d.resumeCh)
		}
	}
	d.mu.Unlock()
	d.src.Abort()
	return nil
}
