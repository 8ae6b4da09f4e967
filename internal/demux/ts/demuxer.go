package ts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/observability"
)

// probeWindowPackets is how many 204-byte packets worth of bytes the
// stride/sync probe reads (up to 50 packets at the largest stride).
const probeWindowPackets = 50

// driftGuardUs is the PTS drift threshold past which the audio timeline
// resyncs to the PES PTS rather than continuing to advance by frame
// duration.
const driftGuardUs = 500_000

const (
	videoTrackID = 1
	audioTrackID = 2
)

// Demuxer is the hand-rolled MPEG-TS/M2TS demultiplexer:
// stride/sync probing, PAT/PMT discovery, PES reassembly, and
// AVC Annex-B→AVCC / ADTS / MP3 elementary-stream framing.
type Demuxer struct {
	src    bytesource.ByteSource
	logger *slog.Logger

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
	stopped  bool

	stride    int
	offset    int
	pmtPID    int
	videoPID  int
	videoType int
	audioPID  int
	audioType int
	hasAudio  bool

	patAsm psiAssembler
	pmtAsm psiAssembler

	tracks []media.TrackDescriptor

	videoCB media.VideoSampleFunc
	audioCB media.AudioSampleFunc

	videoAsm pesAssembler
	audioAsm pesAssembler

	// Video codec description, filled in once SPS/PPS are seen.
	videoCodec       string
	videoDescription []byte
	videoReady       bool

	// Audio codec description.
	audioCodec       string
	audioDescription []byte
	audioSampleRate  int
	audioChannels    int
	audioReady       bool

	// One-slot look-ahead for video chunk duration.
	pendingVideo   *media.EncodedVideoChunk
	audioRemainder []byte
	audioNextTsUs  int64
	audioAnchored  bool

	// discoveryPos is the byte offset Open stopped at; Start resumes
	// packet parsing from here instead of re-parsing the prefix.
	discoveryPos int64
}

// New returns a TS demuxer pulling from src.
func New(src bytesource.ByteSource, logger *slog.Logger) *Demuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demuxer{
		src:      src,
		logger:   observability.WithComponent(logger, "demux.ts"),
		resumeCh: make(chan struct{}),
		pmtPID:   -1,
		videoPID: -1,
		audioPID: -1,
	}
}

// Open probes the stride/offset, then reads forward until both PAT and
// PMT have been parsed and video (and audio, if present) init data has
// been extracted from the first PES of each elementary stream.
func (d *Demuxer) Open(ctx context.Context) error {
	probeLen := int64(probeWindowPackets * 204)
	if probeLen > d.src.Size() {
		probeLen = d.src.Size()
	}
	head, err := d.src.Slice(0, probeLen).Bytes(ctx)
	if err != nil {
		return fmt.Errorf("ts: reading probe window: %w", err)
	}
	layout, err := probeStreamLayout(head)
	if err != nil {
		return fmt.Errorf("ts: %w", err)
	}
	d.stride, d.offset = layout.Stride, layout.Offset
	d.discoveryPos = int64(d.offset)
	d.logger.Debug("chosen TS packet layout", slog.Int("stride", d.stride), slog.Int("offset", d.offset))

	pos := int64(d.offset)
	size := d.src.Size()
	const readChunkPackets = 2000
	chunkBytes := int64(d.stride * readChunkPackets)

	for pos < size {
		end := pos + chunkBytes
		if end > size {
			end = size
		}
		buf, err := d.src.Slice(pos, end).Bytes(ctx)
		if err != nil {
			return fmt.Errorf("ts: reading packets: %w", err)
		}
		consumed, err := d.processChunk(ctx, buf, true)
		if err != nil {
			return err
		}
		pos += int64(consumed)
		if d.videoReady && (d.videoAsm.pending || !d.hasAudio || d.audioReady) {
			// Enough init data extracted; extraction proper continues
			// lazily from Start.
		}
		if d.discoveryComplete() {
			break
		}
		if consumed == 0 {
			break
		}
	}
	if d.videoPID < 0 {
		return errNoVideoTrack
	}
	if !d.videoReady {
		return fmt.Errorf("ts: never observed SPS/PPS for video track before end of stream")
	}

	d.tracks = append(d.tracks, media.TrackDescriptor{
		ID:           videoTrackID,
		Kind:         media.TrackVideo,
		Codec:        d.videoCodec,
		CodecPrivate: d.videoDescription,
	})
	if d.hasAudio && d.audioReady {
		d.tracks = append(d.tracks, media.TrackDescriptor{
			ID:           audioTrackID,
			Kind:         media.TrackAudio,
			Codec:        d.audioCodec,
			CodecPrivate: d.audioDescription,
			SampleRate:   d.audioSampleRate,
			Channels:     d.audioChannels,
		})
	}
	return nil
}

func (d *Demuxer) discoveryComplete() bool {
	if d.videoPID < 0 {
		return false
	}
	if !d.videoReady {
		return false
	}
	if d.hasAudio && !d.audioReady {
		return false
	}
	return true
}

// Tracks implements media.Demuxer.
func (d *Demuxer) Tracks() []media.TrackDescriptor { return d.tracks }

// SelectVideoTrack implements media.Demuxer.
func (d *Demuxer) SelectVideoTrack(trackID int, fn media.VideoSampleFunc) error {
	if trackID != videoTrackID {
		return fmt.Errorf("ts: unknown video track %d", trackID)
	}
	d.videoCB = fn
	return nil
}

// SelectAudioTrack implements media.Demuxer.
func (d *Demuxer) SelectAudioTrack(trackID int, fn media.AudioSampleFunc) error {
	if trackID != audioTrackID || !d.hasAudio {
		return fmt.Errorf("ts: unknown audio track %d", trackID)
	}
	d.audioCB = fn
	return nil
}

// SelectSubtitleTrack implements media.Demuxer. MPEG-TS carries no
// subtitle tracks in this implementation's scope.
func (d *Demuxer) SelectSubtitleTrack(int, media.SubtitleCueFunc) error {
	return fmt.Errorf("ts: no subtitle tracks")
}

// Start drives the extraction loop from wherever Open left off, reading
// forward to end of stream, honoring Pause/Resume at packet boundaries.
func (d *Demuxer) Start(ctx context.Context) error {
	pos := d.discoveryPos
	size := d.src.Size()
	const readChunkPackets = 2000
	chunkBytes := int64(d.stride * readChunkPackets)

	for pos < size {
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

		end := pos + chunkBytes
		if end > size {
			end = size
		}
		buf, err := d.src.Slice(pos, end).Bytes(ctx)
		if err != nil {
			return fmt.Errorf("ts: reading packets: %w", err)
		}
		consumed, err := d.processChunk(ctx, buf, false)
		if err != nil {
			return err
		}
		pos += int64(consumed)
		if consumed == 0 {
			break
		}
	}
	d.flushEOS()
	return nil
}

// Pause implements media.Demuxer: cooperatively suspends the extraction
// loop at the next packet boundary.
func (d *Demuxer) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume implements media.Demuxer: wakes the extraction loop.
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

// processChunk parses every stride-aligned packet in buf, dispatching PSI
// and PES data as discovered. When duringOpen is true, video/audio
// callbacks are not invoked (Open only extracts init data); the video/
// audio codec readiness flags still update as usual. Otherwise it stops
// at the next packet boundary (after at least one packet) once Pause or
// Close has been called, and reports only the bytes it parsed.
func (d *Demuxer) processChunk(ctx context.Context, buf []byte, duringOpen bool) (int, error) {
	consumed := 0
	for off := 0; off+d.stride <= len(buf); off += d.stride {
		if !duringOpen && off > 0 {
			d.mu.Lock()
			halt := d.paused || d.stopped
			d.mu.Unlock()
			if halt {
				break
			}
		}
		pkt := buf[off : off+d.stride]
		hdr, payloadStart, err := parsePacketHeader(pkt)
		if err != nil {
			consumed = off + d.stride
			continue
		}
		payload := pkt[payloadStart:]
		d.dispatchPacket(hdr, payload, duringOpen)
		consumed = off + d.stride
		select {
		case <-ctx.Done():
			return consumed, ctx.Err()
		default:
		}
	}
	d.discoveryPos += int64(consumed)
	return consumed, nil
}

func (d *Demuxer) dispatchPacket(hdr packetHeader, payload []byte, duringOpen bool) {
	switch {
	case hdr.PID == 0:
		if section := d.patAsm.feed(hdr.PayloadUnitStart, payload); section != nil {
			d.onPAT(section)
		}
	case hdr.PID == d.pmtPID && d.pmtPID >= 0:
		if section := d.pmtAsm.feed(hdr.PayloadUnitStart, payload); section != nil {
			d.onPMT(section)
		}
	case hdr.PID == d.videoPID && d.videoPID >= 0:
		d.onVideoPacket(hdr, payload, duringOpen)
	case hdr.PID == d.audioPID && d.audioPID >= 0:
		d.onAudioPacket(hdr, payload, duringOpen)
	}
}

func (d *Demuxer) onPAT(section []byte) {
	entries, err := parsePAT(section)
	if err != nil {
		d.logger.Debug("PAT parse failed", slog.String("error", err.Error()))
		return
	}
	pmtPID, ok := selectPMTPID(entries)
	if !ok {
		return
	}
	if d.pmtPID < 0 {
		d.pmtPID = pmtPID
		d.logger.Debug("PAT parsed", slog.Int("pmt_pid", pmtPID))
	}
}

func (d *Demuxer) onPMT(section []byte) {
	entries, err := parsePMT(section)
	if err != nil {
		d.logger.Debug("PMT parse failed", slog.String("error", err.Error()))
		return
	}
	videoPID, videoType, audioPID, audioType, hasAudio := selectVideoAudio(entries)
	if d.videoPID < 0 && videoPID >= 0 {
		d.videoPID, d.videoType = videoPID, videoType
		d.logger.Debug("video elementary stream selected", slog.Int("pid", videoPID), slog.Int("stream_type", videoType))
	}
	if d.audioPID < 0 && hasAudio {
		d.audioPID, d.audioType, d.hasAudio = audioPID, audioType, true
		d.logger.Debug("audio elementary stream selected", slog.Int("pid", audioPID), slog.Int("stream_type", audioType))
	}
}

func (d *Demuxer) onVideoPacket(hdr packetHeader, payload []byte, duringOpen bool) {
	finished, pts90k, hasPTS := d.videoAsm.feed(hdr.PayloadUnitStart, payload)
	if finished == nil {
		return
	}
	d.handleVideoPES(finished, pts90k, hasPTS, duringOpen)
}

func (d *Demuxer) handleVideoPES(payload []byte, pts90k int64, hasPTS bool, duringOpen bool) {
	nalus := scanAnnexBNALUs(payload)
	if len(nalus) == 0 {
		return
	}
	if !d.videoReady {
		sps, pps, ok := findSPSPPS(nalus)
		if !ok {
			return
		}
		codec, err := avcCodecString(sps)
		if err != nil {
			d.logger.Debug("codec string derivation failed", slog.String("error", err.Error()))
			return
		}
		d.videoCodec = codec
		d.videoDescription = buildAVCDecoderConfigurationRecord(sps, pps)
		d.videoReady = true
		d.logger.Debug("video track ready", slog.String("codec", codec))
	}
	if duringOpen || !hasPTS {
		return
	}
	avcc := annexBToAVCC(nalus)
	kind := media.ChunkDelta
	if containsIDR(nalus) {
		kind = media.ChunkKey
	}
	ts := ptsToUs(pts90k)
	chunk := media.EncodedVideoChunk{TrackID: videoTrackID, Kind: kind, TimestampUs: ts, Bytes: avcc}
	d.emitVideoWithLookahead(chunk)
}

func (d *Demuxer) emitVideoWithLookahead(chunk media.EncodedVideoChunk) {
	if d.pendingVideo != nil {
		prev := *d.pendingVideo
		prev.DurationUs = chunk.TimestampUs - prev.TimestampUs
		if prev.DurationUs < 0 {
			prev.DurationUs = 0
		}
		if d.videoCB != nil {
			d.videoCB(prev)
		}
	}
	c := chunk
	d.pendingVideo = &c
}

func (d *Demuxer) onAudioPacket(hdr packetHeader, payload []byte, duringOpen bool) {
	finished, pts90k, hasPTS := d.audioAsm.feed(hdr.PayloadUnitStart, payload)
	if finished == nil {
		return
	}
	d.handleAudioPES(finished, pts90k, hasPTS, duringOpen)
}

func (d *Demuxer) handleAudioPES(payload []byte, pts90k int64, hasPTS bool, duringOpen bool) {
	d.audioRemainder = append(d.audioRemainder, payload...)

	if !d.audioReady {
		d.tryResolveAudioInit()
		if !d.audioReady {
			return
		}
	}
	if duringOpen {
		return
	}

	if hasPTS {
		pesTsUs := ptsToUs(pts90k)
		if !d.audioAnchored {
			d.audioNextTsUs = pesTsUs
			d.audioAnchored = true
		} else if abs64(pesTsUs-d.audioNextTsUs) >= driftGuardUs {
			d.audioNextTsUs = pesTsUs
		}
	}

	switch d.audioType {
	case streamTypeAAC:
		frames, remainder := extractADTSFrames(d.audioRemainder)
		d.audioRemainder = remainder
		for _, f := range frames {
			d.emitAudioFrame(f)
		}
	case streamTypeMPEG1Audio, streamTypeMPEG2Audio:
		headers, payloads, remainder := extractMP3Frames(d.audioRemainder)
		d.audioRemainder = remainder
		for i, h := range headers {
			d.emitAudioFrame(payloads[i])
			d.audioNextTsUs += int64(h.samplesPerFrame()) * 1_000_000 / int64(h.SampleRate)
		}
	}
}

func (d *Demuxer) emitAudioFrame(payload []byte) {
	chunk := media.EncodedAudioChunk{TrackID: audioTrackID, TimestampUs: d.audioNextTsUs, Bytes: payload}
	if d.audioCB != nil {
		d.audioCB(chunk)
	}
	switch d.audioType {
	case streamTypeAAC:
		frameDur := int64(1024)
		if d.audioSampleRate > 0 {
			d.audioNextTsUs += roundDiv(frameDur*1_000_000, int64(d.audioSampleRate))
		}
	}
}

func (d *Demuxer) tryResolveAudioInit() {
	switch d.audioType {
	case streamTypeAAC:
		syncAt := findADTSSync(d.audioRemainder)
		if syncAt < 0 {
			return
		}
		hdr, err := parseADTSHeader(d.audioRemainder[syncAt:])
		if err != nil {
			return
		}
		d.audioCodec = hdr.aacCodecString()
		d.audioDescription = hdr.audioSpecificConfig()
		d.audioSampleRate = hdr.sampleRate()
		d.audioChannels = hdr.ChannelConfig
		d.audioReady = true
	case streamTypeMPEG1Audio, streamTypeMPEG2Audio:
		syncAt := findMP3Sync(d.audioRemainder)
		if syncAt < 0 {
			return
		}
		hdr, err := parseMP3Header(d.audioRemainder[syncAt:])
		if err != nil {
			return
		}
		d.audioCodec = "mp3"
		d.audioSampleRate = hdr.SampleRate
		d.audioChannels = 2
		d.audioReady = true
	}
}

func (d *Demuxer) flushEOS() {
	if finished, pts90k, hasPTS, ok := d.videoAsm.flush(); ok {
		d.handleVideoPES(finished, pts90k, hasPTS, false)
	}
	if d.pendingVideo != nil {
		final := *d.pendingVideo
		final.DurationUs = 0
		if d.videoCB != nil {
			d.videoCB(final)
		}
		d.pendingVideo = nil
	}
	if finished, pts90k, hasPTS, ok := d.audioAsm.flush(); ok {
		d.handleAudioPES(finished, pts90k, hasPTS, false)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
