package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zzzwannasleep/WebPlayer/internal/audioscheduler"
	"github.com/zzzwannasleep/WebPlayer/internal/clock"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/ring"
)

const (
	// frameRingCapacity bounds the decoded-frame ring.
	frameRingCapacity = 8

	// maxVideoPending / maxAudioPending bound how many submitted chunks
	// may be in flight inside each decoder.
	maxVideoPending = 4
	maxAudioPending = 8

	// audioLookaheadSec stops submitting audio once the scheduled tail
	// extends this far past the device's current time.
	audioLookaheadSec = 2.0

	// highWaterChunks / lowWaterChunks are the per-queue back-pressure
	// thresholds for pausing and resuming extraction.
	highWaterChunks = 120
	lowWaterChunks  = 40

	// renderTickInterval approximates a display refresh.
	renderTickInterval = 16 * time.Millisecond

	// audioStartTimeout force-starts the clock from the earliest buffered
	// video frame when audio never anchors.
	audioStartTimeout = time.Second
)

// SessionStats is a point-in-time snapshot of a playback session.
type SessionStats struct {
	ID              uuid.UUID
	State           media.PipelineState
	Paused          bool
	FramesRendered  uint64
	FramesDropped   uint64
	VideoChunks     uint64
	AudioChunks     uint64
	SubtitleCues    uint64
	VideoQueueDepth int
	AudioQueueDepth int
	FrameRingDepth  int
	AudioEnabled    bool
	ClockStarted    bool
}

// session owns one load's pipeline: the demuxer, the decoders, the frame
// ring, the media clock, and the render/extract goroutines.
type session struct {
	id     uuid.UUID
	state  media.PipelineState
	logger *slog.Logger

	demuxer         media.Demuxer
	videoDecoder    VideoDecoder
	audioDecoder    AudioDecoder
	renderer        Renderer
	subtitleHandler SubtitleHandler
	device          audioscheduler.Device
	sched           *audioscheduler.Scheduler
	clock           *clock.MediaClock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// epoch anchors the monotonic wall clock used when audio is inactive.
	epoch     time.Time
	startedAt time.Time

	mu               sync.Mutex
	frameRing        *ring.Buffer[media.VideoFrame]
	videoQueue       []media.EncodedVideoChunk
	audioQueue       []media.EncodedAudioChunk
	extractionPaused bool
	paused           bool
	stopped          bool
	audioEnabled     bool
	waitingForAudio  bool
	clockStarted     bool
	extractionDone   bool
	videoFlushed     bool
	audioFlushed     bool

	framesRendered uint64
	framesDropped  uint64
	videoChunks    uint64
	audioChunks    uint64
	subtitleCues   uint64
}

func newSession(state media.PipelineState, demuxer media.Demuxer, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        uuid.New(),
		state:     state,
		logger:    logger,
		demuxer:   demuxer,
		clock:     clock.New(),
		ctx:       ctx,
		cancel:    cancel,
		epoch:     time.Now(),
		startedAt: time.Now(),
		frameRing: ring.New[media.VideoFrame](frameRingCapacity),
	}
}

// wallMs is the session's wall clock in milliseconds: the audio device's
// clock while audio is active (so audio scheduling is exact), the
// monotonic system clock otherwise.
func (s *session) wallMs() int64 {
	if s.audioEnabled && s.device != nil {
		return int64(s.device.CurrentTime() * 1000)
	}
	return time.Since(s.epoch).Milliseconds()
}

// start launches the extraction and render goroutines.
func (s *session) start() {
	s.startedAt = time.Now()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		err := s.demuxer.Start(s.ctx)
		s.onExtractionDone(err)
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(renderTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.renderTick()
			}
		}
	}()
}

// --- demuxer callbacks ---

func (s *session) onVideoChunk(chunk media.EncodedVideoChunk) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.videoQueue = append(s.videoQueue, chunk)
	s.videoChunks++
	s.updateBackPressureLocked()
	s.mu.Unlock()
	s.pumpVideo()
}

func (s *session) onAudioChunk(chunk media.EncodedAudioChunk) {
	s.mu.Lock()
	if s.stopped || !s.audioEnabled {
		s.mu.Unlock()
		return
	}
	s.audioQueue = append(s.audioQueue, chunk)
	s.audioChunks++
	s.updateBackPressureLocked()
	s.mu.Unlock()
	s.pumpAudio()
}

func (s *session) onSubtitleCue(cue media.SubtitleCue) {
	s.mu.Lock()
	stopped := s.stopped
	if !stopped {
		s.subtitleCues++
	}
	handler := s.subtitleHandler
	s.mu.Unlock()
	if !stopped && handler != nil {
		handler(cue)
	}
}

func (s *session) onExtractionDone(err error) {
	s.mu.Lock()
	s.extractionDone = true
	stopped := s.stopped
	s.mu.Unlock()
	if err != nil && !stopped && s.ctx.Err() == nil {
		s.logger.Error("extraction failed", slog.String("error", err.Error()))
	}
	s.pumpVideo()
	s.pumpAudio()
}

// --- back-pressure ---

// updateBackPressureLocked pauses extraction when either queue exceeds the
// high-water mark and resumes it once both are below the low-water mark.
func (s *session) updateBackPressureLocked() {
	vq, aq := len(s.videoQueue), len(s.audioQueue)
	if !s.extractionPaused && (vq > highWaterChunks || aq > highWaterChunks) {
		s.extractionPaused = true
		s.demuxer.Pause()
		s.logger.Debug("extraction paused", slog.Int("video_queue", vq), slog.Int("audio_queue", aq))
	} else if s.extractionPaused && !s.paused && vq < lowWaterChunks && aq < lowWaterChunks {
		s.extractionPaused = false
		s.demuxer.Resume()
		s.logger.Debug("extraction resumed", slog.Int("video_queue", vq), slog.Int("audio_queue", aq))
	}
}

// --- video path ---

func (s *session) pumpVideo() {
	for {
		s.mu.Lock()
		dec := s.videoDecoder
		if dec == nil || s.stopped || s.paused {
			s.mu.Unlock()
			return
		}
		if len(s.videoQueue) == 0 {
			flush := s.extractionDone && !s.videoFlushed
			if flush {
				s.videoFlushed = true
			}
			s.mu.Unlock()
			if flush {
				if err := dec.Flush(s.ctx); err != nil && s.ctx.Err() == nil {
					s.logger.Debug("video flush failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		if dec.Pending() > maxVideoPending || s.frameRing.Len() > frameRingCapacity-2 {
			s.mu.Unlock()
			return
		}
		chunk := s.videoQueue[0]
		s.videoQueue = s.videoQueue[1:]
		s.updateBackPressureLocked()
		s.mu.Unlock()

		if err := dec.Decode(chunk); err != nil {
			// Video decode errors are non-fatal for the session; frames
			// may simply stop arriving.
			s.logger.Error("video decode failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *session) onDecodedVideoFrame(frame media.VideoFrame) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		frame.Close()
		return
	}
	if !s.clockStarted && !s.waitingForAudio {
		s.clock.Start(frame.TimestampUs, s.wallMs())
		s.clockStarted = true
	}
	before := s.frameRing.Stats().Dropped
	s.frameRing.PushEvictOldest(frame)
	s.framesDropped += s.frameRing.Stats().Dropped - before
	s.mu.Unlock()
}

func (s *session) renderTick() {
	s.mu.Lock()
	if s.stopped || s.paused {
		s.mu.Unlock()
		return
	}

	if s.waitingForAudio && time.Since(s.startedAt) > audioStartTimeout {
		if f, ok := s.frameRing.Peek(); ok {
			s.clock.Start(f.TimestampUs, s.wallMs())
			s.clockStarted = true
			s.waitingForAudio = false
			s.logger.Debug("audio never anchored, starting clock from earliest frame",
				slog.Int64("timestamp_us", f.TimestampUs))
		}
	}

	var due []media.VideoFrame
	if s.clockStarted {
		now := s.clock.NowUs(s.wallMs())
		for {
			f, ok := s.frameRing.Peek()
			if !ok || f.TimestampUs > now {
				break
			}
			s.frameRing.Pop()
			due = append(due, f)
		}
	}
	s.mu.Unlock()

	for _, f := range due {
		if s.renderer != nil {
			s.renderer.Render(f)
		}
		f.Close()
		s.mu.Lock()
		s.framesRendered++
		s.mu.Unlock()
	}

	s.pumpVideo()
	s.pumpAudio()
}

// --- audio path ---

func (s *session) pumpAudio() {
	for {
		s.mu.Lock()
		dec := s.audioDecoder
		if dec == nil || s.stopped || s.paused || !s.audioEnabled {
			s.mu.Unlock()
			return
		}
		if len(s.audioQueue) == 0 {
			flush := s.extractionDone && !s.audioFlushed
			if flush {
				s.audioFlushed = true
			}
			s.mu.Unlock()
			if flush {
				if err := dec.Flush(s.ctx); err != nil && s.ctx.Err() == nil {
					s.logger.Debug("audio flush failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		if dec.Pending() > maxAudioPending || s.sched.ScheduledAheadSec() >= audioLookaheadSec {
			s.mu.Unlock()
			return
		}
		chunk := s.audioQueue[0]
		s.audioQueue = s.audioQueue[1:]
		s.updateBackPressureLocked()
		s.mu.Unlock()

		if err := dec.Decode(chunk); err != nil {
			s.disableAudio("audio decode failed", err)
			return
		}
	}
}

func (s *session) onDecodedAudioData(data media.AudioData) {
	s.mu.Lock()
	if s.stopped || !s.audioEnabled {
		s.mu.Unlock()
		data.Close()
		return
	}
	s.mu.Unlock()
	if err := s.sched.Schedule(data); err != nil {
		s.disableAudio("audio scheduling failed", err)
	}
}

// onAudioAnchor starts the media clock from the audio scheduler's anchor,
// making the audio device clock the session's timeline.
func (s *session) onAudioAnchor(tsUs, wallMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.clock.Start(tsUs, wallMs)
	s.clockStarted = true
	s.waitingForAudio = false
}

// disableAudio tears down the audio pipeline, leaving video running on
// the monotonic clock. Audio runtime errors are terminal for audio but
// never for the session.
func (s *session) disableAudio(reason string, err error) {
	s.mu.Lock()
	if !s.audioEnabled {
		s.mu.Unlock()
		return
	}
	s.audioEnabled = false
	s.waitingForAudio = false
	s.audioQueue = nil
	dec := s.audioDecoder
	s.audioDecoder = nil
	s.mu.Unlock()

	s.logger.Warn(reason, slog.String("error", err.Error()))
	if s.sched != nil {
		s.sched.Stop()
	}
	if dec != nil {
		if cerr := dec.Close(); cerr != nil {
			s.logger.Debug("audio decoder close failed", slog.String("error", cerr.Error()))
		}
	}
}

// --- lifecycle ---

func (s *session) pause() {
	s.mu.Lock()
	if s.paused || s.stopped {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.clock.Pause(s.wallMs())
	if !s.extractionPaused {
		s.extractionPaused = true
		s.demuxer.Pause()
	}
	s.mu.Unlock()
}

func (s *session) resume() {
	s.mu.Lock()
	if !s.paused || s.stopped {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.clock.Resume(s.wallMs())
	s.extractionPaused = false
	s.demuxer.Resume()
	s.mu.Unlock()
	s.pumpVideo()
	s.pumpAudio()
}

// stop tears the session down: cancels the loops, aborts the byte source
// through the demuxer, drains and closes every buffered frame, stops all
// scheduled audio, and closes the decoders.
func (s *session) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	if err := s.demuxer.Close(); err != nil {
		s.logger.Debug("demuxer close failed", slog.String("error", err.Error()))
	}
	s.wg.Wait()

	s.mu.Lock()
	s.frameRing.Drain()
	s.videoQueue = nil
	s.audioQueue = nil
	videoDec := s.videoDecoder
	audioDec := s.audioDecoder
	s.videoDecoder = nil
	s.audioDecoder = nil
	s.mu.Unlock()

	if s.sched != nil {
		s.sched.Stop()
	}
	if videoDec != nil {
		if err := videoDec.Close(); err != nil {
			s.logger.Debug("video decoder close failed", slog.String("error", err.Error()))
		}
	}
	if audioDec != nil {
		if err := audioDec.Close(); err != nil {
			s.logger.Debug("audio decoder close failed", slog.String("error", err.Error()))
		}
	}
}

func (s *session) stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		ID:              s.id,
		State:           s.state,
		Paused:          s.paused,
		FramesRendered:  s.framesRendered,
		FramesDropped:   s.framesDropped,
		VideoChunks:     s.videoChunks,
		AudioChunks:     s.audioChunks,
		SubtitleCues:    s.subtitleCues,
		VideoQueueDepth: len(s.videoQueue),
		AudioQueueDepth: len(s.audioQueue),
		FrameRingDepth:  s.frameRing.Len(),
		AudioEnabled:    s.audioEnabled,
		ClockStarted:    s.clockStarted,
	}
}
