// Package audioscheduler schedules decoded PCM blocks on the audio
// device's timeline. The device clock is the session's wall-clock anchor:
// the first scheduled block starts the media clock, and every later block
// lands relative to that anchor, dropped wholly or partially when late.
package audioscheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/observability"
)

// bytesPerSample is the size of one interleaved PCM sample value: the
// decoders deliver 32-bit float PCM.
const bytesPerSample = 4

// defaultStartDelaySec is the small lead applied before the first block so
// scheduling the block is never already in the past.
const defaultStartDelaySec = 0.05

// Buffer is one device-ready PCM block.
type Buffer struct {
	PCM         []byte
	SampleRate  int
	Channels    int
	DurationSec float64
}

// Device is the black-box audio output: a monotonic clock plus a
// schedule-at-time play call. Play starts buf at whenSec on the device
// timeline, skipping the first offsetSec of the buffer.
type Device interface {
	CurrentTime() float64
	SampleRate() int
	Play(buf Buffer, whenSec, offsetSec float64) error
	StopAll()
}

// Stats is a point-in-time snapshot of scheduling activity.
type Stats struct {
	Scheduled        int
	Dropped          int
	LastScheduledEnd float64
}

// Scheduler implements the audio scheduling policy. The first block
// anchors the timeline (and reports the anchor through OnAnchor so the
// session's media clock can start from it); later blocks are placed at
// their ideal start, trimmed or dropped when the device has already moved
// past them.
type Scheduler struct {
	device Device
	logger *slog.Logger

	// OnAnchor, when set, is called once per anchoring with the media
	// timestamp and the wall-clock milliseconds (device seconds × 1000)
	// the clock should start from.
	OnAnchor func(tsUs int64, wallMs int64)

	mu                  sync.Mutex
	anchored            bool
	anchorTsUs          int64
	anchorSec           float64
	lastScheduledEndSec float64
	lastDeviceTime      float64
	scheduled           int
	dropped             int
}

// New returns a Scheduler playing through device.
func New(device Device, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		device: device,
		logger: observability.WithComponent(logger, "audioscheduler"),
	}
}

// Schedule copies data into a device buffer, places it on the device
// timeline, and closes data. A block that would start entirely in the
// past is dropped; a block that is partially late plays its remaining
// tail at the correct position.
func (s *Scheduler) Schedule(data media.AudioData) error {
	defer data.Close()

	if data.SampleRate <= 0 || data.Channels <= 0 {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return fmt.Errorf("audioscheduler: block has no sample rate or channels")
	}

	frames := len(data.PCM) / (bytesPerSample * data.Channels)
	buf := Buffer{
		PCM:         append([]byte(nil), data.PCM...),
		SampleRate:  data.SampleRate,
		Channels:    data.Channels,
		DurationSec: float64(frames) / float64(data.SampleRate),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.device.CurrentTime()
	if now < s.lastDeviceTime {
		// The device clock reset across a suspend/resume; re-anchor from
		// this block.
		s.logger.Debug("device clock went backwards, re-anchoring",
			slog.Float64("now", now),
			slog.Float64("previous", s.lastDeviceTime))
		s.anchored = false
		s.lastScheduledEndSec = 0
	}
	s.lastDeviceTime = now

	if !s.anchored {
		s.anchorTsUs = data.TimestampUs
		s.anchorSec = now + defaultStartDelaySec
		s.anchored = true
		if s.OnAnchor != nil {
			s.OnAnchor(s.anchorTsUs, int64(s.anchorSec*1000))
		}
	}

	idealStartSec := s.anchorSec + float64(data.TimestampUs-s.anchorTsUs)/1e6
	minStartSec := now
	if s.lastScheduledEndSec > minStartSec {
		minStartSec = s.lastScheduledEndSec
	}
	offsetSec := minStartSec - idealStartSec
	if offsetSec < 0 {
		offsetSec = 0
	}

	if offsetSec >= buf.DurationSec {
		s.dropped++
		s.logger.Debug("dropping late audio block",
			slog.Int64("timestamp_us", data.TimestampUs),
			slog.Float64("offset_sec", offsetSec))
		return nil
	}

	if err := s.device.Play(buf, idealStartSec+offsetSec, offsetSec); err != nil {
		return fmt.Errorf("audioscheduler: scheduling block: %w", err)
	}
	s.scheduled++
	if end := idealStartSec + buf.DurationSec; end > s.lastScheduledEndSec {
		s.lastScheduledEndSec = end
	}
	return nil
}

// ScheduledAheadSec reports how far past the device's current time the
// scheduled tail extends; the orchestrator gates audio decode on this.
func (s *Scheduler) ScheduledAheadSec() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ahead := s.lastScheduledEndSec - s.device.CurrentTime()
	if ahead < 0 {
		return 0
	}
	return ahead
}

// Anchored reports whether the first block has anchored the timeline.
func (s *Scheduler) Anchored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchored
}

// Stop halts every scheduled source and resets the anchor.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.anchored = false
	s.lastScheduledEndSec = 0
	s.mu.Unlock()
	s.device.StopAll()
}

// Stats returns a snapshot of scheduling counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Scheduled:        s.scheduled,
		Dropped:          s.dropped,
		LastScheduledEnd: s.lastScheduledEndSec,
	}
}
