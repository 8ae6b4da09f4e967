package audioscheduler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
)

type playCall struct {
	buf       Buffer
	whenSec   float64
	offsetSec float64
}

type fakeDevice struct {
	now     float64
	calls   []playCall
	stopped bool
}

func (d *fakeDevice) CurrentTime() float64 { return d.now }
func (d *fakeDevice) SampleRate() int      { return 48000 }
func (d *fakeDevice) StopAll()             { d.stopped = true }
func (d *fakeDevice) Play(buf Buffer, whenSec, offsetSec float64) error {
	d.calls = append(d.calls, playCall{buf: buf, whenSec: whenSec, offsetSec: offsetSec})
	return nil
}

// pcmBlock builds an AudioData covering durationSec of stereo f32 PCM.
func pcmBlock(tsUs int64, durationSec float64, sampleRate int) media.AudioData {
	frames := int(durationSec * float64(sampleRate))
	return media.NewAudioData(tsUs, make([]byte, frames*bytesPerSample*2), sampleRate, 2, nil)
}

func TestSchedule_FirstBlockAnchorsWithStartDelay(t *testing.T) {
	dev := &fakeDevice{now: 1.0}
	s := New(dev, nil)

	var anchorTs, anchorWall int64 = -1, -1
	s.OnAnchor = func(tsUs, wallMs int64) { anchorTs, anchorWall = tsUs, wallMs }

	require.NoError(t, s.Schedule(pcmBlock(0, 0.02, 48000)))

	require.Len(t, dev.calls, 1)
	assert.InDelta(t, 1.05, dev.calls[0].whenSec, 1e-9)
	assert.Zero(t, dev.calls[0].offsetSec)
	assert.InDelta(t, 1.07, s.Stats().LastScheduledEnd, 1e-9)

	assert.Equal(t, int64(0), anchorTs)
	assert.Equal(t, int64(1050), anchorWall)
}

func TestSchedule_ConsecutiveBlocksLandBackToBack(t *testing.T) {
	dev := &fakeDevice{now: 1.0}
	s := New(dev, nil)

	require.NoError(t, s.Schedule(pcmBlock(0, 0.02, 48000)))
	require.NoError(t, s.Schedule(pcmBlock(20_000, 0.02, 48000)))

	require.Len(t, dev.calls, 2)
	assert.InDelta(t, 1.07, dev.calls[1].whenSec, 1e-9)
	assert.InDelta(t, 1.09, s.Stats().LastScheduledEnd, 1e-9)
}

func TestSchedule_WhollyLateBlockDropped(t *testing.T) {
	dev := &fakeDevice{now: 1.0}
	s := New(dev, nil)

	require.NoError(t, s.Schedule(pcmBlock(0, 0.02, 48000)))
	// The device has played well past where this block belongs.
	dev.now = 3.0
	require.NoError(t, s.Schedule(pcmBlock(40_000, 0.02, 48000)))

	require.Len(t, dev.calls, 1)
	assert.Equal(t, 1, s.Stats().Dropped)
}

func TestSchedule_PartiallyLateBlockPlaysTail(t *testing.T) {
	dev := &fakeDevice{now: 1.0}
	s := New(dev, nil)

	require.NoError(t, s.Schedule(pcmBlock(0, 0.02, 48000)))
	// Device time has advanced 10 ms into the second block's window.
	dev.now = 1.08
	require.NoError(t, s.Schedule(pcmBlock(20_000, 0.02, 48000)))

	require.Len(t, dev.calls, 2)
	call := dev.calls[1]
	assert.InDelta(t, 0.01, call.offsetSec, 1e-9)
	assert.InDelta(t, 1.08, call.whenSec, 1e-9)
}

func TestSchedule_ReanchorsAfterDeviceClockReset(t *testing.T) {
	dev := &fakeDevice{now: 5.0}
	s := New(dev, nil)

	var anchors []int64
	s.OnAnchor = func(tsUs, wallMs int64) { anchors = append(anchors, wallMs) }

	require.NoError(t, s.Schedule(pcmBlock(0, 0.02, 48000)))
	// Suspend/resume reset the device clock.
	dev.now = 0.1
	require.NoError(t, s.Schedule(pcmBlock(20_000, 0.02, 48000)))

	require.Len(t, anchors, 2)
	assert.Equal(t, int64(5050), anchors[0])
	assert.Equal(t, int64(150), anchors[1])
	assert.True(t, s.Anchored())
}

func TestSchedule_BlockDurationFromPCMSize(t *testing.T) {
	dev := &fakeDevice{now: 0}
	s := New(dev, nil)

	require.NoError(t, s.Schedule(pcmBlock(0, 0.5, 44100)))
	require.Len(t, dev.calls, 1)
	assert.True(t, math.Abs(dev.calls[0].buf.DurationSec-0.5) < 1e-3)
}

func TestStop_ResetsAnchorAndStopsDevice(t *testing.T) {
	dev := &fakeDevice{now: 1.0}
	s := New(dev, nil)

	require.NoError(t, s.Schedule(pcmBlock(0, 0.02, 48000)))
	s.Stop()

	assert.True(t, dev.stopped)
	assert.False(t, s.Anchored())
	assert.Zero(t, s.ScheduledAheadSec())
}
