package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzwannasleep/WebPlayer/internal/audioscheduler"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/testutil"
)

// --- fakes ---

type fakeVideoDecoder struct {
	mu        sync.Mutex
	output    func(media.VideoFrame)
	supported bool
	decoded   int
	closed    bool
	frameOpen *atomic.Int64
}

func (d *fakeVideoDecoder) IsConfigSupported(context.Context, VideoDecoderConfig) (bool, error) {
	return d.supported, nil
}

func (d *fakeVideoDecoder) Configure(_ VideoDecoderConfig, output func(media.VideoFrame), _ func(error)) error {
	d.output = output
	return nil
}

func (d *fakeVideoDecoder) Decode(chunk media.EncodedVideoChunk) error {
	d.mu.Lock()
	d.decoded++
	out := d.output
	d.mu.Unlock()
	if out != nil {
		d.frameOpen.Add(1)
		out(media.NewVideoFrame(chunk.TimestampUs, nil, func() { d.frameOpen.Add(-1) }))
	}
	return nil
}

func (d *fakeVideoDecoder) Pending() int                { return 0 }
func (d *fakeVideoDecoder) Flush(context.Context) error { return nil }
func (d *fakeVideoDecoder) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

type fakeAudioDecoder struct {
	supported bool
	output    func(media.AudioData)
}

func (d *fakeAudioDecoder) IsConfigSupported(context.Context, AudioDecoderConfig) (bool, error) {
	return d.supported, nil
}

func (d *fakeAudioDecoder) Configure(_ AudioDecoderConfig, output func(media.AudioData), _ func(error)) error {
	d.output = output
	return nil
}

func (d *fakeAudioDecoder) Decode(chunk media.EncodedAudioChunk) error {
	if d.output != nil {
		d.output(media.NewAudioData(chunk.TimestampUs, make([]byte, 4*2*480), 48000, 2, nil))
	}
	return nil
}

func (d *fakeAudioDecoder) Pending() int                { return 0 }
func (d *fakeAudioDecoder) Flush(context.Context) error { return nil }
func (d *fakeAudioDecoder) Close() error                { return nil }

type fakeRenderer struct {
	mu     sync.Mutex
	stamps []int64
}

func (r *fakeRenderer) Render(frame media.VideoFrame) {
	r.mu.Lock()
	r.stamps = append(r.stamps, frame.TimestampUs)
	r.mu.Unlock()
}

func (r *fakeRenderer) rendered() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.stamps...)
}

type fakeAudioDevice struct {
	start time.Time
}

func (d *fakeAudioDevice) CurrentTime() float64 {
	return time.Since(d.start).Seconds()
}
func (d *fakeAudioDevice) SampleRate() int { return 48000 }
func (d *fakeAudioDevice) Play(audioscheduler.Buffer, float64, float64) error {
	return nil
}
func (d *fakeAudioDevice) StopAll() {}

// fakeDemuxer drives session unit tests without a container.
type fakeDemuxer struct {
	mu      sync.Mutex
	paused  int
	resumed int
	tracks  []media.TrackDescriptor
}

func (d *fakeDemuxer) Open(context.Context) error           { return nil }
func (d *fakeDemuxer) Tracks() []media.TrackDescriptor      { return d.tracks }
func (d *fakeDemuxer) SelectVideoTrack(int, media.VideoSampleFunc) error {
	return nil
}
func (d *fakeDemuxer) SelectAudioTrack(int, media.AudioSampleFunc) error {
	return nil
}
func (d *fakeDemuxer) SelectSubtitleTrack(int, media.SubtitleCueFunc) error {
	return nil
}
func (d *fakeDemuxer) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (d *fakeDemuxer) Pause() {
	d.mu.Lock()
	d.paused++
	d.mu.Unlock()
}
func (d *fakeDemuxer) Resume() {
	d.mu.Lock()
	d.resumed++
	d.mu.Unlock()
}
func (d *fakeDemuxer) Close() error { return nil }

func (d *fakeDemuxer) pauseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// --- fixtures ---

var fixtureAvcC = []byte{0x01, 0x42, 0xC0, 0x1E, 0xFF, 0xE0, 0x00, 0x00}

func videoOnlyMP4(sampleCount int) []byte {
	samples := make([]testutil.MP4Sample, sampleCount)
	for i := range samples {
		samples[i] = testutil.MP4Sample{
			Bytes:         []byte{byte(i)},
			DurationTicks: 900, // 10 ms at 90 kHz
			Sync:          i == 0,
		}
	}
	return testutil.BuildMP4(testutil.MP4TrackSpec{
		Handler:     "vide",
		EntryFormat: "avc1",
		ChildType:   "avcC",
		ChildBytes:  fixtureAvcC,
		Width:       640,
		Height:      360,
		Timescale:   90000,
		Samples:     samples,
	})
}

// --- tests ---

func TestLoad_MP4VideoPlaysToCompletion(t *testing.T) {
	var open atomic.Int64
	dec := &fakeVideoDecoder{supported: true, frameOpen: &open}
	renderer := &fakeRenderer{}
	p := New(Options{
		NewVideoDecoder: func() VideoDecoder { return dec },
		Renderer:        renderer,
	})

	src := Source{
		Name:  "clip.mp4",
		Bytes: &testutil.MemSource{Data: videoOnlyMP4(5)},
	}
	require.NoError(t, p.Load(context.Background(), src))
	assert.Equal(t, media.PipelineWebCodecsMP4, p.State())

	require.Eventually(t, func() bool {
		return len(renderer.rendered()) == 5
	}, 2*time.Second, 10*time.Millisecond)

	stamps := renderer.rendered()
	for i := 1; i < len(stamps); i++ {
		assert.LessOrEqual(t, stamps[i-1], stamps[i])
	}

	p.Stop()
	assert.Equal(t, media.PipelineNone, p.State())
	// Every decoded frame was closed, either after render or on drain.
	assert.Equal(t, int64(0), open.Load())
	assert.True(t, dec.closed)
}

func TestLoad_UnsupportedVideoCodecIsFatal(t *testing.T) {
	var open atomic.Int64
	dec := &fakeVideoDecoder{supported: false, frameOpen: &open}
	p := New(Options{
		NewVideoDecoder: func() VideoDecoder { return dec },
	})

	src := Source{
		Name:  "clip.mp4",
		Bytes: &testutil.MemSource{Data: videoOnlyMP4(1)},
	}
	err := p.Load(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
	assert.Equal(t, media.PipelineNone, p.State())
}

func TestLoad_UnrecognizedContainerFails(t *testing.T) {
	p := New(Options{})
	err := p.Load(context.Background(), Source{
		Name:  "mystery.bin",
		Bytes: &testutil.MemSource{Data: make([]byte, 512)},
	})
	require.Error(t, err)
}

func TestLoad_TSRefusesNativeFallback(t *testing.T) {
	fallbackCalled := false
	p := New(Options{
		NewVideoDecoder: func() VideoDecoder {
			return &fakeVideoDecoder{supported: false, frameOpen: &atomic.Int64{}}
		},
		NativeFallback: func(Source) error {
			fallbackCalled = true
			return nil
		},
	})
	// Garbage bytes under a .ts name: the demuxer open fails and no
	// fallback is permitted.
	err := p.Load(context.Background(), Source{
		Name:  "stream.ts",
		Bytes: &testutil.MemSource{Data: make([]byte, 1024)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not natively playable")
	assert.False(t, fallbackCalled)
}

func TestLoad_AudioUnsupportedDisablesAudioKeepsVideo(t *testing.T) {
	var open atomic.Int64
	renderer := &fakeRenderer{}
	p := New(Options{
		NewVideoDecoder: func() VideoDecoder {
			return &fakeVideoDecoder{supported: true, frameOpen: &open}
		},
		NewAudioDecoder: func() AudioDecoder { return &fakeAudioDecoder{supported: false} },
		Renderer:        renderer,
		Device:          &fakeAudioDevice{start: time.Now()},
	})

	asc := []byte{0x12, 0x10}
	data := testutil.BuildMP4(
		testutil.MP4TrackSpec{
			Handler:     "vide",
			EntryFormat: "avc1",
			ChildType:   "avcC",
			ChildBytes:  fixtureAvcC,
			Width:       640,
			Height:      360,
			Timescale:   90000,
			Samples: []testutil.MP4Sample{
				{Bytes: []byte{1}, DurationTicks: 900, Sync: true},
				{Bytes: []byte{2}, DurationTicks: 900},
			},
		},
		testutil.MP4TrackSpec{
			Handler:     "soun",
			EntryFormat: "mp4a",
			ChildType:   "esds",
			ChildBytes:  testutil.BuildEsds(asc),
			SampleRate:  48000,
			Channels:    2,
			Timescale:   48000,
			Samples: []testutil.MP4Sample{
				{Bytes: []byte{9}, DurationTicks: 1024, Sync: true},
			},
		},
	)

	require.NoError(t, p.Load(context.Background(), Source{
		Name:  "clip.mp4",
		Bytes: &testutil.MemSource{Data: data},
	}))
	defer p.Stop()

	stats, ok := p.Stats()
	require.True(t, ok)
	assert.False(t, stats.AudioEnabled)

	// Video still renders on the monotonic clock.
	require.Eventually(t, func() bool {
		return len(renderer.rendered()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_BackPressurePausesAndResumesExtraction(t *testing.T) {
	dmx := &fakeDemuxer{}
	s := newSession(media.PipelineWebCodecsTS, dmx, testLogger())
	defer s.stop()

	for i := 0; i <= highWaterChunks; i++ {
		s.mu.Lock()
		s.videoQueue = append(s.videoQueue, media.EncodedVideoChunk{TimestampUs: int64(i)})
		s.updateBackPressureLocked()
		s.mu.Unlock()
	}
	assert.Equal(t, 1, dmx.pauseCount())

	s.mu.Lock()
	s.videoQueue = s.videoQueue[:lowWaterChunks-1]
	s.updateBackPressureLocked()
	extractionPaused := s.extractionPaused
	s.mu.Unlock()
	assert.False(t, extractionPaused)
}

func TestSession_ForceStartsClockWhenAudioNeverAnchors(t *testing.T) {
	dmx := &fakeDemuxer{}
	s := newSession(media.PipelineWebCodecsMKV, dmx, testLogger())
	defer s.stop()

	s.mu.Lock()
	s.audioEnabled = true
	s.waitingForAudio = true
	s.frameRing.PushEvictOldest(media.NewVideoFrame(500_000, nil, nil))
	s.startedAt = time.Now().Add(-2 * time.Second)
	s.mu.Unlock()

	s.renderTick()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.clockStarted)
	assert.False(t, s.waitingForAudio)
}

func TestSession_PauseLatchesClock(t *testing.T) {
	dmx := &fakeDemuxer{}
	s := newSession(media.PipelineWebCodecsMP4, dmx, testLogger())
	defer s.stop()

	s.mu.Lock()
	s.clock.Start(0, s.wallMs())
	s.clockStarted = true
	s.mu.Unlock()

	s.pause()
	now1 := s.clock.NowUs(s.wallMs() + 100)
	now2 := s.clock.NowUs(s.wallMs() + 500)
	assert.Equal(t, now1, now2)
	assert.Equal(t, 1, dmx.pauseCount())

	s.resume()
	assert.False(t, s.clock.Paused())
}

func TestSession_SubtitleCuesForwarded(t *testing.T) {
	dmx := &fakeDemuxer{}
	s := newSession(media.PipelineWebCodecsMKV, dmx, testLogger())
	defer s.stop()

	var cues []media.SubtitleCue
	s.subtitleHandler = func(cue media.SubtitleCue) { cues = append(cues, cue) }

	s.onSubtitleCue(media.SubtitleCue{
		Kind:    media.SubtitleText,
		StartUs: 0,
		EndUs:   2_000_000,
		Text:    "hello",
	})

	require.Len(t, cues, 1)
	assert.Equal(t, "hello", cues[0].Text)
	assert.Equal(t, uint64(1), s.stats().SubtitleCues)
}

func testLogger() *slog.Logger {
	return slog.Default()
}
