package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zzzwannasleep/WebPlayer/internal/audioscheduler"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/orchestrator"
)

var playDuration time.Duration

// playCmd drives the full pipeline against stub decoders, logging every
// rendered frame, scheduled audio block, and subtitle cue so the core's
// behavior is observable without a GUI.
var playCmd = &cobra.Command{
	Use:   "play <file-or-url>",
	Short: "Play a source against stub decoders, logging pipeline activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.Default()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		src, err := openSource(ctx, args[0], cfg.HTTPSource, logger)
		if err != nil {
			return err
		}

		device := &monotonicDevice{start: time.Now()}
		player := orchestrator.New(orchestrator.Options{
			Logger:          logger,
			NewVideoDecoder: func() orchestrator.VideoDecoder { return &stubVideoDecoder{} },
			NewAudioDecoder: func() orchestrator.AudioDecoder { return &stubAudioDecoder{} },
			Renderer:        &logRenderer{logger: logger},
			Device:          device,
			Subtitles: func(cue media.SubtitleCue) {
				switch cue.Kind {
				case media.SubtitleText:
					logger.Info("subtitle cue",
						slog.Int64("start_us", cue.StartUs),
						slog.Int64("end_us", cue.EndUs),
						slog.String("text", cue.Text))
				case media.SubtitlePGS:
					logger.Info("subtitle cue", slog.Int("pgs_bytes", len(cue.Bytes)))
				}
			},
		})
		defer player.Stop()

		if err := player.Load(ctx, src); err != nil {
			return err
		}

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		deadline := time.Now().Add(playDuration)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if stats, ok := player.Stats(); ok {
					logger.Info("session stats",
						slog.Uint64("frames_rendered", stats.FramesRendered),
						slog.Uint64("frames_dropped", stats.FramesDropped),
						slog.Uint64("video_chunks", stats.VideoChunks),
						slog.Uint64("audio_chunks", stats.AudioChunks),
						slog.Int("video_queue", stats.VideoQueueDepth),
						slog.Int("audio_queue", stats.AudioQueueDepth))
				}
				if playDuration > 0 && time.Now().After(deadline) {
					return nil
				}
			}
		}
	},
}

func init() {
	playCmd.Flags().DurationVar(&playDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	rootCmd.AddCommand(playCmd)
}

// stubVideoDecoder passes chunks through as already-decoded frames.
type stubVideoDecoder struct {
	output func(media.VideoFrame)
}

func (d *stubVideoDecoder) IsConfigSupported(context.Context, orchestrator.VideoDecoderConfig) (bool, error) {
	return true, nil
}

func (d *stubVideoDecoder) Configure(_ orchestrator.VideoDecoderConfig, output func(media.VideoFrame), _ func(error)) error {
	d.output = output
	return nil
}

func (d *stubVideoDecoder) Decode(chunk media.EncodedVideoChunk) error {
	if d.output != nil {
		d.output(media.NewVideoFrame(chunk.TimestampUs, nil, nil))
	}
	return nil
}

func (d *stubVideoDecoder) Pending() int                { return 0 }
func (d *stubVideoDecoder) Flush(context.Context) error { return nil }
func (d *stubVideoDecoder) Close() error                { return nil }

// stubAudioDecoder synthesizes silent PCM blocks sized from chunk
// durations so the scheduler and clock behave as they would with a real
// decoder.
type stubAudioDecoder struct {
	cfg    orchestrator.AudioDecoderConfig
	output func(media.AudioData)
}

func (d *stubAudioDecoder) IsConfigSupported(context.Context, orchestrator.AudioDecoderConfig) (bool, error) {
	return true, nil
}

func (d *stubAudioDecoder) Configure(cfg orchestrator.AudioDecoderConfig, output func(media.AudioData), _ func(error)) error {
	d.cfg = cfg
	d.output = output
	return nil
}

func (d *stubAudioDecoder) Decode(chunk media.EncodedAudioChunk) error {
	if d.output == nil {
		return nil
	}
	rate := d.cfg.SampleRate
	if rate == 0 {
		rate = 48000
	}
	channels := d.cfg.Channels
	if channels == 0 {
		channels = 2
	}
	durationUs := chunk.DurationUs
	if durationUs == 0 {
		durationUs = 21333 // one AAC frame's worth as a fallback
	}
	frames := int(int64(rate) * durationUs / 1_000_000)
	d.output(media.NewAudioData(chunk.TimestampUs, make([]byte, frames*4*channels), rate, channels, nil))
	return nil
}

func (d *stubAudioDecoder) Pending() int                { return 0 }
func (d *stubAudioDecoder) Flush(context.Context) error { return nil }
func (d *stubAudioDecoder) Close() error                { return nil }

// logRenderer logs each presented frame instead of drawing it.
type logRenderer struct {
	logger *slog.Logger
}

func (r *logRenderer) Render(frame media.VideoFrame) {
	r.logger.Debug("frame rendered", slog.Int64("timestamp_us", frame.TimestampUs))
}

// monotonicDevice is a headless audio device: its clock runs on the
// system monotonic clock and scheduled buffers are logged, not played.
type monotonicDevice struct {
	start time.Time
}

func (d *monotonicDevice) CurrentTime() float64 { return time.Since(d.start).Seconds() }
func (d *monotonicDevice) SampleRate() int      { return 48000 }
func (d *monotonicDevice) Play(buf audioscheduler.Buffer, whenSec, offsetSec float64) error {
	slog.Debug("audio block scheduled",
		slog.Float64("when_sec", whenSec),
		slog.Float64("offset_sec", offsetSec),
		slog.Float64("duration_sec", buf.DurationSec))
	return nil
}
func (d *monotonicDevice) StopAll() {}
