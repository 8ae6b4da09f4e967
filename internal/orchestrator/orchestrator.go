// Package orchestrator unifies the three demuxers behind one playback
// session: container detection, decoder capability queries, the
// decode/render loops, back-pressured extraction, audio-anchored clock
// start, and teardown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zzzwannasleep/WebPlayer/internal/audioscheduler"
	"github.com/zzzwannasleep/WebPlayer/internal/bytesource"
	"github.com/zzzwannasleep/WebPlayer/internal/detect"
	"github.com/zzzwannasleep/WebPlayer/internal/demux/mkv"
	"github.com/zzzwannasleep/WebPlayer/internal/demux/mp4"
	"github.com/zzzwannasleep/WebPlayer/internal/demux/ts"
	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/observability"
	"github.com/zzzwannasleep/WebPlayer/internal/urlutil"
)

// sniffBytes is how much of the resource head the content-sniffing
// fallback reads when the name carries no usable extension.
const sniffBytes = 64 * 1024

// Source describes one playback input: a display/detection name (file
// path or URL), an optional explicit container, and the byte source the
// demuxer pulls from.
type Source struct {
	Name      string
	Container detect.Container // ContainerUnknown means auto-detect
	Bytes     bytesource.ByteSource
}

// Options wires the out-of-scope black boxes into a Player: decoder
// factories, the renderer, the audio device, the subtitle cue handler,
// and an optional native media-element fallback for natively playable
// containers.
type Options struct {
	Logger          *slog.Logger
	NewVideoDecoder func() VideoDecoder
	NewAudioDecoder func() AudioDecoder
	Renderer        Renderer
	Device          audioscheduler.Device
	Subtitles       SubtitleHandler

	// NativeFallback, when set, is tried if the demux pipeline cannot
	// serve an MP4 source. MKV and TS are never handed to it.
	NativeFallback func(src Source) error
}

// Player owns at most one playback session at a time; Load replaces any
// running session.
type Player struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	session *session
	state   media.PipelineState
}

// New returns an idle Player.
func New(opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		opts:   opts,
		logger: observability.WithComponent(logger, "orchestrator"),
		state:  media.PipelineNone,
	}
}

// Load closes any prior pipeline, detects the container, opens the
// matching demuxer, queries decoder capability, and starts the decode/
// render loops. Video decoder failure is fatal; audio decoder failure
// disables audio and leaves video running on the monotonic clock.
func (p *Player) Load(ctx context.Context, src Source) error {
	p.Stop()

	container, err := DetectContainer(ctx, src)
	if err != nil {
		return err
	}

	var (
		demuxer media.Demuxer
		state   media.PipelineState
	)
	switch container {
	case detect.ContainerMP4:
		demuxer = mp4.New(src.Bytes, p.logger)
		state = media.PipelineWebCodecsMP4
	case detect.ContainerMKV:
		demuxer = mkv.New(src.Bytes, p.logger)
		state = media.PipelineWebCodecsMKV
	case detect.ContainerTS:
		demuxer = ts.New(src.Bytes, p.logger)
		state = media.PipelineWebCodecsTS
	default:
		return fmt.Errorf("orchestrator: unrecognized container for %q", src.Name)
	}

	if err := demuxer.Open(ctx); err != nil {
		demuxer.Close()
		return p.fallbackOrFail(src, container, fmt.Errorf("orchestrator: opening %s demuxer: %w", container, err))
	}

	s := newSession(state, demuxer, p.logger)
	s.renderer = p.opts.Renderer
	s.subtitleHandler = p.opts.Subtitles
	s.device = p.opts.Device

	if err := p.configureTracks(ctx, s, src, container); err != nil {
		s.stop()
		return err
	}
	p.mu.Lock()
	fellBack := p.state == media.PipelineVideoElement
	p.mu.Unlock()
	if fellBack {
		s.stop()
		return nil
	}

	p.mu.Lock()
	p.session = s
	p.state = state
	p.mu.Unlock()

	s.start()
	p.logger.Info("session started",
		slog.String("session_id", s.id.String()),
		slog.String("source", src.Name),
		slog.String("pipeline", state.String()))
	return nil
}

// DetectContainer resolves the container from the source's explicit mode,
// the name's extension, or a content sniff of the resource head, in that
// order.
func DetectContainer(ctx context.Context, src Source) (detect.Container, error) {
	if src.Container != detect.ContainerUnknown {
		return src.Container, nil
	}

	switch urlutil.PathExtension(src.Name) {
	case "mp4", "m4v", "m4a", "mov":
		return detect.ContainerMP4, nil
	case "mkv", "webm":
		return detect.ContainerMKV, nil
	case "ts", "m2ts", "mts":
		return detect.ContainerTS, nil
	}

	end := src.Bytes.Size()
	if end > sniffBytes {
		end = sniffBytes
	}
	head, err := src.Bytes.Slice(0, end).Bytes(ctx)
	if err != nil {
		return detect.ContainerUnknown, fmt.Errorf("orchestrator: sniffing container: %w", err)
	}
	if c := detect.Sniff(head); c != detect.ContainerUnknown {
		return c, nil
	}
	return detect.ContainerUnknown, fmt.Errorf("orchestrator: cannot determine container for %q", src.Name)
}

// fallbackOrFail routes a failed load to the native media-element
// pipeline when the container is natively playable; MKV and TS are
// refused with a diagnostic instead.
func (p *Player) fallbackOrFail(src Source, container detect.Container, cause error) error {
	if container == detect.ContainerMP4 && p.opts.NativeFallback != nil {
		p.logger.Warn("falling back to native element pipeline", slog.String("error", cause.Error()))
		if err := p.opts.NativeFallback(src); err != nil {
			return fmt.Errorf("orchestrator: native fallback failed: %w", err)
		}
		p.mu.Lock()
		p.state = media.PipelineVideoElement
		p.mu.Unlock()
		return nil
	}
	if container == detect.ContainerMKV || container == detect.ContainerTS {
		return fmt.Errorf("orchestrator: %s is not natively playable, no fallback: %w", container, cause)
	}
	return cause
}

// configureTracks selects tracks, queries decoder capability, and
// registers delivery callbacks on the demuxer.
func (p *Player) configureTracks(ctx context.Context, s *session, src Source, container detect.Container) error {
	var videoTrack, audioTrack, subtitleTrack *media.TrackDescriptor
	for i := range s.demuxer.Tracks() {
		t := &s.demuxer.Tracks()[i]
		switch {
		case t.Kind == media.TrackVideo && videoTrack == nil:
			videoTrack = t
		case t.Kind == media.TrackAudio && audioTrack == nil:
			audioTrack = t
		case t.Kind == media.TrackSubtitle && subtitleTrack == nil:
			subtitleTrack = t
		}
	}
	if videoTrack == nil && audioTrack == nil {
		return fmt.Errorf("orchestrator: no playable tracks in %q", src.Name)
	}

	if videoTrack != nil {
		if p.opts.NewVideoDecoder == nil {
			return fmt.Errorf("orchestrator: no video decoder available")
		}
		dec := p.opts.NewVideoDecoder()
		cfg := VideoDecoderConfig{
			Codec:       videoTrack.Codec,
			Description: videoTrack.CodecPrivate,
			Width:       videoTrack.Width,
			Height:      videoTrack.Height,
		}
		supported, err := dec.IsConfigSupported(ctx, cfg)
		if err != nil {
			return fmt.Errorf("orchestrator: video capability query: %w", err)
		}
		if !supported {
			return p.fallbackOrFail(src, container,
				fmt.Errorf("orchestrator: video codec %q unsupported", cfg.Codec))
		}
		if err := dec.Configure(cfg, s.onDecodedVideoFrame, func(err error) {
			s.logger.Error("video decoder error", slog.String("error", err.Error()))
		}); err != nil {
			return fmt.Errorf("orchestrator: configuring video decoder: %w", err)
		}
		s.videoDecoder = dec
		if err := s.demuxer.SelectVideoTrack(videoTrack.ID, s.onVideoChunk); err != nil {
			return err
		}
	}

	if audioTrack != nil && p.opts.NewAudioDecoder != nil && s.device != nil {
		dec := p.opts.NewAudioDecoder()
		cfg := AudioDecoderConfig{
			Codec:       audioTrack.Codec,
			Description: audioTrack.CodecPrivate,
			SampleRate:  audioTrack.SampleRate,
			Channels:    audioTrack.Channels,
		}
		supported, err := dec.IsConfigSupported(ctx, cfg)
		switch {
		case err != nil:
			p.logger.Warn("audio capability query failed, disabling audio", slog.String("error", err.Error()))
		case !supported:
			p.logger.Warn("audio codec unsupported, disabling audio", slog.String("codec", cfg.Codec))
		default:
			if err := dec.Configure(cfg, s.onDecodedAudioData, func(err error) {
				s.disableAudio("audio decoder error", err)
			}); err != nil {
				p.logger.Warn("configuring audio decoder failed, disabling audio", slog.String("error", err.Error()))
			} else {
				s.audioDecoder = dec
				s.audioEnabled = true
				s.waitingForAudio = true
				s.sched = audioscheduler.New(s.device, p.logger)
				s.sched.OnAnchor = s.onAudioAnchor
				if err := s.demuxer.SelectAudioTrack(audioTrack.ID, s.onAudioChunk); err != nil {
					return err
				}
			}
		}
	}

	if subtitleTrack != nil && s.subtitleHandler != nil {
		if err := s.demuxer.SelectSubtitleTrack(subtitleTrack.ID, s.onSubtitleCue); err != nil {
			p.logger.Debug("subtitle track selection failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Pause pauses playback: the clock latches and extraction suspends.
func (p *Player) Pause() {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s != nil {
		s.pause()
	}
}

// Resume continues a paused session.
func (p *Player) Resume() {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s != nil {
		s.resume()
	}
}

// Stop tears down the current session, if any, returning the Player to
// idle.
func (p *Player) Stop() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.state = media.PipelineNone
	p.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

// State reports the current pipeline state.
func (p *Player) State() media.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the running session, if one exists.
func (p *Player) Stats() (SessionStats, bool) {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s == nil {
		return SessionStats{}, false
	}
	return s.stats(), true
}
