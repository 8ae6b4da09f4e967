package orchestrator

import (
	"context"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
)

// VideoDecoderConfig is the capability-query input for a video decoder.
type VideoDecoderConfig struct {
	Codec       string
	Description []byte
	Width       int
	Height      int
}

// AudioDecoderConfig is the capability-query input for an audio decoder.
type AudioDecoderConfig struct {
	Codec       string
	Description []byte
	SampleRate  int
	Channels    int
}

// VideoDecoder is the black-box submit-and-receive video decoder. Decoded
// frames arrive on the output callback registered via Configure; decode
// errors arrive on the error callback. Pending reports how many submitted
// chunks have not yet produced output, which the orchestrator uses to
// bound decoder queue depth.
type VideoDecoder interface {
	IsConfigSupported(ctx context.Context, cfg VideoDecoderConfig) (bool, error)
	Configure(cfg VideoDecoderConfig, output func(media.VideoFrame), onError func(error)) error
	Decode(chunk media.EncodedVideoChunk) error
	Pending() int
	Flush(ctx context.Context) error
	Close() error
}

// AudioDecoder is the audio counterpart of VideoDecoder.
type AudioDecoder interface {
	IsConfigSupported(ctx context.Context, cfg AudioDecoderConfig) (bool, error)
	Configure(cfg AudioDecoderConfig, output func(media.AudioData), onError func(error)) error
	Decode(chunk media.EncodedAudioChunk) error
	Pending() int
	Flush(ctx context.Context) error
	Close() error
}

// Renderer consumes presented video frames. The session closes each frame
// after Render returns.
type Renderer interface {
	Render(frame media.VideoFrame)
}

// SubtitleHandler receives assembled subtitle cues from the demuxer.
type SubtitleHandler func(cue media.SubtitleCue)
