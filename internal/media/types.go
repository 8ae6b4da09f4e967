// Package media defines the container-agnostic data model shared by every
// demuxer and by the playback orchestrator: track descriptors, encoded
// chunks, subtitle cues, and the decoded-frame types that flow out of the
// external decoders.
package media

// TrackKind identifies the media type a TrackDescriptor describes.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
	TrackSubtitle
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// TrackDescriptor is the normalized, immutable per-track metadata produced
// once by a demuxer's Open and consumed when configuring an external
// decoder.
type TrackDescriptor struct {
	ID    int
	Kind  TrackKind
	Codec string // ISO-BMFF style codec string, e.g. "avc1.640028", "mp4a.40.2", "opus"

	// CodecPrivate carries the decoder configuration record required by
	// the codec (AVCDecoderConfigurationRecord, HEVCDecoderConfigurationRecord,
	// AudioSpecificConfig, dOps, dfLa, ...), or nil when the codec string
	// alone is sufficient.
	CodecPrivate []byte

	// Video-only.
	Width  int
	Height int

	// Audio-only.
	SampleRate int
	Channels   int

	// DefaultDurationUs is the nominal per-sample duration in
	// microseconds, when the container declares one (0 if unknown).
	DefaultDurationUs int64

	// Subtitle-only.
	Language string
	Name     string
	// ASSFormat holds the parsed `Format:` column list for S_TEXT/ASS and
	// S_TEXT/SSA tracks, used to project Dialogue lines to their Text
	// column.
	ASSFormat []string
}

// ChunkKind distinguishes random-access points from delta frames.
type ChunkKind int

const (
	ChunkDelta ChunkKind = iota
	ChunkKey
)

// EncodedVideoChunk is one access unit produced by a demuxer and consumed
// by an external video decoder.
type EncodedVideoChunk struct {
	TrackID     int
	Kind        ChunkKind
	TimestampUs int64
	DurationUs  int64
	Bytes       []byte
}

// EncodedAudioChunk is one audio frame. Audio chunks are always treated as
// random-access points by the decoder, so there is no Kind field.
type EncodedAudioChunk struct {
	TrackID     int
	TimestampUs int64
	DurationUs  int64
	Bytes       []byte
}

// SubtitleCueKind distinguishes the two SubtitleCue variants.
type SubtitleCueKind int

const (
	SubtitleText SubtitleCueKind = iota
	SubtitlePGS
)

// SubtitleCue holds one of two variants, selected by Kind: a Text cue
// carries plain text over an interval, a Pgs cue carries a concatenated
// sequence of PGS segments (timestamped internally via the synthesized PG
// header PTS field). Both variants share this one struct type; Kind says
// which group of fields applies.
type SubtitleCue struct {
	TrackID int
	Kind    SubtitleCueKind

	// Text-variant fields.
	StartUs int64
	EndUs   int64
	Text    string

	// Pgs-variant field.
	Bytes []byte
}

// VideoFrame is an opaque decoded surface. Ownership transfers into the
// frame ring on decode and is released via Close, either on render or on
// drop-oldest eviction.
type VideoFrame struct {
	TimestampUs int64
	Surface     any // decoder-owned opaque handle; never inspected here
	closeFn     func()
}

// NewVideoFrame wraps a decoder-owned surface with its release callback.
func NewVideoFrame(timestampUs int64, surface any, closeFn func()) VideoFrame {
	return VideoFrame{TimestampUs: timestampUs, Surface: surface, closeFn: closeFn}
}

// Close releases the underlying decoder surface, if any.
func (f VideoFrame) Close() {
	if f.closeFn != nil {
		f.closeFn()
	}
}

// AudioData is an opaque decoded PCM block, copied into a scheduler buffer
// and then closed.
type AudioData struct {
	TimestampUs int64
	PCM         []byte
	SampleRate  int
	Channels    int
	closeFn     func()
}

// NewAudioData wraps a decoded PCM block with its release callback.
func NewAudioData(timestampUs int64, pcm []byte, sampleRate, channels int, closeFn func()) AudioData {
	return AudioData{
		TimestampUs: timestampUs,
		PCM:         pcm,
		SampleRate:  sampleRate,
		Channels:    channels,
		closeFn:     closeFn,
	}
}

// Close releases any decoder-owned backing storage.
func (a AudioData) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// PipelineState mirrors the orchestrator's top-level session state machine.
type PipelineState int

const (
	PipelineNone PipelineState = iota
	PipelineVideoElement
	PipelineWebCodecsMP4
	PipelineWebCodecsMKV
	PipelineWebCodecsTS
)

func (s PipelineState) String() string {
	switch s {
	case PipelineVideoElement:
		return "video-element"
	case PipelineWebCodecsMP4:
		return "webcodecs-mp4"
	case PipelineWebCodecsMKV:
		return "webcodecs-mkv"
	case PipelineWebCodecsTS:
		return "webcodecs-ts"
	default:
		return "none"
	}
}
