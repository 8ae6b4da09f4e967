package media

import "context"

// VideoSampleFunc receives one extracted video chunk.
type VideoSampleFunc func(EncodedVideoChunk)

// AudioSampleFunc receives one extracted audio chunk.
type AudioSampleFunc func(EncodedAudioChunk)

// SubtitleCueFunc receives one assembled subtitle cue.
type SubtitleCueFunc func(SubtitleCue)

// Demuxer is the common shape implemented by the MP4, MKV, and TS
// demuxers. Open drives the container-specific parser to a ready state and
// exposes TrackDescriptors; SelectVideoTrack, SelectAudioTrack and
// SelectSubtitleTrack register delivery callbacks for a track; Start runs
// the extraction loop; Pause/Resume implement
// cooperative back-pressure at container-appropriate boundaries (sample,
// cluster/element, or packet); Close releases all resources.
type Demuxer interface {
	// Open drives the parser to a point where Tracks can be queried. It
	// blocks until the container's track metadata is available or ctx is
	// canceled.
	Open(ctx context.Context) error

	// Tracks returns the normalized track metadata discovered by Open.
	Tracks() []TrackDescriptor

	// SelectVideoTrack registers a callback that fires for each extracted
	// video access unit on the given track.
	SelectVideoTrack(trackID int, fn VideoSampleFunc) error

	// SelectAudioTrack registers a callback that fires for each extracted
	// audio frame on the given track.
	SelectAudioTrack(trackID int, fn AudioSampleFunc) error

	// SelectSubtitleTrack registers a callback that fires for each
	// assembled subtitle cue on the given track.
	SelectSubtitleTrack(trackID int, fn SubtitleCueFunc) error

	// Start runs the extraction loop, delivering to the callbacks
	// registered by the Select*Track methods. It runs until EOS, ctx
	// cancellation, or Close.
	Start(ctx context.Context) error

	// Pause cooperatively suspends the extraction loop at the next
	// container-appropriate boundary.
	Pause()

	// Resume wakes an extraction loop suspended by Pause.
	Resume()

	// Close releases the demuxer's resources. Safe to call multiple
	// times.
	Close() error
}
