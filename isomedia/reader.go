package isomedia

import (
	"fmt"
	"log/slog"
)

// Reader is the external handle a host program drives: bind one
// video track and/or one audio track from an already-open Demuxer,
// prepare each, then read frames and PCM by index.
type Reader struct {
	demux  Demuxer
	logger *slog.Logger

	video *VideoTrackState
	audio *AudioTrackState
}

// SetLogger overrides the logger used for retry-ladder escalation and
// seek-by-reopen diagnostics. A nil logger restores slog.Default().
func (r *Reader) SetLogger(logger *slog.Logger) {
	r.logger = logger
	if r.video != nil {
		r.video.logger = logger
	}
	if r.audio != nil {
		r.audio.logger = logger
	}
}

// boxDiscarder is implemented by Demuxer adapters that keep box
// structures around after Open that a reader no longer needs once
// both tracks (or the ones it wants) are bound.
type boxDiscarder interface {
	DiscardBoxes() error
}

// Open wraps an already-opened Demuxer in a Reader. The Demuxer itself
// is responsible for parsing the container; Open only validates it is
// non-nil.
func Open(demux Demuxer) (*Reader, error) {
	if demux == nil {
		return nil, fmt.Errorf("%w: nil demuxer", ErrOpenFailed)
	}
	return &Reader{demux: demux}, nil
}

// BindFirstVideo resolves the container's first video track, builds
// its timeline, and attaches the decoder and colorspace converter the
// host constructed for it.
func (r *Reader) BindFirstVideo(decoder VideoDecoder, converter ColorspaceConverter, policy SeekPolicy) error {
	trackID, err := r.demux.FirstTrack(TrackVideo)
	if err != nil {
		return err
	}

	tl, err := BuildTimeline(r.demux, trackID)
	if err != nil {
		return err
	}

	r.bindVideoTrack(trackID, tl, decoder, converter, policy)
	return nil
}

// BindFirstVideoFromSnapshot is like BindFirstVideo but skips the
// Timeline Builder rebuild, accepting an already-derived snapshot —
// typically one a host loaded from isomedia/timelinecache. The caller
// is responsible for validating the snapshot still matches the file
// (e.g. via the cache's own staleness check); this method performs no
// validation of its own.
func (r *Reader) BindFirstVideoFromSnapshot(decoder VideoDecoder, converter ColorspaceConverter, policy SeekPolicy, snap TimelineSnapshot) error {
	trackID, err := r.demux.FirstTrack(TrackVideo)
	if err != nil {
		return err
	}
	r.bindVideoTrack(trackID, snap, decoder, converter, policy)
	return nil
}

func (r *Reader) bindVideoTrack(trackID uint32, tl TimelineSnapshot, decoder VideoDecoder, converter ColorspaceConverter, policy SeekPolicy) {
	r.video = &VideoTrackState{
		trackID:        trackID,
		sampleCount:    tl.SampleCount,
		framerateNum:   tl.FramerateNum,
		framerateDen:   tl.FramerateDen,
		orderMap:       tl.OrderMap,
		decodeOrder:    invertOrderMap(tl.OrderMap),
		keyframeBitmap: tl.KeyframeBitmap,
		phase:          phaseRequireInitial,
		seekPolicy:     policy,
		decoder:        decoder,
		converter:      converter,
		logger:         r.logger,
	}
}

// BindFirstAudio resolves the container's first audio track and
// attaches the decoder the host constructed for it.
func (r *Reader) BindFirstAudio(decoder AudioDecoder) error {
	trackID, err := r.demux.FirstTrack(TrackAudio)
	if err != nil {
		return err
	}
	r.audio = &AudioTrackState{
		trackID: trackID,
		decoder: decoder,
		logger:  r.logger,
	}
	return nil
}

// DiscardDemuxerBoxes releases any parsed box structures the Demuxer
// adapter retained beyond what the bound tracks need. It is a no-op
// for adapters that don't implement boxDiscarder.
func (r *Reader) DiscardDemuxerBoxes() error {
	if bd, ok := r.demux.(boxDiscarder); ok {
		return bd.DiscardBoxes()
	}
	return nil
}

// PrepareVideo queries the decoder's pipeline depth and sizes the
// reusable sample input buffer. Must be called once after
// BindFirstVideo and before the first ReadVideo.
func (r *Reader) PrepareVideo() error {
	if r.video == nil {
		return fmt.Errorf("%w: video not bound", ErrTrackMissing)
	}
	r.video.pipelineDepth = r.video.decoder.PipelineDepth()

	size, err := r.demux.MaxSampleSize(r.video.trackID)
	if err != nil {
		return fmt.Errorf("%w: max sample size: %w", ErrAllocation, err)
	}
	r.video.maxSampleSize = size
	r.video.inputBuffer = make([]byte, size+decoderPadding)

	return nil
}

// PrepareAudio computes frame count, PCM total, priming, and frame
// length for the bound audio track. Must be called once after
// BindFirstAudio and before the first ReadAudio.
func (r *Reader) PrepareAudio() error {
	if r.audio == nil {
		return fmt.Errorf("%w: audio not bound", ErrTrackMissing)
	}
	return prepareAudio(r.demux, r.audio)
}

// ReadVideo decodes the composition frame at targetC (1-based) into
// out via the bound colorspace converter, using the fast sequential
// path when possible and falling back to the Seek Retry Ladder
// otherwise.
func (r *Reader) ReadVideo(targetC uint32, out []byte) (int, error) {
	if r.video == nil {
		return 0, fmt.Errorf("%w: video not bound", ErrTrackMissing)
	}

	frame, err := readVideo(r.demux, r.video, targetC, func(c uint32) (VideoFrame, error) {
		return seekVideo(r.demux, r.video, c)
	})
	if err != nil {
		return 0, err
	}

	return r.video.converter.Convert(frame, out)
}

// ReadAudio copies up to wantSamples PCM samples starting at
// startSample (0-based) into out, continuing from the previous read
// when contiguous and seeking otherwise. It returns the number of
// bytes written.
func (r *Reader) ReadAudio(startSample uint64, wantSamples uint64, out []byte) (int, error) {
	if r.audio == nil {
		return 0, fmt.Errorf("%w: audio not bound", ErrTrackMissing)
	}
	return readAudio(r.demux, r.audio, startSample, wantSamples, out)
}

// IsKeyframe reports whether the 0-based video frame index is
// independently decodable.
func (r *Reader) IsKeyframe(frameIndex0Based uint32) bool {
	if r.video == nil {
		return false
	}
	return r.video.isKeyframe(frameIndex0Based + 1)
}

// VideoSampleCount returns the bound video track's composition sample
// count, or 0 if no video track is bound.
func (r *Reader) VideoSampleCount() uint32 {
	if r.video == nil {
		return 0
	}
	return r.video.sampleCount
}

// AudioTotalPCMSamples returns the bound audio track's total PCM
// sample count, or 0 if no audio track is bound or PrepareAudio has
// not run yet.
func (r *Reader) AudioTotalPCMSamples() uint64 {
	if r.audio == nil {
		return 0
	}
	return r.audio.totalPCMSamples
}

// VideoCleanup closes the bound video decoder and detaches the video
// track, leaving the audio track (if any) untouched.
func (r *Reader) VideoCleanup() error {
	if r.video == nil {
		return nil
	}
	err := r.video.decoder.Close()
	r.video = nil
	return err
}

// AudioCleanup closes the bound audio decoder and detaches the audio
// track, leaving the video track (if any) untouched.
func (r *Reader) AudioCleanup() error {
	if r.audio == nil {
		return nil
	}
	err := r.audio.decoder.Close()
	r.audio = nil
	return err
}

// Close releases both tracks (if bound) and the underlying Demuxer.
func (r *Reader) Close() error {
	var firstErr error
	if err := r.VideoCleanup(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.AudioCleanup(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.demux.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
