package isomedia

// TrackKind distinguishes the two track kinds this reader binds.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// RAPType classifies the kind of random-accessible point the demuxer
// reports for a decoding index.
type RAPType int

const (
	RAPSync     RAPType = iota // strict sync sample (keyframe)
	RAPPreRoll                 // codec recovery point requiring preceding context
	RAPPostRoll                // codec recovery point requiring following context
	RAPOther
)

// CompositionEntry is one row of a track's sorted composition-time
// table: the composition timestamp and the 1-based decoding index of
// the sample that occupies it.
type CompositionEntry struct {
	CTS           int64
	DecodingIndex uint32
}

// RAPDetail is the detailed random-accessible-point record the
// Resolver needs: the RAP itself, its type, how many leading samples
// follow it in decoding order before composition order catches up, and
// the distance a decoder must additionally back up for roll-recovery
// or leading-picture correctness.
type RAPDetail struct {
	RAP          uint32
	Type         RAPType
	LeadingCount uint32
	Distance     uint32
}

// Demuxer is the container collaborator the core consumes. Its own
// internals — timeline construction, box walking, sample-table
// assembly — are out of scope for this module; a concrete adapter
// lives in isomedia/container.
type Demuxer interface {
	// FirstTrack returns the track id of the first track of the given
	// kind, or ErrTrackMissing.
	FirstTrack(kind TrackKind) (trackID uint32, err error)

	// SampleCount returns the total sample (or coded audio frame) count
	// for the track.
	SampleCount(trackID uint32) (uint32, error)

	// Timescale returns the track's media timescale.
	Timescale(trackID uint32) (uint32, error)

	// MediaDuration returns the track's media duration in timescale
	// units, used by the single-sample framerate branch.
	MediaDuration(trackID uint32) (uint64, error)

	// CompositionTimestamps returns every sample's (cts, decodingIndex)
	// pair, unsorted; the caller sorts by CTS.
	CompositionTimestamps(trackID uint32) ([]CompositionEntry, error)

	// MaxCompositionDelay returns the maximum composition-to-decoding
	// delay for the track; 0 means composition order equals decoding
	// order (identity order map).
	MaxCompositionDelay(trackID uint32) (int, error)

	// ClosestRAPAtOrBefore returns the decoding index of the nearest
	// random-accessible point at or before d. Lookup failure is
	// reported via ok=false, which is not fatal to the caller.
	ClosestRAPAtOrBefore(trackID uint32, d uint32) (rap uint32, ok bool, err error)

	// RAPDetailAtOrBefore returns the full RAP record at or before d.
	RAPDetailAtOrBefore(trackID uint32, d uint32) (RAPDetail, bool, error)

	// MaxSampleSize returns the largest sample size in bytes for the
	// track, used to size the reusable input buffer.
	MaxSampleSize(trackID uint32) (uint32, error)

	// FetchSample copies the decoding-index-th sample's payload into
	// buf (which must be at least MaxSampleSize long) and reports how
	// many bytes were written, and whether the sample is a sync
	// sample. ErrSampleAbsent is returned once d exceeds SampleCount.
	FetchSample(trackID uint32, decodingIndex uint32, buf []byte) (n int, isSync bool, err error)

	// EditListPriming returns the priming sample count implied by a
	// non-negative edit-list start_time entry, or 0 if there is none.
	EditListPriming(trackID uint32) (uint32, error)

	// ConstantFrameLength returns the constant frames-per-packet for an
	// audio track, or 0 if frame length varies per packet.
	ConstantFrameLength(trackID uint32) (uint32, error)

	// FrameLengthAt returns the frame length of a specific coded audio
	// frame (1-based), used when ConstantFrameLength returned 0.
	FrameLengthAt(trackID uint32, frameNumber uint32) (uint32, error)

	// PreRollDistance returns the pre-roll distance (in coded frames)
	// the demuxer associates with frameNumber, or 0 if none.
	PreRollDistance(trackID uint32, frameNumber uint32) (uint32, error)

	// Close releases demuxer resources.
	Close() error
}

// VideoFrame is an opaque decoded picture handed from VideoDecoder to
// ColorspaceConverter. Its layout is decoder-specific; the core never
// inspects it.
type VideoFrame interface{}

// VideoDecoder is the one-shot packet-in/frame-out codec collaborator
// for video. Its internals (bitstream parsing, reference management)
// are out of scope; only this interface is consumed.
type VideoDecoder interface {
	// Decode feeds one packet. gotFrame reports whether a decoded
	// picture became available; err distinguishes a hard decode
	// failure from "no output yet".
	Decode(packet []byte) (gotFrame bool, err error)

	// Frame returns the most recently produced picture. Valid only
	// immediately after a Decode or Flush call that reported
	// gotFrame=true.
	Frame() VideoFrame

	// Flush feeds an empty packet to drain one buffered frame during
	// end-of-stream flush. gotFrame reports whether a picture emerged.
	Flush() (gotFrame bool, err error)

	// SetDiscardNonRef toggles a decoder hint to discard non-reference
	// frames, used while priming past samples the caller never needs
	// to see.
	SetDiscardNonRef(discard bool)

	// PipelineDepth returns has_b_frames plus any frame-threading
	// delay: the number of packets the decoder may buffer before
	// emitting its first frame.
	PipelineDepth() int

	// Reopen closes and reopens the underlying codec context with its
	// cached configuration, restoring a known decoder state. Used by
	// "flush by reopen" at every seek.
	Reopen() error

	// Close releases decoder resources permanently.
	Close() error
}

// ColorspaceConverter produces a pixel buffer in the host's requested
// format from a decoded VideoFrame.
type ColorspaceConverter interface {
	Convert(frame VideoFrame, out []byte) (n int, err error)
}

// AudioDecoder is the one-shot packet-in/frame-out codec collaborator
// for audio.
type AudioDecoder interface {
	// DecodePacket decodes one coded audio frame into interleaved PCM
	// bytes. The returned slice is only valid until the next call.
	DecodePacket(packet []byte) ([]byte, error)

	// BytesPerPCMFrame returns channels * (bits-per-sample/8): the
	// block alignment used to convert sample counts to byte counts.
	BytesPerPCMFrame() int

	// Reopen closes and reopens the underlying codec context, used by
	// "flush by reopen" at every audio seek.
	Reopen() error

	// Close releases decoder resources permanently.
	Close() error
}
