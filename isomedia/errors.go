package isomedia

import "errors"

// Sentinel errors for consumer error matching via errors.Is.
//
// These mirror the abstract taxonomy of a seek-and-decode engine: open
// and prepare failures abort the lifecycle, per-read failures either
// enter the Seek Retry Ladder (video) or terminate the read early
// (audio).
var (
	// ErrOpenFailed indicates the container could not be parsed or has
	// zero tracks.
	ErrOpenFailed = errors.New("isomedia: open failed")

	// ErrTrackMissing indicates no stream of the requested kind exists.
	ErrTrackMissing = errors.New("isomedia: track missing")

	// ErrTimelineError indicates a sample count mismatch or a timestamp
	// fetch failure while building a track's timeline.
	ErrTimelineError = errors.New("isomedia: timeline error")

	// ErrAllocation indicates a buffer or map allocation failed.
	ErrAllocation = errors.New("isomedia: allocation error")

	// ErrDecodeHard indicates the decoder reported failure on a packet.
	ErrDecodeHard = errors.New("isomedia: decode hard error")

	// ErrDecodeNoOutput indicates no frame emerged within the delay
	// envelope at the target sample.
	ErrDecodeNoOutput = errors.New("isomedia: no output frame")

	// ErrSampleAbsent indicates a requested decoding index has no
	// backing sample.
	ErrSampleAbsent = errors.New("isomedia: sample absent")
)
