package isomedia

import "log/slog"

// SeekPolicy controls how long the Seek Retry Ladder keeps
// re-anchoring a seek after failed attempts. It does not change how a
// single decode drive treats decode errors: decodeDrive applies the
// same budget (failing after more than maxErrorCount decode errors)
// under every policy, and no policy skips decode errors.
type SeekPolicy int

const (
	// SeekNormal retries from earlier anchors; once more than
	// maxErrorCount attempts have failed it escalates to SeekAggressive
	// and keeps retrying.
	SeekNormal SeekPolicy = iota

	// SeekUnsafe retries like SeekNormal but fails instead of
	// escalating once more than maxErrorCount attempts have failed.
	SeekUnsafe

	// SeekAggressive retries like SeekUnsafe and fails once more than
	// maxErrorCount attempts have failed.
	SeekAggressive
)

func (p SeekPolicy) String() string {
	switch p {
	case SeekNormal:
		return "normal"
	case SeekUnsafe:
		return "unsafe"
	case SeekAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// decodePhase is the Video Decode Engine's three-state machine.
type decodePhase int

const (
	phaseRequireInitial decodePhase = iota
	phaseInitializing
	phaseInitialized
)

// maxErrorCount bounds the Seek Retry Ladder's error budget before it
// escalates to SeekAggressive as a last resort.
const maxErrorCount = 3

// decoderPadding is left zeroed past every sample copied into a
// reusable input buffer, matching codec libraries that overread a
// fixed pad at packet boundaries.
const decoderPadding = 64

// VideoTrackState holds all per-track mutable state the Video Decode
// Engine and Seek Retry Ladder operate on.
type VideoTrackState struct {
	trackID     uint32
	sampleCount uint32

	framerateNum uint32
	framerateDen uint32

	// orderMap[c-1] is the decoding sample number for composition
	// index c. nil means identity (composition order == decoding
	// order).
	orderMap []uint32

	// decodeOrder[d-1] is the composition index that decoding sample d
	// belongs to; the inverse of orderMap. nil means identity.
	decodeOrder []uint32

	// keyframeBitmap is 1 bit per composition sample, 1-based; bit c-1
	// is set iff composition sample c is independently decodable.
	keyframeBitmap []byte

	lastDelivered uint32 // 0 == nothing delivered yet
	lastRAP       uint32
	delayCount    int
	phase         decodePhase
	seekPolicy    SeekPolicy

	// pendingQueue and nextSubmitD carry the Video Decode Engine's FIFO
	// pipeline state across fast-path continuation reads: samples
	// already submitted to the decoder but not yet emitted, and the
	// next decoding index to submit. pendingQueue is reset to nil
	// whenever decodeDrive reopens the decoder; both are stored each
	// time decodeDrive delivers its target frame.
	pendingQueue []videoQueueEntry
	nextSubmitD  uint32

	inputBuffer   []byte
	maxSampleSize uint32
	pipelineDepth int

	decoder   VideoDecoder
	converter ColorspaceConverter

	logger *slog.Logger
}

func (v *VideoTrackState) log() *slog.Logger {
	if v.logger == nil {
		return slog.Default()
	}
	return v.logger
}

func (v *VideoTrackState) decodingIndex(c uint32) uint32 {
	if v.orderMap == nil {
		return c
	}
	return v.orderMap[c-1]
}

// compositionIndex inverts decodingIndex: given a decoding sample
// number, it returns the composition index it will display at.
func (v *VideoTrackState) compositionIndex(d uint32) uint32 {
	if v.decodeOrder == nil {
		return d
	}
	if d == 0 || d > uint32(len(v.decodeOrder)) {
		return 0
	}
	return v.decodeOrder[d-1]
}

// isKeyframe reports whether composition frame c (1-based) requires no
// prior decode context. c == 0 and indices past sampleCount report
// false.
func (v *VideoTrackState) isKeyframe(c uint32) bool {
	if c == 0 || c > v.sampleCount {
		return false
	}
	byteIdx := (c - 1) / 8
	bitIdx := (c - 1) % 8
	if int(byteIdx) >= len(v.keyframeBitmap) {
		return false
	}
	return v.keyframeBitmap[byteIdx]&(1<<bitIdx) != 0
}

func setKeyframeBit(bitmap []byte, c uint32) {
	byteIdx := (c - 1) / 8
	bitIdx := (c - 1) % 8
	bitmap[byteIdx] |= 1 << bitIdx
}

// AudioTrackState holds all per-track mutable state the Audio Read
// Engine operates on.
type AudioTrackState struct {
	trackID         uint32
	frameCount      uint32
	totalPCMSamples uint64

	// frameLength is the constant frames-per-packet, or 0 meaning
	// variable (queried per packet from the demuxer).
	frameLength    uint32
	primingSamples uint32

	cursorPCM   uint64 // sentinel totalPCMSamples+1 forces a seek on first read
	cursorFrame uint32

	remainder []byte

	inBuf  []byte
	outBuf []byte

	decoder AudioDecoder

	logger *slog.Logger
}

func (a *AudioTrackState) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}
