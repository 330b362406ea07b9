package isomedia

import (
	"fmt"
	"sort"
)

// TimelineSnapshot is the Timeline Builder's output: everything a
// VideoTrackState needs beyond what Demuxer answers on demand. It is
// exported so a host can persist it (see isomedia/timelinecache)
// without this package depending on any particular cache.
type TimelineSnapshot struct {
	SampleCount  uint32
	FramerateNum uint32
	FramerateDen uint32

	OrderMap       []uint32 // nil when identity
	KeyframeBitmap []byte
}

// BuildTimeline derives per-track metadata for a video track: sample
// count, a reduced average framerate, the composition-to-decoding
// order map (nil when identity), and a precomputed keyframe bitmap.
func BuildTimeline(demux Demuxer, trackID uint32) (TimelineSnapshot, error) {
	sampleCount, err := demux.SampleCount(trackID)
	if err != nil {
		return TimelineSnapshot{}, fmt.Errorf("%w: sample count: %w", ErrTimelineError, err)
	}
	if sampleCount == 0 {
		return TimelineSnapshot{}, fmt.Errorf("%w: zero samples", ErrTimelineError)
	}

	num, den, err := deriveFramerate(demux, trackID, sampleCount)
	if err != nil {
		return TimelineSnapshot{}, err
	}

	orderMap, _, err := buildOrderMap(demux, trackID, sampleCount)
	if err != nil {
		return TimelineSnapshot{}, err
	}

	bitmap, err := buildKeyframeBitmap(demux, trackID, sampleCount, orderMap)
	if err != nil {
		return TimelineSnapshot{}, err
	}

	return TimelineSnapshot{
		SampleCount:    sampleCount,
		FramerateNum:   num,
		FramerateDen:   den,
		OrderMap:       orderMap,
		KeyframeBitmap: bitmap,
	}, nil
}

// invertOrderMap rebuilds decodeOrder (decoding index -> composition
// index) from orderMap (composition index -> decoding index). Used
// both after a fresh build and after loading a snapshot back from a
// cache that only persisted orderMap.
func invertOrderMap(orderMap []uint32) []uint32 {
	if orderMap == nil {
		return nil
	}
	decodeOrder := make([]uint32, len(orderMap))
	for c, d := range orderMap {
		decodeOrder[d-1] = uint32(c + 1)
	}
	return decodeOrder
}

// deriveFramerate implements spec.md §4.1's two-branch average
// framerate derivation, including the duplicate-CTS abort and the
// amortized trailing-duration correction. On the duplicate-CTS path it
// returns (0, 1): the Open Question this preserves is answered in
// SPEC_FULL.md — the demuxer-provided default is left unknown rather
// than guessed.
func deriveFramerate(demux Demuxer, trackID uint32, sampleCount uint32) (num, den uint32, err error) {
	if sampleCount == 1 {
		timescale, err := demux.Timescale(trackID)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: timescale: %w", ErrTimelineError, err)
		}
		duration, err := demux.MediaDuration(trackID)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: media duration: %w", ErrTimelineError, err)
		}
		if duration == 0 {
			return 0, 1, nil
		}
		n, d := reduceRational(int64(timescale), int64(duration))
		return clampU32(n), clampU32(d), nil
	}

	entries, err := demux.CompositionTimestamps(trackID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: composition timestamps: %w", ErrTimelineError, err)
	}
	if len(entries) != int(sampleCount) {
		return 0, 0, fmt.Errorf("%w: timestamp count %d != sample count %d", ErrTimelineError, len(entries), sampleCount)
	}

	sorted := append([]CompositionEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CTS < sorted[j].CTS })

	// Duplicate CTS detection: abort framerate refinement, but do not
	// fail the open. Identity/default timing still plays back fine.
	var timebase int64
	for i := 1; i < len(sorted); i++ {
		delta := sorted[i].CTS - sorted[i-1].CTS
		if delta == 0 {
			return 0, 1, nil
		}
		timebase = gcd64(timebase, delta)
	}
	if timebase == 0 {
		return 0, 1, nil
	}

	timescale, err := demux.Timescale(trackID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: timescale: %w", ErrTimelineError, err)
	}

	first := sorted[0].CTS
	largest := sorted[len(sorted)-1].CTS
	secondLargest := sorted[len(sorted)-2].CTS

	reduce := gcd64(int64(timescale), timebase)
	if reduce == 0 {
		return 0, 1, nil
	}

	compositionDuration := ((largest - first) + (largest - secondLargest)) / reduce
	if compositionDuration == 0 {
		return 0, 1, nil
	}

	rateNum := roundDiv(int64(sampleCount)*int64(timescale)*timebase, compositionDuration)
	n, d := reduceRational(rateNum, timebase)
	return clampU32(n), clampU32(d), nil
}

// buildOrderMap queries the demuxer's maximum composition-to-decoding
// delay; when it is zero both maps are left nil (identity). Otherwise
// it returns orderMap (composition index -> decoding index) and its
// inverse decodeOrder (decoding index -> composition index), failing
// if the demuxer's composition table is not a bijection over
// [1, sampleCount].
func buildOrderMap(demux Demuxer, trackID uint32, sampleCount uint32) (orderMap []uint32, decodeOrder []uint32, err error) {
	maxDelay, err := demux.MaxCompositionDelay(trackID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: max composition delay: %w", ErrTimelineError, err)
	}
	if maxDelay == 0 {
		return nil, nil, nil
	}

	entries, err := demux.CompositionTimestamps(trackID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: composition timestamps: %w", ErrTimelineError, err)
	}
	if len(entries) != int(sampleCount) {
		return nil, nil, fmt.Errorf("%w: timestamp count %d != sample count %d", ErrTimelineError, len(entries), sampleCount)
	}

	sorted := append([]CompositionEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CTS < sorted[j].CTS })

	orderMap = make([]uint32, sampleCount)
	decodeOrder = make([]uint32, sampleCount)
	seen := make([]bool, sampleCount+1)
	for i, e := range sorted {
		c := uint32(i + 1)
		d := e.DecodingIndex
		if d == 0 || d > sampleCount || seen[d] {
			return nil, nil, fmt.Errorf("%w: composition-to-decoding map is not a bijection", ErrTimelineError)
		}
		seen[d] = true
		orderMap[i] = d
		decodeOrder[d-1] = c
	}
	return orderMap, decodeOrder, nil
}

// buildKeyframeBitmap sets bit c-1 iff the sample at composition
// index c's decoding position is a RAP equal to that decoding
// position. A RAP lookup failure for a given sample leaves the bit
// clear and is not fatal.
func buildKeyframeBitmap(demux Demuxer, trackID uint32, sampleCount uint32, orderMap []uint32) ([]byte, error) {
	bitmap := make([]byte, (sampleCount+7)/8)

	for c := uint32(1); c <= sampleCount; c++ {
		var d uint32
		if orderMap == nil {
			d = c
		} else {
			d = orderMap[c-1]
		}

		rap, ok, err := demux.ClosestRAPAtOrBefore(trackID, d)
		if err != nil {
			return nil, fmt.Errorf("%w: rap lookup: %w", ErrTimelineError, err)
		}
		if ok && rap == d {
			setKeyframeBit(bitmap, c)
		}
	}

	return bitmap, nil
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if (num < 0) != (den < 0) {
		return (num - den/2) / den
	}
	return (num + den/2) / den
}

func clampU32(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}
