// Package container adapts github.com/abema/go-mp4 to the
// isomedia.Demuxer interface: box walking, stss/elst extraction, and
// chunk/offset sample-table resolution live here so the core engine
// never imports a container library directly.
package container

import (
	"fmt"
	"io"
	"os"
	"sort"

	gomp4 "github.com/abema/go-mp4"

	"github.com/brodtkorb/isomedia/isomedia"
)

// Adapter implements isomedia.Demuxer against an ISO-BMFF file opened
// through go-mp4's Probe API.
type Adapter struct {
	f     *os.File
	r     io.ReadSeeker
	probe *gomp4.ProbeInfo

	tracks map[uint32]*gomp4.Track

	stss    map[uint32][]uint32 // sorted 1-based sync sample numbers, per track
	offsets map[uint32][]uint64 // per-sample file offset, per track
	priming map[uint32]uint32   // cached edit-list priming, per track
}

// Open parses path as an ISO-BMFF container and returns an Adapter
// bound to its track list.
func Open(path string) (*Adapter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", isomedia.ErrOpenFailed, err)
	}

	probe, err := gomp4.Probe(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: probe: %w", isomedia.ErrOpenFailed, err)
	}
	if len(probe.Tracks) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: no tracks", isomedia.ErrOpenFailed)
	}

	tracks := make(map[uint32]*gomp4.Track, len(probe.Tracks))
	for _, t := range probe.Tracks {
		tracks[t.TrackID] = t
	}

	return &Adapter{
		f:      f,
		r:      f,
		probe:  probe,
		tracks: tracks,
	}, nil
}

func (a *Adapter) track(trackID uint32) (*gomp4.Track, error) {
	t, ok := a.tracks[trackID]
	if !ok {
		return nil, isomedia.ErrTrackMissing
	}
	return t, nil
}

// isAudioTimescale matches common PCM sample rates; video timescales
// (600, 24000, 90000, ...) never collide with these.
func isAudioTimescale(ts uint32) bool {
	switch ts {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	}
	return false
}

// FirstTrack returns the first video or audio track, in probe order.
func (a *Adapter) FirstTrack(kind isomedia.TrackKind) (uint32, error) {
	for _, t := range a.probe.Tracks {
		switch kind {
		case isomedia.TrackVideo:
			if t.AVC != nil {
				return t.TrackID, nil
			}
		case isomedia.TrackAudio:
			if t.AVC == nil && len(t.Samples) > 0 && isAudioTimescale(t.Timescale) {
				return t.TrackID, nil
			}
		}
	}
	return 0, isomedia.ErrTrackMissing
}

func (a *Adapter) SampleCount(trackID uint32) (uint32, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}
	return uint32(len(t.Samples)), nil
}

func (a *Adapter) Timescale(trackID uint32) (uint32, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.Timescale, nil
}

func (a *Adapter) MediaDuration(trackID uint32) (uint64, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}
	return uint64(t.Duration), nil
}

func (a *Adapter) CompositionTimestamps(trackID uint32) ([]isomedia.CompositionEntry, error) {
	t, err := a.track(trackID)
	if err != nil {
		return nil, err
	}

	entries := make([]isomedia.CompositionEntry, len(t.Samples))
	var decodingTime int64
	for i, s := range t.Samples {
		entries[i] = isomedia.CompositionEntry{
			CTS:           decodingTime + int64(s.CompositionTimeOffset),
			DecodingIndex: uint32(i + 1),
		}
		decodingTime += int64(s.TimeDelta)
	}
	return entries, nil
}

func (a *Adapter) MaxCompositionDelay(trackID uint32) (int, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}

	var maxOffset int64
	for _, s := range t.Samples {
		if s.CompositionTimeOffset > maxOffset {
			maxOffset = s.CompositionTimeOffset
		}
	}
	return int(maxOffset), nil
}

// loadStss lazily extracts the stss (sync sample) table for a track,
// scoped to that track by matching the preceding tkhd. A track with no
// stss box at all (common for audio, and for all-intra video) has
// every sample treated as a RAP.
func (a *Adapter) loadStss(trackID uint32) ([]uint32, error) {
	if a.stss == nil {
		a.stss = make(map[uint32][]uint32)
	}
	if v, ok := a.stss[trackID]; ok {
		return v, nil
	}

	if _, err := a.r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	bips, err := gomp4.ExtractBoxesWithPayload(a.r, nil, []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeTkhd()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStss()},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extract stss: %w", isomedia.ErrTimelineError, err)
	}

	var current uint32
	for _, bip := range bips {
		switch bip.Info.Type {
		case gomp4.BoxTypeTkhd():
			current = bip.Payload.(*gomp4.Tkhd).TrackID
		case gomp4.BoxTypeStss():
			stss := bip.Payload.(*gomp4.Stss)
			table := make([]uint32, len(stss.SampleNumber))
			copy(table, stss.SampleNumber)
			sort.Slice(table, func(i, j int) bool { return table[i] < table[j] })
			a.stss[current] = table
		}
	}

	return a.stss[trackID], nil
}

func (a *Adapter) ClosestRAPAtOrBefore(trackID uint32, d uint32) (uint32, bool, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, false, err
	}
	if d == 0 || d > uint32(len(t.Samples)) {
		return 0, false, nil
	}

	stss, err := a.loadStss(trackID)
	if err != nil {
		return 0, false, err
	}
	if len(stss) == 0 {
		// No sync-sample table: treat every sample as independently
		// decodable (all-intra video, or any audio track).
		return d, true, nil
	}

	idx := sort.Search(len(stss), func(i int) bool { return stss[i] > d })
	if idx == 0 {
		return 0, false, nil
	}
	return stss[idx-1], true, nil
}

// RAPDetailAtOrBefore is grounded on the same stss table as
// ClosestRAPAtOrBefore. go-mp4 exposes no sdtp/sbgp roll-recovery
// sample groups, so every RAP this adapter reports is a strict sync
// sample; pre-roll/post-roll handling in the core Resolver is still
// exercised against it (LeadingCount and Distance are always 0 here),
// just never triggered by this adapter's own data.
func (a *Adapter) RAPDetailAtOrBefore(trackID uint32, d uint32) (isomedia.RAPDetail, bool, error) {
	rap, ok, err := a.ClosestRAPAtOrBefore(trackID, d)
	if err != nil || !ok {
		return isomedia.RAPDetail{}, ok, err
	}
	return isomedia.RAPDetail{RAP: rap, Type: isomedia.RAPSync}, true, nil
}

func (a *Adapter) MaxSampleSize(trackID uint32) (uint32, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}
	var max uint32
	for _, s := range t.Samples {
		if s.Size > max {
			max = s.Size
		}
	}
	return max, nil
}

// loadOffsets lazily walks the chunk table to produce a flat
// per-sample file offset list, mirroring the stts/stsc/stco chunk walk
// every ISO-BMFF reader performs once per track.
func (a *Adapter) loadOffsets(trackID uint32) ([]uint64, error) {
	if a.offsets == nil {
		a.offsets = make(map[uint32][]uint64)
	}
	if v, ok := a.offsets[trackID]; ok {
		return v, nil
	}

	t, err := a.track(trackID)
	if err != nil {
		return nil, err
	}

	offsets := make([]uint64, 0, len(t.Samples))
	sampleIdx := 0
	for _, chunk := range t.Chunks {
		off := chunk.DataOffset
		for j := uint32(0); j < chunk.SamplesPerChunk && sampleIdx < len(t.Samples); j++ {
			offsets = append(offsets, off)
			off += uint64(t.Samples[sampleIdx].Size)
			sampleIdx++
		}
	}

	a.offsets[trackID] = offsets
	return offsets, nil
}

func (a *Adapter) FetchSample(trackID uint32, decodingIndex uint32, buf []byte) (int, bool, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, false, err
	}
	if decodingIndex == 0 || decodingIndex > uint32(len(t.Samples)) {
		return 0, false, fmt.Errorf("%w: decoding index %d", isomedia.ErrSampleAbsent, decodingIndex)
	}

	offsets, err := a.loadOffsets(trackID)
	if err != nil {
		return 0, false, err
	}

	idx := decodingIndex - 1
	size := t.Samples[idx].Size
	if uint32(len(buf)) < size {
		return 0, false, fmt.Errorf("%w: buffer too small for sample %d (%d < %d)", isomedia.ErrAllocation, decodingIndex, len(buf), size)
	}

	if _, err := a.r.Seek(int64(offsets[idx]), io.SeekStart); err != nil {
		return 0, false, err
	}
	if _, err := io.ReadFull(a.r, buf[:size]); err != nil {
		return 0, false, fmt.Errorf("%w: read sample %d: %w", isomedia.ErrSampleAbsent, decodingIndex, err)
	}

	rap, ok, err := a.ClosestRAPAtOrBefore(trackID, decodingIndex)
	isSync := err == nil && ok && rap == decodingIndex

	return int(size), isSync, nil
}

// loadPriming lazily reads the edit list's first entry's media_time as
// a priming sample count. A track with no edit list, or a negative
// (empty-edit) media_time, has zero priming.
func (a *Adapter) loadPriming(trackID uint32) (uint32, error) {
	if a.priming == nil {
		a.priming = make(map[uint32]uint32)
	}
	if v, ok := a.priming[trackID]; ok {
		return v, nil
	}

	if _, err := a.r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	bips, err := gomp4.ExtractBoxesWithPayload(a.r, nil, []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeTkhd()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeEdts(), gomp4.BoxTypeElst()},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: extract elst: %w", isomedia.ErrTimelineError, err)
	}

	var current uint32
	for _, bip := range bips {
		switch bip.Info.Type {
		case gomp4.BoxTypeTkhd():
			current = bip.Payload.(*gomp4.Tkhd).TrackID
		case gomp4.BoxTypeElst():
			elst := bip.Payload.(*gomp4.Elst)
			if len(elst.Entries) == 0 {
				continue
			}
			mt := elst.Entries[0].MediaTime
			if mt > 0 {
				a.priming[current] = uint32(mt)
			}
		}
	}

	return a.priming[trackID], nil
}

func (a *Adapter) EditListPriming(trackID uint32) (uint32, error) {
	return a.loadPriming(trackID)
}

// ConstantFrameLength reports the constant frames-per-packet for an
// audio track by reading it straight off stts: when a track's
// timescale is the native sample rate (isAudioTimescale), sample_delta
// already is the frame's PCM sample length. 0 means the deltas vary
// and the caller must query FrameLengthAt per packet.
func (a *Adapter) ConstantFrameLength(trackID uint32) (uint32, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}
	if len(t.Samples) == 0 {
		return 0, nil
	}

	first := t.Samples[0].TimeDelta
	for _, s := range t.Samples[1:] {
		if s.TimeDelta != first {
			return 0, nil
		}
	}
	return first, nil
}

func (a *Adapter) FrameLengthAt(trackID uint32, frameNumber uint32) (uint32, error) {
	t, err := a.track(trackID)
	if err != nil {
		return 0, err
	}
	if frameNumber == 0 || frameNumber > uint32(len(t.Samples)) {
		return 0, fmt.Errorf("%w: frame %d", isomedia.ErrSampleAbsent, frameNumber)
	}
	return t.Samples[frameNumber-1].TimeDelta, nil
}

// PreRollDistance always reports 0: go-mp4 exposes no sbgp/sgpd
// roll-recovery sample groups to derive it from, so this adapter never
// asks the Audio Read Engine to prime extra frames before a seek
// target. Audio codecs that need roll-recovery priming would need a
// container library that surfaces those sample groups.
func (a *Adapter) PreRollDistance(trackID uint32, frameNumber uint32) (uint32, error) {
	if _, err := a.track(trackID); err != nil {
		return 0, err
	}
	return 0, nil
}

// DiscardBoxes satisfies isomedia's boxDiscarder hint. go-mp4's Probe
// already reduces the container to per-track sample tables; there is
// no separate raw box tree retained beyond what the lazy stss/offsets/
// priming caches hold, so this drops those once both tracks are bound.
func (a *Adapter) DiscardBoxes() error {
	a.stss = nil
	a.offsets = nil
	a.priming = nil
	return nil
}

func (a *Adapter) Close() error {
	return a.f.Close()
}

// AudioCodec reports which codec the container's audio sample
// description uses. go-mp4's Probe only tags mp4a as CodecMP4A and
// leaves Opus/AC-3/etc. as CodecUnknown, so this walks the stsd
// children directly, matching every other boundary in this adapter
// that falls back to a raw box walk where Probe's summary isn't
// detailed enough. It assumes a single audio track per container, the
// same simplification spec.md's Non-goals make for multi-track
// containers.
func (a *Adapter) AudioCodec() (string, error) {
	if _, err := a.r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	codec := "unknown"
	_, _ = gomp4.ReadBoxStructure(a.r, func(h *gomp4.ReadHandle) (interface{}, error) {
		if codec != "unknown" {
			return nil, nil
		}
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMp4a():
			codec = "mp4a"
		case gomp4.BoxTypeOpus():
			codec = "opus"
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
			gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd():
			_, _ = h.Expand()
		}
		return nil, nil
	})
	return codec, nil
}

// AudioSpecificConfig extracts the raw AAC AudioSpecificConfig bytes
// from the first mp4a track's esds box, for DecSpecificInfoTag.
func (a *Adapter) AudioSpecificConfig() ([]byte, error) {
	if _, err := a.r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	bips, err := gomp4.ExtractBoxesWithPayload(a.r, nil, []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extract esds: %w", isomedia.ErrTimelineError, err)
	}

	for _, bip := range bips {
		if bip.Info.Type != gomp4.BoxTypeEsds() {
			continue
		}
		esds, ok := bip.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag && len(desc.Data) >= 2 {
				return desc.Data, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: AudioSpecificConfig not found", isomedia.ErrTrackMissing)
}
