package isomedia

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// fakeTrack is one track's worth of configuration for fakeDemuxer. Not
// every field is used by every test: timeline tests drive
// compositionEntries/maxCompositionDelay/rapDetails; video/audio
// decode tests drive samples/frameLengths/preRollDistances.
type fakeTrack struct {
	kind TrackKind

	sampleCount         uint32
	timescale           uint32
	duration            uint64
	compositionEntries  []CompositionEntry
	maxCompositionDelay int

	// rapDetails maps a decoding index that IS a RAP to its detail.
	// ClosestRAPAtOrBefore/RAPDetailAtOrBefore find the nearest key <= d.
	rapDetails map[uint32]RAPDetail

	samples       [][]byte // 1-indexed by decodingIndex-1
	maxSampleSize uint32

	editListPriming     uint32
	constantFrameLength uint32
	frameLengths        []uint32 // 1-indexed by frameNumber-1, used when constantFrameLength == 0
	preRollDistances    map[uint32]uint32
}

type fakeDemuxer struct {
	order  []uint32
	tracks map[uint32]*fakeTrack
	closed bool
}

func newFakeDemuxer() *fakeDemuxer {
	return &fakeDemuxer{tracks: make(map[uint32]*fakeTrack)}
}

func (f *fakeDemuxer) add(id uint32, t *fakeTrack) {
	f.tracks[id] = t
	f.order = append(f.order, id)
}

func (f *fakeDemuxer) track(id uint32) (*fakeTrack, error) {
	t, ok := f.tracks[id]
	if !ok {
		return nil, ErrTrackMissing
	}
	return t, nil
}

func (f *fakeDemuxer) FirstTrack(kind TrackKind) (uint32, error) {
	for _, id := range f.order {
		if f.tracks[id].kind == kind {
			return id, nil
		}
	}
	return 0, ErrTrackMissing
}

func (f *fakeDemuxer) SampleCount(trackID uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.sampleCount, nil
}

func (f *fakeDemuxer) Timescale(trackID uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.timescale, nil
}

func (f *fakeDemuxer) MediaDuration(trackID uint32) (uint64, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.duration, nil
}

func (f *fakeDemuxer) CompositionTimestamps(trackID uint32) ([]CompositionEntry, error) {
	t, err := f.track(trackID)
	if err != nil {
		return nil, err
	}
	return t.compositionEntries, nil
}

func (f *fakeDemuxer) MaxCompositionDelay(trackID uint32) (int, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.maxCompositionDelay, nil
}

func (f *fakeDemuxer) sortedRAPKeys(t *fakeTrack) []uint32 {
	keys := make([]uint32, 0, len(t.rapDetails))
	for k := range t.rapDetails {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (f *fakeDemuxer) ClosestRAPAtOrBefore(trackID uint32, d uint32) (uint32, bool, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, false, err
	}
	keys := f.sortedRAPKeys(t)
	idx := sort.Search(len(keys), func(i int) bool { return keys[i] > d })
	if idx == 0 {
		return 0, false, nil
	}
	return keys[idx-1], true, nil
}

func (f *fakeDemuxer) RAPDetailAtOrBefore(trackID uint32, d uint32) (RAPDetail, bool, error) {
	t, err := f.track(trackID)
	if err != nil {
		return RAPDetail{}, false, err
	}
	rap, ok, err := f.ClosestRAPAtOrBefore(trackID, d)
	if err != nil || !ok {
		return RAPDetail{}, ok, err
	}
	return t.rapDetails[rap], true, nil
}

func (f *fakeDemuxer) MaxSampleSize(trackID uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.maxSampleSize, nil
}

func (f *fakeDemuxer) FetchSample(trackID uint32, decodingIndex uint32, buf []byte) (int, bool, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, false, err
	}
	if decodingIndex == 0 || int(decodingIndex) > len(t.samples) {
		return 0, false, fmt.Errorf("%w: index %d", ErrSampleAbsent, decodingIndex)
	}
	data := t.samples[decodingIndex-1]
	n := copy(buf, data)
	_, isSync, _ := f.ClosestRAPAtOrBefore(trackID, decodingIndex)
	if isSync {
		rap, _, _ := f.ClosestRAPAtOrBefore(trackID, decodingIndex)
		isSync = rap == decodingIndex
	}
	return n, isSync, nil
}

func (f *fakeDemuxer) EditListPriming(trackID uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.editListPriming, nil
}

func (f *fakeDemuxer) ConstantFrameLength(trackID uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.constantFrameLength, nil
}

func (f *fakeDemuxer) FrameLengthAt(trackID uint32, frameNumber uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	if frameNumber == 0 || int(frameNumber) > len(t.frameLengths) {
		return 0, fmt.Errorf("%w: frame %d", ErrSampleAbsent, frameNumber)
	}
	return t.frameLengths[frameNumber-1], nil
}

func (f *fakeDemuxer) PreRollDistance(trackID uint32, frameNumber uint32) (uint32, error) {
	t, err := f.track(trackID)
	if err != nil {
		return 0, err
	}
	return t.preRollDistances[frameNumber], nil
}

func (f *fakeDemuxer) Close() error {
	f.closed = true
	return nil
}

// fakeVideoDecoder simulates a decoder with a fixed FIFO pipeline
// depth: it buffers depth packets before emitting its first frame, and
// emits frames in the exact order packets were submitted. Each packet
// is expected to be a 4-byte little-endian decoding index, written by
// FetchSample in these tests, so assertions can check exactly which
// decoding index produced a given output frame.
type fakeVideoDecoder struct {
	depth       int
	queue       [][]byte
	lastFrame   []byte
	failAt      map[uint32]bool
	failUntilReopen int // Decode fails unconditionally while reopenCount <= this
	reopenCount int
	closed      bool
}

func (d *fakeVideoDecoder) Decode(packet []byte) (bool, error) {
	if d.reopenCount <= d.failUntilReopen && d.failUntilReopen > 0 {
		return false, fmt.Errorf("injected transient decode failure (reopen %d)", d.reopenCount)
	}
	if len(packet) >= 4 {
		idx := binary.LittleEndian.Uint32(packet)
		if d.failAt[idx] {
			return false, fmt.Errorf("injected decode failure at %d", idx)
		}
	}
	cp := append([]byte(nil), packet...)
	d.queue = append(d.queue, cp)
	if len(d.queue) > d.depth {
		d.lastFrame = d.queue[0]
		d.queue = d.queue[1:]
		return true, nil
	}
	return false, nil
}

func (d *fakeVideoDecoder) Frame() VideoFrame {
	return binary.LittleEndian.Uint32(d.lastFrame)
}

func (d *fakeVideoDecoder) Flush() (bool, error) {
	if len(d.queue) == 0 {
		return false, nil
	}
	d.lastFrame = d.queue[0]
	d.queue = d.queue[1:]
	return true, nil
}

func (d *fakeVideoDecoder) SetDiscardNonRef(bool) {}

func (d *fakeVideoDecoder) PipelineDepth() int { return d.depth }

func (d *fakeVideoDecoder) Reopen() error {
	d.queue = nil
	d.lastFrame = nil
	d.reopenCount++
	return nil
}

func (d *fakeVideoDecoder) Close() error {
	d.closed = true
	return nil
}

type fakeConverter struct{}

func (fakeConverter) Convert(frame VideoFrame, out []byte) (int, error) {
	v, _ := frame.(uint32)
	if len(out) < 4 {
		return 0, fmt.Errorf("output buffer too small")
	}
	binary.LittleEndian.PutUint32(out, v)
	return 4, nil
}

// fakeAudioDecoder is an identity codec: DecodePacket returns its
// input unchanged, so sample payloads built by tests double as their
// own expected decoded PCM.
type fakeAudioDecoder struct {
	bytesPerFrame int
	reopenCount   int
	closed        bool
}

func (d *fakeAudioDecoder) DecodePacket(packet []byte) ([]byte, error) {
	return packet, nil
}

func (d *fakeAudioDecoder) BytesPerPCMFrame() int { return d.bytesPerFrame }

func (d *fakeAudioDecoder) Reopen() error {
	d.reopenCount++
	return nil
}

func (d *fakeAudioDecoder) Close() error {
	d.closed = true
	return nil
}

// encodeFrame writes a 4-byte little-endian decoding index, the
// payload fakeVideoDecoder expects.
func encodeFrame(idx uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, idx)
	return buf
}

// pcmFrame builds a constant-frame-length audio packet whose 16-bit
// little-endian slots are consecutive absolute PCM sample indices
// starting at firstSample, the payload readAudio/seekAudio tests
// expect back out of ReadAudio.
func pcmFrame(firstSample uint32, length uint32) []byte {
	buf := make([]byte, length*2)
	for i := uint32(0); i < length; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(firstSample+i))
	}
	return buf
}
