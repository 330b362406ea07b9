package isomedia

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func sequentialVideoDemux(sampleCount uint32) *fakeDemuxer {
	demux := newFakeDemuxer()
	samples := make([][]byte, sampleCount)
	entries := make([]CompositionEntry, sampleCount)
	for i := range samples {
		samples[i] = encodeFrame(uint32(i + 1))
		entries[i] = CompositionEntry{CTS: int64(i), DecodingIndex: uint32(i + 1)}
	}
	demux.add(1, &fakeTrack{
		kind:                TrackVideo,
		sampleCount:         sampleCount,
		timescale:           30,
		maxSampleSize:       4,
		samples:             samples,
		compositionEntries:  entries,
		maxCompositionDelay: 0,
		rapDetails:          map[uint32]RAPDetail{1: {RAP: 1, Type: RAPSync}},
	})
	return demux
}

func TestDecodeDriveSequentialNoReorder(t *testing.T) {
	demux := sequentialVideoDemux(5)
	track := &VideoTrackState{
		trackID:     1,
		sampleCount: 5,
		decoder:     &fakeVideoDecoder{depth: 1},
		phase:       phaseRequireInitial,
	}

	frame, err := decodeDrive(demux, track, 1, 3)
	require.NoError(t, err)
	require.Equal(t, uint32(3), frame)
}

func TestDecodeDriveFlushesAtEndOfStream(t *testing.T) {
	demux := sequentialVideoDemux(3)
	track := &VideoTrackState{
		trackID:     1,
		sampleCount: 3,
		decoder:     &fakeVideoDecoder{depth: 1},
		phase:       phaseRequireInitial,
	}

	frame, err := decodeDrive(demux, track, 1, 3)
	require.NoError(t, err)
	require.Equal(t, uint32(3), frame)
}

func TestDecodeDriveReorderedComposition(t *testing.T) {
	demux := sequentialVideoDemux(4)
	track := &VideoTrackState{
		trackID:     1,
		sampleCount: 4,
		orderMap:    []uint32{1, 3, 4, 2},
		decodeOrder: []uint32{1, 4, 2, 3},
		decoder:     &fakeVideoDecoder{depth: 1},
		phase:       phaseRequireInitial,
	}

	// composition index 2 displays decoding index 3's picture.
	frame, err := decodeDrive(demux, track, 1, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(3), frame)
}

func TestDecodeDriveEscalatesHardError(t *testing.T) {
	demux := sequentialVideoDemux(10)
	track := &VideoTrackState{
		trackID:     1,
		sampleCount: 10,
		decoder:     &fakeVideoDecoder{depth: 1, failAt: map[uint32]bool{1: true, 2: true, 3: true, 4: true}},
		phase:       phaseRequireInitial,
	}

	_, err := decodeDrive(demux, track, 1, 5)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDecodeHard))
}

func TestReadVideoRejectsOutOfRange(t *testing.T) {
	track := &VideoTrackState{sampleCount: 5}
	_, err := readVideo(nil, track, 0, nil)
	require.Error(t, err)
	_, err = readVideo(nil, track, 6, nil)
	require.Error(t, err)
}

func TestReadVideoFastPathSkipsSeek(t *testing.T) {
	demux := sequentialVideoDemux(6)
	track := &VideoTrackState{
		trackID:       1,
		sampleCount:   6,
		decoder:       &fakeVideoDecoder{depth: 1},
		phase:         phaseInitialized,
		lastDelivered: 3,
		nextSubmitD:   4,
	}

	seekCalled := false
	seek := func(c uint32) (VideoFrame, error) {
		seekCalled = true
		return nil, errors.New("seek should not be called")
	}

	frame, err := readVideo(demux, track, 4, seek)
	require.NoError(t, err)
	require.Equal(t, uint32(4), frame)
	require.False(t, seekCalled)
	require.Equal(t, uint32(4), track.lastDelivered)
}

func TestReadVideoFallsBackToSeekOnFirstRead(t *testing.T) {
	track := &VideoTrackState{trackID: 1, sampleCount: 6, phase: phaseRequireInitial}

	seekCalled := false
	seek := func(c uint32) (VideoFrame, error) {
		seekCalled = true
		require.Equal(t, uint32(4), c)
		return uint32(99), nil
	}

	frame, err := readVideo(nil, track, 4, seek)
	require.NoError(t, err)
	require.True(t, seekCalled)
	require.Equal(t, uint32(99), frame)
	require.Equal(t, uint32(4), track.lastDelivered)
}

func TestReadVideoFastPathFailureFallsBackToSeek(t *testing.T) {
	demux := sequentialVideoDemux(4)
	track := &VideoTrackState{
		trackID:       1,
		sampleCount:   4,
		decoder:       &fakeVideoDecoder{depth: 1, failAt: map[uint32]bool{3: true}},
		phase:         phaseInitialized,
		lastDelivered: 2,
		nextSubmitD:   3,
	}

	seekCalled := false
	seek := func(c uint32) (VideoFrame, error) {
		seekCalled = true
		return uint32(42), nil
	}

	frame, err := readVideo(demux, track, 3, seek)
	require.NoError(t, err)
	require.True(t, seekCalled)
	require.Equal(t, uint32(42), frame)
}
