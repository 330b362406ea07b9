package isomedia

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func rapsAt(indices ...uint32) map[uint32]RAPDetail {
	m := make(map[uint32]RAPDetail, len(indices))
	for _, i := range indices {
		m[i] = RAPDetail{RAP: i, Type: RAPSync}
	}
	return m
}

func TestSeekVideoGivesUpAtAnchorOne(t *testing.T) {
	demux := sequentialVideoDemux(10)
	demux.tracks[1].rapDetails = rapsAt(1)
	decoder := &fakeVideoDecoder{depth: 1, failAt: map[uint32]bool{1: true, 2: true, 3: true, 4: true}}
	track := &VideoTrackState{trackID: 1, sampleCount: 10, decoder: decoder, seekPolicy: SeekNormal}

	_, err := seekVideo(demux, track, 8)
	require.Error(t, err)
}

func TestSeekVideoSucceedsAfterRetries(t *testing.T) {
	demux := sequentialVideoDemux(10)
	demux.tracks[1].rapDetails = rapsAt(1, 3, 5, 7, 9)
	decoder := &fakeVideoDecoder{depth: 1, failUntilReopen: 2}
	track := &VideoTrackState{trackID: 1, sampleCount: 10, decoder: decoder, seekPolicy: SeekNormal}

	frame, err := seekVideo(demux, track, 9)
	require.NoError(t, err)
	require.Equal(t, uint32(9), frame)
	require.Equal(t, 3, decoder.reopenCount)
}

func TestSeekVideoEscalatesPolicyOnRepeatedFailure(t *testing.T) {
	demux := sequentialVideoDemux(20)
	demux.tracks[1].rapDetails = rapsAt(1, 5, 9, 13, 17)
	decoder := &fakeVideoDecoder{depth: 1, failAt: map[uint32]bool{}}
	for d := uint32(1); d <= 20; d++ {
		decoder.failAt[d] = true
	}
	track := &VideoTrackState{trackID: 1, sampleCount: 20, decoder: decoder, seekPolicy: SeekNormal}

	_, err := seekVideo(demux, track, 18)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDecodeHard))
	require.Equal(t, SeekAggressive, track.seekPolicy)
}
