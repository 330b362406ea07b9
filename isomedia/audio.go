package isomedia

import "fmt"

// prepareAudio implements the Audio Read Engine's setup step
// (spec.md §4.5): it queries frame count, constant-or-variable frame
// length, edit-list priming, and derives total PCM sample count,
// applying the SBR-implied doubling heuristic when the container's
// reported duration looks like it was authored pre-upsampling.
func prepareAudio(demux Demuxer, track *AudioTrackState) error {
	frameCount, err := demux.SampleCount(track.trackID)
	if err != nil {
		return fmt.Errorf("%w: frame count: %w", ErrTimelineError, err)
	}
	if frameCount == 0 {
		return fmt.Errorf("%w: zero audio frames", ErrTimelineError)
	}

	totalPCM, err := demux.MediaDuration(track.trackID)
	if err != nil {
		return fmt.Errorf("%w: media duration: %w", ErrTimelineError, err)
	}

	frameLength, err := demux.ConstantFrameLength(track.trackID)
	if err != nil {
		return fmt.Errorf("%w: constant frame length: %w", ErrTimelineError, err)
	}

	priming, err := demux.EditListPriming(track.trackID)
	if err != nil {
		return fmt.Errorf("%w: edit list priming: %w", ErrTimelineError, err)
	}

	// SBR-implied doubling: some HE-AAC streams report a core-rate
	// duration even though the decoder upsamples 2x. If the container
	// duration accounts for at most half the coded frames at
	// frameLength, the stream is almost certainly SBR and both the
	// total and the priming count need doubling to stay in the
	// upsampled domain the decoder will actually emit.
	if frameLength != 0 && totalPCM*2 <= uint64(frameCount)*uint64(frameLength) {
		totalPCM *= 2
		priming *= 2
	}

	track.frameCount = frameCount
	track.totalPCMSamples = totalPCM
	track.frameLength = frameLength
	track.primingSamples = priming
	track.cursorPCM = totalPCM + 1 // sentinel: unequal to any real start sample, forces a seek
	track.cursorFrame = 0
	track.remainder = nil

	return nil
}

func audioFrameLengthAt(demux Demuxer, track *AudioTrackState, frameNumber uint32) (uint32, error) {
	if track.frameLength != 0 {
		return track.frameLength, nil
	}
	return demux.FrameLengthAt(track.trackID, frameNumber)
}

// locateAudioFrame walks frame lengths from the start of the track to
// find which coded frame contains PCM sample targetPCM (0-based,
// already including priming), and the sample's offset within it. A
// targetPCM at or past the track's end returns frameCount+1.
func locateAudioFrame(demux Demuxer, track *AudioTrackState, targetPCM uint64) (frameNumber uint32, offset uint64, err error) {
	var cumulative uint64
	for fn := uint32(1); fn <= track.frameCount; fn++ {
		length, err := audioFrameLengthAt(demux, track, fn)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: frame length at %d: %w", ErrTimelineError, fn, err)
		}
		if cumulative+uint64(length) > targetPCM {
			return fn, targetPCM - cumulative, nil
		}
		cumulative += uint64(length)
	}
	return track.frameCount + 1, 0, nil
}

// decodeAudioFrame fetches and decodes one coded frame, returning the
// interleaved PCM bytes it produced. The returned slice aliases the
// decoder's internal buffer and must be consumed or copied before the
// next call.
func decodeAudioFrame(demux Demuxer, track *AudioTrackState, frameNumber uint32) ([]byte, error) {
	if track.inBuf == nil {
		size, err := demux.MaxSampleSize(track.trackID)
		if err != nil {
			return nil, fmt.Errorf("%w: max sample size: %w", ErrAllocation, err)
		}
		track.inBuf = make([]byte, size+decoderPadding)
	}

	n, _, err := demux.FetchSample(track.trackID, frameNumber, track.inBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch frame %d: %w", ErrSampleAbsent, frameNumber, err)
	}

	pcm, err := track.decoder.DecodePacket(track.inBuf[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeHard, err)
	}
	return pcm, nil
}

// seekAudio implements the Audio Read Engine's seek path: locate the
// coded frame owning startSample (after accounting for priming), back
// up by the codec's pre-roll distance, flush the decoder by reopening
// it, then decode and discard every primed frame up to the target,
// leaving the remainder buffer positioned exactly at startSample.
func seekAudio(demux Demuxer, track *AudioTrackState, startSample uint64) error {
	targetWithPriming := startSample + uint64(track.primingSamples)

	frameNumber, offset, err := locateAudioFrame(demux, track, targetWithPriming)
	if err != nil {
		return err
	}
	if frameNumber > track.frameCount {
		track.cursorFrame = frameNumber
		track.remainder = nil
		track.cursorPCM = startSample
		return nil
	}

	preroll, err := demux.PreRollDistance(track.trackID, frameNumber)
	if err != nil {
		return fmt.Errorf("%w: pre-roll distance: %w", ErrTimelineError, err)
	}

	primeFrame := frameNumber
	if preroll > 0 {
		if preroll >= frameNumber {
			primeFrame = 1
		} else {
			primeFrame = frameNumber - preroll
		}
	}

	track.log().Debug("audio seek by reopen", "start_sample", startSample, "frame", frameNumber, "prime_frame", primeFrame)
	if err := track.decoder.Reopen(); err != nil {
		return fmt.Errorf("%w: reopen: %w", ErrDecodeHard, err)
	}
	track.remainder = nil

	for fn := primeFrame; fn < frameNumber; fn++ {
		if _, err := decodeAudioFrame(demux, track, fn); err != nil {
			return err
		}
	}

	pcm, err := decodeAudioFrame(demux, track, frameNumber)
	if err != nil {
		return err
	}
	track.cursorFrame = frameNumber + 1

	bpf := track.decoder.BytesPerPCMFrame()
	skipBytes := offset * uint64(bpf)
	if skipBytes > uint64(len(pcm)) {
		skipBytes = uint64(len(pcm))
	}
	track.remainder = append([]byte(nil), pcm[skipBytes:]...)
	track.cursorPCM = startSample

	return nil
}

// readAudio implements the Audio Read Engine's top-level read
// (spec.md §4.5): it continues from the current decode position when
// the request is contiguous, and otherwise seeks, then drains
// decoded PCM (carrying any leftover remainder forward) until out is
// full or the track is exhausted.
func readAudio(demux Demuxer, track *AudioTrackState, startSample uint64, wantSamples uint64, out []byte) (int, error) {
	if startSample >= track.totalPCMSamples {
		return 0, nil
	}
	if remaining := track.totalPCMSamples - startSample; wantSamples > remaining {
		wantSamples = remaining
	}

	if startSample != track.cursorPCM {
		if err := seekAudio(demux, track, startSample); err != nil {
			return 0, err
		}
	}

	bpf := track.decoder.BytesPerPCMFrame()
	wantBytes := wantSamples * uint64(bpf)
	if uint64(len(out)) < wantBytes {
		wantBytes = uint64(len(out))
	}

	written := 0
	for uint64(written) < wantBytes {
		if len(track.remainder) == 0 {
			if track.cursorFrame > track.frameCount {
				break
			}
			pcm, err := decodeAudioFrame(demux, track, track.cursorFrame)
			if err != nil {
				return written, err
			}
			track.cursorFrame++
			track.remainder = pcm
		}

		n := copy(out[written:wantBytes], track.remainder)
		written += n
		track.remainder = track.remainder[n:]
	}

	track.cursorPCM = startSample + uint64(written)/uint64(bpf)
	return written, nil
}
