package isomedia

import "fmt"

// fetchVideoSample copies decoding sample d into the track's reusable
// input buffer, allocating it from the demuxer's MaxSampleSize on
// first use. The buffer is never grown afterwards.
func fetchVideoSample(demux Demuxer, track *VideoTrackState, d uint32) ([]byte, bool, error) {
	if track.inputBuffer == nil {
		size, err := demux.MaxSampleSize(track.trackID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: max sample size: %w", ErrAllocation, err)
		}
		track.maxSampleSize = size
		track.inputBuffer = make([]byte, size+decoderPadding)
	}

	n, isSync, err := demux.FetchSample(track.trackID, d, track.inputBuffer)
	if err != nil {
		return nil, false, err
	}
	return track.inputBuffer[:n], isSync, nil
}

// videoQueueEntry tracks one packet submitted to the decoder that has
// not yet produced its output frame.
type videoQueueEntry struct {
	d uint32
}

// decodeDrive is the Video Decode Engine's core loop: starting at
// anchorD, it submits samples in decoding order and pulls decoded
// frames in the same FIFO order the decoder received them, discarding
// every frame that doesn't land on targetC, until it does (or the
// stream ends without reaching it). While submitting a priming sample
// whose decoded picture can't reach targetC before the decoder's
// pipeline drains (d+pipelineDepth < targetC), it hints the decoder to
// discard non-reference frames, clearing the hint once submission
// catches up to targetC.
func decodeDrive(demux Demuxer, track *VideoTrackState, anchorD uint32, targetC uint32) (VideoFrame, error) {
	if track.phase == phaseRequireInitial {
		if err := track.decoder.Reopen(); err != nil {
			return nil, fmt.Errorf("%w: reopen: %w", ErrDecodeHard, err)
		}
		track.phase = phaseInitializing
		track.pipelineDepth = track.decoder.PipelineDepth()
		track.pendingQueue = nil
	}
	queue := track.pendingQueue
	track.pendingQueue = nil
	errorCount := 0
	d := anchorD
	pipelineDepth := uint32(track.pipelineDepth)

	for {
		var gotFrame bool
		var err error

		if d > track.sampleCount {
			track.decoder.SetDiscardNonRef(false)
			gotFrame, err = track.decoder.Flush()
		} else {
			// Priming samples decoded only to prime the pipeline, whose
			// pictures will never reach targetC, never need to be kept
			// as references past the decode itself.
			track.decoder.SetDiscardNonRef(d+pipelineDepth < targetC)

			packet, _, ferr := fetchVideoSample(demux, track, d)
			if ferr != nil {
				return nil, fmt.Errorf("%w: fetch sample %d: %w", ErrSampleAbsent, d, ferr)
			}
			gotFrame, err = track.decoder.Decode(packet)
			if err == nil {
				queue = append(queue, videoQueueEntry{d: d})
			}
			d++
		}

		if err != nil {
			errorCount++
			if errorCount > maxErrorCount {
				return nil, fmt.Errorf("%w: %w", ErrDecodeHard, err)
			}
			continue
		}

		if gotFrame {
			if len(queue) == 0 {
				// Flush-phase emission with nothing queued means the
				// decoder buffered across the anchor itself; nothing
				// to attribute it to.
				return nil, fmt.Errorf("%w: unattributed frame emission", ErrDecodeHard)
			}
			emitted := queue[0]
			queue = queue[1:]
			track.phase = phaseInitialized
			track.lastRAP = anchorD

			c := track.compositionIndex(emitted.d)
			if c == targetC {
				track.pendingQueue = queue
				track.nextSubmitD = d
				return track.decoder.Frame(), nil
			}
			continue
		}

		if d > track.sampleCount && len(queue) == 0 {
			return nil, ErrDecodeNoOutput
		}
	}
}

// readVideo implements the fast path (sequential delivery reusing
// decoder state) and falls back to the caller-supplied seek function
// otherwise. seek is injected so the Seek Retry Ladder (retry.go) can
// wrap it without this function needing to know about retries.
func readVideo(demux Demuxer, track *VideoTrackState, targetC uint32, seek func(uint32) (VideoFrame, error)) (VideoFrame, error) {
	if targetC == 0 || targetC > track.sampleCount {
		return nil, fmt.Errorf("%w: composition index %d out of range", ErrSampleAbsent, targetC)
	}

	if track.phase == phaseInitialized && track.lastDelivered != 0 && targetC == track.lastDelivered+1 {
		frame, err := decodeDrive(demux, track, track.nextSubmitD, targetC)
		if err == nil {
			track.lastDelivered = targetC
			return frame, nil
		}
		// Fast path failed; fall through to a full seek.
		track.phase = phaseRequireInitial
	}

	frame, err := seek(targetC)
	if err != nil {
		return nil, err
	}
	track.lastDelivered = targetC
	return frame, nil
}
