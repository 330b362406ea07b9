package isomedia

import "fmt"

// seekVideo implements the Seek Retry Ladder (spec.md §4.4): resolve
// an anchor, attempt a full decode drive to targetC, and on failure
// back the anchor up to the RAP before the one just tried. Once more
// than maxErrorCount attempts have failed, SeekNormal escalates to
// SeekAggressive with a fresh budget, while SeekUnsafe and
// SeekAggressive give up. It also gives up once a failed attempt was
// anchored at decoding index 1.
func seekVideo(demux Demuxer, track *VideoTrackState, targetC uint32) (VideoFrame, error) {
	policy := track.seekPolicy
	var searchCeiling uint32
	errorCount := 0

	for {
		anchorD, _, _, err := resolveAnchor(demux, track, targetC, searchCeiling)
		if err != nil {
			return nil, err
		}

		track.phase = phaseRequireInitial
		track.seekPolicy = policy

		frame, derr := decodeDrive(demux, track, anchorD, targetC)
		if derr == nil {
			track.seekPolicy = policy
			return frame, nil
		}

		errorCount++
		track.log().Debug("seek retry", "target_c", targetC, "anchor_d", anchorD, "policy", policy.String(), "error_count", errorCount, "err", derr)

		if errorCount > maxErrorCount {
			if policy == SeekAggressive || policy == SeekUnsafe {
				return nil, fmt.Errorf("%w: exhausted retry ladder at %s policy", derr, policy)
			}
			track.log().Warn("seek policy escalated to aggressive", "target_c", targetC)
			policy = SeekAggressive
			errorCount = 0
		}

		if anchorD <= 1 {
			if policy == SeekUnsafe {
				return nil, derr
			}
			return nil, fmt.Errorf("%w: no earlier random access point", derr)
		}

		searchCeiling = anchorD - 1
	}
}
