package isomedia

import "fmt"

// resolveAnchor implements the Random-Access Resolver (spec.md §4.2):
// given a target composition index, it returns the decoding index to
// restart decode from, the RAP record that anchor was derived from,
// and whether roll-recovery back-up applies. The anchor backs up by
// detail.Distance whenever the RAP needs roll-recovery or is a leading
// picture (targetD - anchorD <= detail.LeadingCount), and only when
// doing so wouldn't underflow past the RAP itself.
//
// searchCeilingD, when non-zero, overrides the decoding index the RAP
// search is anchored to instead of decodingIndex(targetC). The Seek
// Retry Ladder uses this to force progressively earlier anchors by
// passing the previous anchor minus one.
func resolveAnchor(demux Demuxer, track *VideoTrackState, targetC uint32, searchCeilingD uint32) (anchorD uint32, detail RAPDetail, rollRecovery bool, err error) {
	targetD := searchCeilingD
	if targetD == 0 {
		targetD = track.decodingIndex(targetC)
	}
	if targetD < 1 {
		targetD = 1
	}

	detail, ok, err := demux.RAPDetailAtOrBefore(track.trackID, targetD)
	if err != nil {
		return 0, RAPDetail{}, false, fmt.Errorf("%w: rap detail: %w", ErrTimelineError, err)
	}
	if !ok {
		return 1, RAPDetail{RAP: 1, Type: RAPSync}, false, nil
	}

	anchorD = detail.RAP
	rollRecovery = detail.Type == RAPPreRoll || detail.Type == RAPPostRoll
	isLeading := detail.LeadingCount > 0 && targetD-anchorD <= detail.LeadingCount

	if (rollRecovery || isLeading) && anchorD > detail.Distance {
		anchorD -= detail.Distance
	}

	if anchorD < 1 {
		anchorD = 1
	}

	return anchorD, detail, rollRecovery, nil
}
