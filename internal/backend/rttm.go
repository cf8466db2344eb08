package backend

import (
	"fmt"
	"sort"
	"strings"
)

// FormatRTTM renders diarization segments in RTTM exchange format, one
// SPEAKER line per segment:
//
//	SPEAKER <recording> 1 <onset> <duration> <NA> <NA> <speaker> <NA> <NA>
//
// Onset and duration are seconds with millisecond precision.
func FormatRTTM(recordingID string, segments []Segment) string {
	if recordingID == "" {
		recordingID = "audio"
	}

	var b strings.Builder
	for _, seg := range segments {
		duration := seg.End - seg.Start
		if duration < 0 {
			duration = 0
		}
		fmt.Fprintf(&b, "SPEAKER %s 1 %.3f %.3f <NA> <NA> %s <NA> <NA>\n",
			recordingID, seg.Start, duration, seg.Speaker)
	}
	return b.String()
}

// CountSpeakers returns the number of distinct speakers in segments.
func CountSpeakers(segments []Segment) int {
	return len(DistinctSpeakers(segments))
}

// DistinctSpeakers returns the sorted distinct speaker ids in segments.
func DistinctSpeakers(segments []Segment) []string {
	seen := make(map[string]struct{}, 2)
	for _, seg := range segments {
		seen[seg.Speaker] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for speaker := range seen {
		out = append(out, speaker)
	}
	sort.Strings(out)
	return out
}

// SpeakerStats aggregates per-speaker talk time across segments,
// ordered by speaker id.
func SpeakerStats(segments []Segment) []SpeakerStat {
	byID := make(map[string]*SpeakerStat, 2)
	for _, seg := range segments {
		stat, ok := byID[seg.Speaker]
		if !ok {
			stat = &SpeakerStat{Speaker: seg.Speaker}
			byID[seg.Speaker] = stat
		}
		if d := seg.End - seg.Start; d > 0 {
			stat.TotalSeconds += d
		}
		stat.Segments++
	}

	out := make([]SpeakerStat, 0, len(byID))
	for _, speaker := range DistinctSpeakers(segments) {
		out = append(out, *byID[speaker])
	}
	return out
}
