package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRTTM(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 4, Speaker: "SPEAKER_00"},
		{Start: 4, End: 8.5, Speaker: "SPEAKER_01"},
	}

	rttm := FormatRTTM("meeting", segments)

	lines := strings.Split(strings.TrimSuffix(rttm, "\n"), "\n")
	assert.Equal(t, []string{
		"SPEAKER meeting 1 0.000 4.000 <NA> <NA> SPEAKER_00 <NA> <NA>",
		"SPEAKER meeting 1 4.000 4.500 <NA> <NA> SPEAKER_01 <NA> <NA>",
	}, lines)
}

func TestFormatRTTM_DefaultRecordingID(t *testing.T) {
	rttm := FormatRTTM("", []Segment{{Start: 0, End: 1, Speaker: "SPEAKER_00"}})
	assert.Equal(t, "SPEAKER audio 1 0.000 1.000 <NA> <NA> SPEAKER_00 <NA> <NA>\n", rttm)
}

func TestFormatRTTM_NegativeDurationClamped(t *testing.T) {
	rttm := FormatRTTM("x", []Segment{{Start: 5, End: 3, Speaker: "SPEAKER_00"}})
	assert.Contains(t, rttm, " 5.000 0.000 ")
}

func TestFormatRTTM_Empty(t *testing.T) {
	assert.Equal(t, "", FormatRTTM("x", nil))
}

func TestCountSpeakers(t *testing.T) {
	assert.Equal(t, 0, CountSpeakers(nil))
	assert.Equal(t, 1, CountSpeakers([]Segment{
		{Speaker: "SPEAKER_00"},
		{Speaker: "SPEAKER_00"},
	}))
	assert.Equal(t, 3, CountSpeakers([]Segment{
		{Speaker: "SPEAKER_00"},
		{Speaker: "SPEAKER_01"},
		{Speaker: "SPEAKER_02"},
		{Speaker: "SPEAKER_01"},
	}))
}

func TestDistinctSpeakers_Sorted(t *testing.T) {
	speakers := DistinctSpeakers([]Segment{
		{Speaker: "SPEAKER_02"},
		{Speaker: "SPEAKER_00"},
		{Speaker: "SPEAKER_02"},
		{Speaker: "SPEAKER_01"},
	})
	assert.Equal(t, []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02"}, speakers)
}

func TestSpeakerStats(t *testing.T) {
	stats := SpeakerStats([]Segment{
		{Start: 0, End: 4, Speaker: "SPEAKER_01"},
		{Start: 4, End: 6, Speaker: "SPEAKER_00"},
		{Start: 6, End: 6.5, Speaker: "SPEAKER_01"},
		{Start: 9, End: 7, Speaker: "SPEAKER_00"},
	})

	require.Len(t, stats, 2)

	assert.Equal(t, "SPEAKER_00", stats[0].Speaker)
	assert.Equal(t, 2, stats[0].Segments)
	// The inverted segment contributes no talk time.
	assert.InDelta(t, 2.0, stats[0].TotalSeconds, 0.001)

	assert.Equal(t, "SPEAKER_01", stats[1].Speaker)
	assert.Equal(t, 2, stats[1].Segments)
	assert.InDelta(t, 4.5, stats[1].TotalSeconds, 0.001)
}

func TestSpeakerStats_Empty(t *testing.T) {
	assert.Empty(t, SpeakerStats(nil))
}
