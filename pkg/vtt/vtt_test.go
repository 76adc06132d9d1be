package vtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "WEBVTT\n\n" +
	"NOTE generated by whisper\n\n" +
	"1\n00:00:00.000 --> 00:00:02.500\nWelcome to the course.\n\n" +
	"00:02.500 --> 00:05.000 align:start position:10%\nToday we cover\nnetworking basics.\n"

func TestParse(t *testing.T) {
	cues, err := ParseString(sample)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, "1", cues[0].ID)
	assert.Equal(t, time.Duration(0), cues[0].Start)
	assert.Equal(t, 2500*time.Millisecond, cues[0].End)
	assert.Equal(t, "Welcome to the course.", cues[0].Text)

	assert.Equal(t, "", cues[1].ID)
	assert.Equal(t, 5*time.Second, cues[1].End)
	assert.Equal(t, "Today we cover\nnetworking basics.", cues[1].Text)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "empty", input: "", want: ErrMissingHeader},
		{name: "srt body", input: "1\n00:00:01,000 --> 00:00:02,000\nhi\n", want: ErrMissingHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.input)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := ParseString("WEBVTT\n\n00:00:05.000 --> 00:00:01.000\nbackwards\n")
	require.Error(t, err)

	_, err = ParseString("WEBVTT\n\norphan text\n")
	require.Error(t, err)
}

func TestTimestamps(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"00:00.000", 0},
		{"01:02.345", time.Minute + 2*time.Second + 345*time.Millisecond},
		{"01:00:00.001", time.Hour + time.Millisecond},
		{"00:00:01,500", 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "1.000", "00:61.000", "aa:00.000", "00:00.5"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, "00:00:00.000", FormatTimestamp(-time.Second))
	assert.Equal(t, "01:01:01.010", FormatTimestamp(time.Hour+time.Minute+time.Second+10*time.Millisecond))
}

func TestFormatRoundTrip(t *testing.T) {
	cues, err := ParseString(sample)
	require.NoError(t, err)

	out := Format(cues)
	require.NoError(t, Validate(out))

	again, err := ParseString(out)
	require.NoError(t, err)
	assert.Equal(t, cues, again)
}

func TestMerge_RealignsChunkOffsets(t *testing.T) {
	chunk := []Cue{
		{Start: 0, End: time.Second, Text: "a"},
		{Start: time.Second, End: 2 * time.Second, Text: "b"},
	}

	merged := Merge(
		Track{Offset: 0, Cues: chunk},
		Track{Offset: 10 * time.Minute, Cues: chunk},
	)
	require.Len(t, merged, 4)
	assert.Equal(t, "3", merged[2].ID)
	assert.Equal(t, 10*time.Minute, merged[2].Start)
	assert.Equal(t, 10*time.Minute+2*time.Second, merged[3].End)

	// input untouched
	assert.Equal(t, time.Duration(0), chunk[0].Start)
}

func TestPlainText(t *testing.T) {
	cues, err := ParseString(sample)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the course. Today we cover networking basics.", PlainText(cues))
}

func TestValidate_NoCues(t *testing.T) {
	require.ErrorIs(t, Validate("WEBVTT\n"), ErrNoCues)
}
