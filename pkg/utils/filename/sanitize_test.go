package filename

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "lecture.mp4", "lecture.mp4"},
		{"spaces", "  Week 1  Intro.MP4 ", "Week-1-Intro.mp4"},
		{"invalid chars", `quiz:review?.mov`, "quiz-review.mov"},
		{"path stripped", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\me\talk.webm`, "talk.webm"},
		{"collapsed dashes", "a--b__c.mp4", "a-b-c.mp4"},
		{"hidden file", ".mp4", ""},
		{"empty", "   ", ""},
		{"only junk", "???.mp4", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in, 0))
		})
	}
}

func TestSanitize_TruncatesKeepingExtension(t *testing.T) {
	got := Sanitize(strings.Repeat("é", 40)+".mp4", 21)
	assert.LessOrEqual(t, len(got), 21)
	assert.True(t, strings.HasSuffix(got, ".mp4"))
	assert.True(t, utf8.ValidString(got))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "intro to IAM final", Title("intro_to-IAM.final.mp4"))
	assert.Equal(t, "Week 1", Title("uploads/Week 1.mov"))
	assert.Equal(t, "", Title(""))
}
