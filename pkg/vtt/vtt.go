// Package vtt reads and writes WebVTT caption tracks.
package vtt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header is the mandatory first line of every WebVTT file.
const Header = "WEBVTT"

// ContentType is the MIME type caption tracks are stored under.
const ContentType = "text/vtt"

var (
	ErrMissingHeader = errors.New("vtt: missing WEBVTT header")
	ErrNoCues        = errors.New("vtt: track contains no cues")
)

// Cue is a single timed caption.
type Cue struct {
	ID    string
	Start time.Duration
	End   time.Duration
	Text  string
}

// Track is a list of cues positioned at an offset within a longer timeline.
type Track struct {
	Offset time.Duration
	Cues   []Cue
}

// ParseString parses a WebVTT document held in memory.
func ParseString(s string) ([]Cue, error) {
	return Parse(strings.NewReader(s))
}

// Parse reads a WebVTT document. NOTE, STYLE and REGION blocks are skipped and
// cue settings after the end timestamp are discarded.
func Parse(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1024*64)
	scanner.Buffer(buf, 16*1024*1024)

	var (
		cues      []Cue
		block     []string
		sawHeader bool
	)

	flush := func() error {
		defer func() { block = block[:0] }()
		if len(block) == 0 {
			return nil
		}
		if !sawHeader {
			first := strings.TrimPrefix(block[0], "\ufeff")
			if first != Header && !strings.HasPrefix(first, Header+" ") && !strings.HasPrefix(first, Header+"\t") {
				return ErrMissingHeader
			}
			sawHeader = true
			return nil
		}
		cue, ok, err := parseBlock(block)
		if err != nil {
			return err
		}
		if ok {
			cues = append(cues, cue)
		}
		return nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrMissingHeader
	}
	return cues, nil
}

func parseBlock(lines []string) (Cue, bool, error) {
	first := strings.TrimSpace(lines[0])
	if first == "NOTE" || strings.HasPrefix(first, "NOTE ") || first == "STYLE" || first == "REGION" {
		return Cue{}, false, nil
	}

	var cue Cue
	timing := 0
	if !strings.Contains(lines[0], "-->") {
		if len(lines) < 2 || !strings.Contains(lines[1], "-->") {
			return Cue{}, false, fmt.Errorf("vtt: cue %q has no timing line", first)
		}
		cue.ID = first
		timing = 1
	}

	start, end, err := parseTiming(lines[timing])
	if err != nil {
		return Cue{}, false, err
	}
	cue.Start = start
	cue.End = end
	cue.Text = strings.Join(lines[timing+1:], "\n")
	return cue, true, nil
}

func parseTiming(line string) (time.Duration, time.Duration, error) {
	left, right, ok := strings.Cut(line, "-->")
	if !ok {
		return 0, 0, fmt.Errorf("vtt: invalid timing line %q", line)
	}
	start, err := ParseTimestamp(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("vtt: invalid timing line %q", line)
	}
	end, err := ParseTimestamp(fields[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("vtt: cue ends before it starts in %q", line)
	}
	return start, end, nil
}

// ParseTimestamp accepts "MM:SS.mmm" and "HH:MM:SS.mmm". A comma decimal
// separator (SRT style) is tolerated.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	main, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) != 3 {
		return 0, fmt.Errorf("vtt: invalid timestamp %q", s)
	}
	parts := strings.Split(main, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("vtt: invalid timestamp %q", s)
	}

	var hours, minutes, seconds int
	var err error
	if len(parts) == 3 {
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("vtt: invalid timestamp %q", s)
		}
		parts = parts[1:]
	}
	if minutes, err = strconv.Atoi(parts[0]); err != nil || minutes > 59 {
		return 0, fmt.Errorf("vtt: invalid timestamp %q", s)
	}
	if seconds, err = strconv.Atoi(parts[1]); err != nil || seconds > 59 {
		return 0, fmt.Errorf("vtt: invalid timestamp %q", s)
	}
	millis, err := strconv.Atoi(frac)
	if err != nil {
		return 0, fmt.Errorf("vtt: invalid timestamp %q", s)
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}

// FormatTimestamp renders d as "HH:MM:SS.mmm".
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	sec := ms / 1000
	ms -= sec * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, ms)
}

// Format renders cues as a WebVTT document.
func Format(cues []Cue) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n")
	for _, c := range cues {
		b.WriteString("\n")
		if c.ID != "" {
			b.WriteString(c.ID)
			b.WriteString("\n")
		}
		b.WriteString(FormatTimestamp(c.Start))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(c.End))
		b.WriteString("\n")
		b.WriteString(c.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Shift returns a copy of cues moved forward by offset.
func Shift(cues []Cue, offset time.Duration) []Cue {
	out := make([]Cue, len(cues))
	for i, c := range cues {
		c.Start += offset
		c.End += offset
		out[i] = c
	}
	return out
}

// Merge realigns every track by its offset and returns a single timeline
// ordered by start time. Cue identifiers are renumbered from 1.
func Merge(tracks ...Track) []Cue {
	var out []Cue
	for _, t := range tracks {
		out = append(out, Shift(t.Cues, t.Offset)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := range out {
		out[i].ID = strconv.Itoa(i + 1)
	}
	return out
}

// PlainText flattens cue text into a single space-separated transcript.
func PlainText(cues []Cue) string {
	var out strings.Builder
	for _, c := range cues {
		for _, line := range strings.Split(c.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(line)
		}
	}
	return out.String()
}

// Validate reports whether content is a well-formed track with at least one cue.
func Validate(content string) error {
	cues, err := ParseString(content)
	if err != nil {
		return err
	}
	if len(cues) == 0 {
		return ErrNoCues
	}
	return nil
}
