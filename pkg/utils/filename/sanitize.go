// Package filename turns user-supplied upload names into safe file names and
// readable titles.
package filename

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	invalidCharsRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multiDash      = regexp.MustCompile(`[-_]{2,}`)
	separatorsRe   = regexp.MustCompile(`[-_.\s]+`)
)

// Sanitize makes name safe to use as a local file name and as the file name
// of a multipart upload. The extension is kept, lower-cased. The result is at
// most maxLen bytes (120 when maxLen <= 0) and "" when nothing usable is left.
func Sanitize(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 120
	}

	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		return ""
	}

	ext := strings.ToLower(filepath.Ext(name))
	if invalidCharsRe.MatchString(ext) || strings.ContainsAny(ext, " \t") {
		ext = ""
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	stem = invalidCharsRe.ReplaceAllString(stem, "-")
	stem = strings.Join(strings.Fields(stem), "-")
	stem = multiDash.ReplaceAllString(stem, "-")
	stem = strings.Trim(stem, "-.")
	if stem == "" {
		return ""
	}

	if budget := maxLen - len(ext); len(stem) > budget && budget > 0 {
		stem = truncate(stem, budget)
		stem = strings.TrimRight(stem, "-.")
	}
	return stem + ext
}

// Title derives a human-readable title from an upload name, e.g.
// "intro_to-IAM.final.mp4" becomes "intro to IAM final".
func Title(name string) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(separatorsRe.ReplaceAllString(base, " "))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
