// Package media turns a video URL into plain transcript text. It drives
// yt-dlp for metadata and subtitle download, flattens WebVTT caption
// files into deduplicated text, and falls back to the video description
// when no captions exist.
package media

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	vttHeader   = "WEBVTT"
	timingArrow = "-->"
	utf8BOM     = "\ufeff"
)

// metadataLineRe matches the "Kind:" and "Language:" lines yt-dlp
// writes below the header.
var metadataLineRe = regexp.MustCompile(`^(Kind|Language): `)

// ParseVTT flattens WebVTT caption text into a single line of prose.
//
// Each line is judged on its own. Timing lines, blank lines, a line
// that is exactly "WEBVTT", yt-dlp's Kind:/Language: metadata and any
// line carrying markup ("<") are dropped. Surviving lines are trimmed and
// kept only the first time they are seen, which collapses the rolling
// duplicates automatic captions emit. Lines are joined with a space.
// ParseVTT never fails and is idempotent on its own output.
func ParseVTT(raw string) string {
	raw = strings.TrimPrefix(raw, utf8BOM)
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	seen := make(map[string]struct{}, len(lines))
	var out []string

	for _, line := range lines {
		line = cleanLine(line)

		if line == "" ||
			line == vttHeader ||
			strings.Contains(line, timingArrow) ||
			strings.Contains(line, "<") ||
			metadataLineRe.MatchString(line) {
			continue
		}

		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}

	return strings.Join(out, " ")
}

// cleanLine trims whitespace, including a stray \r, and byte order marks.
func cleanLine(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff'
	})
}
