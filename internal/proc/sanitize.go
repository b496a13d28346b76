package proc

import (
	"regexp"
	"strings"
)

// csiPattern matches ANSI CSI escape sequences.
var csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// oscPattern matches OSC sequences terminated by BEL or ST.
var oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)

// escPattern matches remaining two-byte escape sequences.
var escPattern = regexp.MustCompile(`\x1b[@-_]`)

// SanitizeLine strips ANSI/OSC/CSI control sequences, normalizes tabs, and
// drops other control bytes. Used for the UI preview of child output; the raw
// bytes are retained for the final tool result.
func SanitizeLine(line string) string {
	line = oscPattern.ReplaceAllString(line, "")
	line = csiPattern.ReplaceAllString(line, "")
	line = escPattern.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "\t", "    ")

	var sb strings.Builder
	sb.Grow(len(line))
	for _, r := range line {
		if r == 0x7f || (r < 0x20 && r != ' ') {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
