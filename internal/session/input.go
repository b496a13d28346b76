package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/snow-ai/snow/internal/message"
)

// maxFileRefBytes bounds how much of a referenced file is inlined.
const maxFileRefBytes = 32 * 1024

// UserInput is one user submission.
type UserInput struct {
	Text     string
	Images   []message.Image
	FileRefs []string
	// YOLO toggles YOLO mode for the session before the turn runs.
	YOLO *bool
}

// resolveFileRefs reads each referenced file (bounded) and builds the
// annotation block included in the outgoing user message.
func resolveFileRefs(workDir string, refs []string) string {
	if len(refs) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, ref := range refs {
		path := ref
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			sb.WriteString(fmt.Sprintf("\n<file path=%q error=%q/>\n", ref, err.Error()))
			continue
		}
		truncated := false
		if len(data) > maxFileRefBytes {
			data = data[:maxFileRefBytes]
			truncated = true
		}
		sb.WriteString(fmt.Sprintf("\n<file path=%q>\n%s", ref, string(data)))
		if truncated {
			sb.WriteString("\n(truncated)")
		}
		sb.WriteString("\n</file>\n")
	}
	return sb.String()
}
