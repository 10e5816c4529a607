package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExtensionForMime maps the mime types MediaRecorder actually produces to a
// file extension. Unknown types fall back to .bin so the payload is still
// written somewhere recoverable.
func ExtensionForMime(mimeType string) string {
	mt := strings.ToLower(mimeType)
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	switch strings.TrimSpace(mt) {
	case "video/webm":
		return "webm"
	case "video/mp4":
		return "mp4"
	case "audio/webm":
		return "weba"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4":
		return "m4a"
	default:
		return "bin"
	}
}

// SaveClip writes a captured payload into dir under a sanitized name derived
// from the target id and segment bounds, returning the final path.
func SaveClip(dir, targetID string, startSeconds, endSeconds float64, mimeType string, payload []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create clip dir: %w", err)
	}
	name := fmt.Sprintf("%s_%.0f-%.0f.%s", targetID, startSeconds, endSeconds, ExtensionForMime(mimeType))
	path := filepath.Join(dir, SanitizeFilename(name))
	path = SanitizePath(path)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write clip: %w", err)
	}
	return path, nil
}
