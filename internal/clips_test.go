package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"abc123_10-40.webm":    "abc123_10-40.webm",
		"a/b\\c:d.webm":        "a-b-c-d.webm",
		"  spaced   name.webm": "spaced_name.webm",
		"":                     "_",
		".":                    "_",
		"..":                   "_",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := strings.Repeat("a", 300) + ".webm"
	out := SanitizeFilename(long)
	assert.LessOrEqual(t, len(out), 255)
	assert.True(t, strings.HasSuffix(out, ".webm"))
}

func TestExtensionForMime(t *testing.T) {
	assert.Equal(t, "webm", ExtensionForMime("video/webm"))
	assert.Equal(t, "webm", ExtensionForMime("video/webm;codecs=vp9,opus"))
	assert.Equal(t, "mp4", ExtensionForMime("video/mp4"))
	assert.Equal(t, "weba", ExtensionForMime("audio/webm"))
	assert.Equal(t, "bin", ExtensionForMime("application/octet-stream"))
	assert.Equal(t, "bin", ExtensionForMime(""))
}

func TestSaveClip(t *testing.T) {
	dir := t.TempDir()
	path, err := SaveClip(dir, "abc123", 10, 40, "video/webm;codecs=vp9,opus", []byte("payload"))
	require.NoError(t, err)

	assert.Equal(t, "abc123_10-40.webm", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestSaveClipCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "clips")
	_, err := SaveClip(dir, "abc123", 0, 60, "video/webm", []byte("payload"))
	require.NoError(t, err)
}
