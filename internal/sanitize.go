package internal

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// SanitizeFilename makes a clip name safe to write on POSIX and macOS
// filesystems, normalizing to NFD and collapsing whitespace and dash runs.
func SanitizeFilename(name string) string {
	if name == "" || name == "." || name == ".." {
		return "_"
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	base = norm.NFD.String(base)
	ext = norm.NFD.String(ext)

	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		"\x00", "",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "'",
		"<", "(",
		">", ")",
		"|", "-",
	)
	base = replacer.Replace(base)

	var b strings.Builder
	b.Grow(len(base))
	prevSpace := false
	for _, r := range base {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	base = strings.TrimSpace(b.String())
	if base == "" {
		base = "_"
	}

	reDash := regexp.MustCompile(`[ \-]{2,}`)
	base = reDash.ReplaceAllString(base, "-")

	const maxBytes = 255
	fn := base + ext
	if len(fn) > maxBytes {
		target := maxBytes - len(ext)
		if target < 1 {
			target = maxBytes
		}
		base = truncateBytes(base, target)
		fn = base + ext
	}

	fn = strings.Trim(fn, " .")
	if fn == "" {
		fn = "_"
	}
	reg := regexp.MustCompile(`[^a-zA-Z0-9_.\-()&]`)
	return reg.ReplaceAllString(fn, "_")
}

// truncateBytes cuts a string to at most n bytes without splitting runes.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	var buf bytes.Buffer
	buf.Grow(n)
	for _, r := range s {
		rb := make([]byte, 4)
		nb := utf8.EncodeRune(rb, r)
		if buf.Len()+nb > n {
			break
		}
		buf.Write(rb[:nb])
	}
	return buf.String()
}

// SanitizePath applies per-component sanitization to a whole path, keeping
// the root prefix of absolute paths intact.
func SanitizePath(path string) string {
	invalidChars := regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	slashed := filepath.ToSlash(path)
	rooted := strings.HasPrefix(slashed, "/")
	components := strings.Split(slashed, "/")
	for i, component := range components {
		if component == "" {
			continue
		}
		safeComponent := invalidChars.ReplaceAllString(component, "_")
		safeComponent = strings.Trim(safeComponent, " .")
		const maxLength = 255
		if len(safeComponent) > maxLength {
			safeComponent = safeComponent[:maxLength]
		}
		components[i] = safeComponent
	}
	joined := filepath.Join(components...)
	if rooted {
		joined = string(filepath.Separator) + joined
	}
	return joined
}
