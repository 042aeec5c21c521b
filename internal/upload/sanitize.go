package upload

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// audioExtensions are the extensions preserved on storage object keys. Anything
// else normalizes to ".mp3".
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".wav":  true,
	".opus": true,
	".aac":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// SanitizeFileName reduces a file name to storage-safe form: diacritics
// stripped, anything outside [A-Za-z0-9_-] collapsed to a single underscore,
// runs of underscores collapsed, leading/trailing underscores trimmed, and the
// base capped at maxLen runes. An empty result becomes "unnamed". The extension
// is lowercased and replaced with ".mp3" when unrecognized.
func SanitizeFileName(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 64
	}
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !audioExtensions[ext] {
		ext = ".mp3"
	}

	base = stripDiacritics(base)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if runes := []rune(out); len(runes) > maxLen {
		out = strings.Trim(string(runes[:maxLen]), "_")
	}
	if out == "" {
		out = "unnamed"
	}
	return out + ext
}

// ObjectKey builds the storage key "{ownerID}/{unixMilli}-{sanitized}". The
// millisecond prefix keeps keys unique within a batch.
func ObjectKey(ownerID, fileName string, maxLen int, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s", ownerID, now.UnixMilli(), SanitizeFileName(fileName, maxLen))
}

// stripDiacritics decomposes to NFD and drops combining marks.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
