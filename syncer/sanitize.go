package syncer

import (
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeName maps an arbitrary display name to a filesystem-safe name.
// Characters that are unsafe on common filesystems are replaced with an
// underscore and surrounding whitespace is trimmed.
func SanitizeName(name string) string {
	return strings.TrimSpace(unsafeNameChars.ReplaceAllString(name, "_"))
}
