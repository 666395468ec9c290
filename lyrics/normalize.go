package lyrics

import (
	"html"
	"regexp"
	"strings"
)

var (
	embedSuffixRegexp = regexp.MustCompile(`\d*Embed\s*$`)
	blankRunsRegexp   = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// Normalize cleans scraped lyrics text: decodes HTML entities, drops the
// duplicated "<title> Lyrics" header line the page prepends, and strips the
// share-widget artifacts ("You might also like", trailing "NNEmbed") that
// leak into the lyrics containers.
func Normalize(title, raw string) string {
	text := html.UnescapeString(raw)

	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if strings.EqualFold(first, strings.TrimSpace(title)+" Lyrics") {
			lines = lines[1:]
		}
	}

	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "You might also like" {
			continue
		}
		kept = append(kept, line)
	}

	text = strings.Join(kept, "\n")
	text = embedSuffixRegexp.ReplaceAllString(text, "")
	text = blankRunsRegexp.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
