package ocr

import (
	"regexp"
	"strings"
)

var (
	reKeyJunk   = regexp.MustCompile(`[^a-z0-9\s]`)
	reKeySpaces = regexp.MustCompile(`\s+`)
)

// Fields extracts key:value pairs from normalized text, one per line, like
// "Invoice Number: 12345". Keys are lowercased with spaces collapsed to
// underscores. The first occurrence of a key wins; ambiguity between
// distinct keys is the transformation engine's concern, not ours.
func Fields(text string) map[string]string {
	fields := make(map[string]string)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		key = strings.ToLower(strings.TrimSpace(key))
		key = reKeyJunk.ReplaceAllString(key, "")
		key = reKeySpaces.ReplaceAllString(key, "_")
		value = strings.TrimSpace(value)

		if key == "" || value == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = value
		}
	}
	return fields
}
