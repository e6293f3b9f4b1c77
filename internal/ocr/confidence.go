package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate     = regexp.MustCompile(`\b(19|20)\d{2}[-/.]\d{1,2}[-/.]\d{1,2}\b`)
	reAmount   = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reKeyValue = regexp.MustCompile(`(?m)^[^:\n]{2,40}:\s*\S`)
)

// naive heuristic confidence based on decoded text characteristics
func heuristicConfidence(txt string) float64 {
	// boost if the text shows the shapes documents usually carry
	// (date-ish, amount-ish, labeled key:value lines). Each adds a bit.
	txtL := strings.ToLower(txt)
	score := 0.2 // base
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if kv := len(reKeyValue.FindAllString(txt, 4)); kv > 0 {
		score += 0.05 * float64(kv)
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}
