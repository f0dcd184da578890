package history

import (
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the JSON object out of model text that may carry code
// fences or prose around it.
func ExtractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(trimmed); len(m) > 1 {
		return m[1], true
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1], true
	}
	return "", false
}
