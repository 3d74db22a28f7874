package llm

import (
	"regexp"
	"strings"
)

var (
	fenceOpen  = regexp.MustCompile("```(?:sql|influxql|influx|json)?[ \t]*\n?")
	fenceClose = regexp.MustCompile("\n?```[ \t]*")
)

// Sanitize extracts a single statement from raw model output. Markdown
// fences are stripped; when the output contains several statements, the
// first SELECT across semicolon boundaries wins, then the first
// non-empty block across blank-line boundaries.
func Sanitize(raw string) string {
	result := strings.TrimSpace(raw)
	result = fenceOpen.ReplaceAllString(result, "")
	result = fenceClose.ReplaceAllString(result, "")
	result = strings.TrimSpace(result)

	if strings.Contains(result, ";") {
		for _, part := range strings.Split(result, ";") {
			part = strings.TrimSpace(part)
			if part != "" && strings.HasPrefix(strings.ToUpper(part), "SELECT") {
				result = part
				break
			}
		}
	}

	if strings.Contains(result, "\n\n") {
		for _, part := range strings.Split(result, "\n\n") {
			if strings.TrimSpace(part) != "" {
				result = strings.TrimSpace(part)
				break
			}
		}
	}

	return strings.TrimSpace(result)
}

// stripFences removes markdown code fences without any statement
// splitting, for JSON payloads.
func stripFences(raw string) string {
	result := strings.TrimSpace(raw)
	result = fenceOpen.ReplaceAllString(result, "")
	result = fenceClose.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}
