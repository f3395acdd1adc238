// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// fencedBlock matches a markdown code fence with an optional language tag.
// \x60 is a backtick; raw strings cannot contain one.
var fencedBlock = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON isolates the JSON document in a model response. It unwraps a
// markdown fence and, when the document is surrounded by prose, cuts from the
// first opening bracket to the matching last closing one. Objects are preferred
// over arrays.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	if inner, ok := between(s, "{", "}"); ok {
		return inner
	}
	if inner, ok := between(s, "[", "]"); ok {
		return inner
	}
	return s
}

func between(s, open, close string) (string, bool) {
	first := strings.Index(s, open)
	last := strings.LastIndex(s, close)
	if first == -1 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

// ParseJSONResponse decodes a model response into T, tolerating markdown
// fences and conversational text around the JSON.
func ParseJSONResponse[T any](response string) (*T, error) {
	doc := ExtractJSON(response)
	var result T
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(doc, 500))
	}
	return &result, nil
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
