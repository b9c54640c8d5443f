package mcpbridge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// JSONExtractor decodes JSON from a model answer. A fenced ```json block is
// preferred; otherwise the whole text is decoded.
type JSONExtractor struct {
	// Target is a pointer the JSON is decoded into.
	Target interface{}
}

// NewJSONExtractor creates an extractor decoding into target.
func NewJSONExtractor(target interface{}) *JSONExtractor {
	return &JSONExtractor{Target: target}
}

// Extract decodes response into Target and returns it.
func (e *JSONExtractor) Extract(response LLMResponse) (interface{}, error) {
	content := extractFromCodeBlock(response.Text, "json")
	if content == "" {
		content = extractFromCodeBlock(response.Text, "")
	}
	if content == "" {
		content = strings.TrimSpace(response.Text)
	}

	if err := json.Unmarshal([]byte(content), e.Target); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return e.Target, nil
}

// extractFromCodeBlock returns the body of the first fenced block tagged with
// language, or "" when there is none.
func extractFromCodeBlock(text, language string) string {
	pattern := fmt.Sprintf("```%s[ \\t]*\\n([\\s\\S]*?)```", regexp.QuoteMeta(language))
	matches := regexp.MustCompile(pattern).FindStringSubmatch(text)
	if len(matches) < 2 {
		return ""
	}
	return strings.TrimSpace(matches[1])
}
