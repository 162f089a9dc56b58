package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoObject = errors.New("no JSON object found in response")

// stripFence removes a surrounding ``` or ```json markdown fence
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

// parseJSONObject parses a model answer that is a single JSON object, optionally wrapped in a markdown code fence
func parseJSONObject(text string) (map[string]any, error) {
	text = stripFence(text)
	if !strings.HasPrefix(text, "{") {
		return nil, errNoObject
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return obj, nil
}
