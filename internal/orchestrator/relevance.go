package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/user/multichat/internal/types"
)

// actionKeywords signal that a prompt is asking for something a tool could
// look up. Without one of these no tool is offered at all.
var actionKeywords = []string{
	"search", "find", "lookup", "query", "get", "fetch", "retrieve",
	"check", "analyze", "scan", "read", "list", "show", "display",
	"database", "db", "index", "document", "file", "data",
}

// FilterRelevant returns the tools worth advertising for prompt. A tool is
// kept when some prompt word longer than three characters occurs in its
// name, description, server or schema property names, and the prompt
// contains at least one action keyword. False negatives are accepted.
func FilterRelevant(prompt string, tools []types.ToolDescriptor) []types.ToolDescriptor {
	if len(tools) == 0 {
		return nil
	}
	lower := strings.ToLower(prompt)

	intent := false
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			intent = true
			break
		}
	}
	if !intent {
		return nil
	}

	var words []string
	for _, w := range strings.Fields(lower) {
		if len(w) > 3 {
			words = append(words, w)
		}
	}

	var relevant []types.ToolDescriptor
	for _, t := range tools {
		haystack := searchText(t)
		for _, w := range words {
			if strings.Contains(haystack, w) {
				relevant = append(relevant, t)
				break
			}
		}
	}
	return relevant
}

func searchText(t types.ToolDescriptor) string {
	parts := []string{t.Name, t.Description, t.Server}
	parts = append(parts, schemaProperties(t.InputSchema)...)
	return strings.ToLower(strings.Join(parts, " "))
}

func schemaProperties(schema json.RawMessage) []string {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	return keys
}
