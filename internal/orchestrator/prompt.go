package orchestrator

import (
	"fmt"
	"strings"

	"github.com/user/multichat/internal/types"
)

const toolInstructions = `[INSTRUCTION: To call a tool, you MUST use the following format. Do NOT hallucinate tool outputs. Do NOT announce what the tool result "is" before calling it. Do NOT fake a tool response.]

1. Provide a brief, user-facing explanation (e.g. "Checking database...").
2. Create a markdown code block labeled 'json' containing an ARRAY of tool call objects.

Example:
` + "```json" + `
[
  { "tool": "server.tool_name", "arguments": { "arg": "value" } },
  { "tool": "server.other_tool", "arguments": { "id": 123 } }
]
` + "```" + `

[IMPORTANT: You can call multiple tools in the array. Strictly use the JSON array format inside the code block.]`

const traceInstruction = "[INSTRUCTION]: Use the available information to answer the original request. " +
	"If you need more information, call another tool. If you have the answer, state it clearly."

// AppendToolInstructions advertises tools after prompt and tells the model
// how to request calls. With no tools the prompt is returned unchanged.
func AppendToolInstructions(prompt string, tools []types.ToolDescriptor) string {
	if len(tools) == 0 {
		return prompt
	}
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		schema := ""
		if len(t.InputSchema) > 0 {
			schema = " Args: " + string(t.InputSchema)
		}
		lines = append(lines, fmt.Sprintf("- %s.%s: %s%s", t.Server, t.Name, t.Description, schema))
	}
	return prompt +
		"\n\n[CONTEXT: The following MCP tools are available to you in this session]\n" +
		strings.Join(lines, "\n") +
		"\n\n" + toolInstructions
}

// tracePrompt rebuilds the prompt for the next iteration from the original
// request and every tool output seen so far.
func tracePrompt(original, trace string) string {
	return "Original Request: " + original +
		"\n\n[CONTEXT - PREVIOUS TOOL OUTPUTS]:\n" + trace +
		"\n\n" + traceInstruction
}
