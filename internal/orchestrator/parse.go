package orchestrator

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/user/multichat/internal/types"
)

var jsonBlock = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")

// Call is a resolved tool invocation.
type Call struct {
	Tool      types.ToolDescriptor
	Arguments json.RawMessage
}

// Parsed is the result of scanning one model reply for tool calls.
type Parsed struct {
	Calls []Call
	// Blocks are the fenced blocks that produced at least one call.
	Blocks []string
}

// ParseToolCalls extracts tool calls from fenced json blocks in text. Each
// block may hold an array of {tool, arguments} objects or a single one.
// Blocks that fail to decode, and calls naming no known tool, are ignored.
func ParseToolCalls(text string, tools []types.ToolDescriptor) Parsed {
	var out Parsed
	if len(tools) == 0 {
		return out
	}
	for _, m := range jsonBlock.FindAllStringSubmatch(text, -1) {
		invocations, ok := decodeInvocations([]byte(m[1]))
		if !ok {
			continue
		}
		found := false
		for _, inv := range invocations {
			if inv.Tool == "" || isNull(inv.Arguments) {
				continue
			}
			tool, ok := resolve(inv.Tool, tools)
			if !ok {
				continue
			}
			out.Calls = append(out.Calls, Call{Tool: tool, Arguments: inv.Arguments})
			found = true
		}
		if found {
			out.Blocks = append(out.Blocks, m[0])
		}
	}
	return out
}

func decodeInvocations(raw []byte) ([]types.ToolCallInvocation, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	if raw[0] == '[' {
		var list []types.ToolCallInvocation
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, false
		}
		return list, true
	}
	var one types.ToolCallInvocation
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, false
	}
	return []types.ToolCallInvocation{one}, true
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// resolve matches "name" or "server.name" against the offered tools. A
// qualified reference prefers the tool on the named server.
func resolve(ref string, tools []types.ToolDescriptor) (types.ToolDescriptor, bool) {
	server, name := "", ref
	if i := strings.Index(ref, "."); i >= 0 {
		server, name = ref[:i], ref[i+1:]
	}
	if server != "" {
		for _, t := range tools {
			if t.Server == server && t.Name == name {
				return t, true
			}
		}
	}
	for _, t := range tools {
		if t.Name == name || t.Name == ref {
			return t, true
		}
	}
	return types.ToolDescriptor{}, false
}
