package orchestrator

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/user/multichat/internal/types"
	"github.com/user/multichat/pkg/llm"
)

// HistoryFor converts a transcript into backend history for model. An
// assistant turn carries that model's own successful response, falling
// back to any successful response. Consecutive same-role turns are merged.
func HistoryFor(model string, msgs []*types.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := "assistant"
		if m.Role == types.RoleUser {
			role = "user"
		}
		text := m.Content
		if m.Role == types.RoleAssistant && len(m.Responses) > 0 {
			text = responseText(model, m.Responses)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: text})
	}
	return llm.MergeConsecutive(out)
}

func responseText(model string, responses map[string]*types.ModelResponse) string {
	if r, ok := responses[model]; ok && r.Status == types.StatusSuccess {
		return r.Text
	}
	keys := make([]string, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if r := responses[k]; r.Status == types.StatusSuccess {
			return r.Text
		}
	}
	return ""
}

// Attachments converts stored attachments to adapter attachments, dropping
// those excluded from context.
func Attachments(atts []types.Attachment) []llm.Attachment {
	out := make([]llm.Attachment, 0, len(atts))
	for _, a := range atts {
		if a.ExcludeFromContext {
			continue
		}
		la := llm.Attachment{Name: a.Name, MimeType: a.Type}
		if a.Content != nil {
			la.Text = *a.Content
		}
		if a.Base64 != "" {
			mime, data, err := DecodeDataURL(a.Base64)
			if err != nil {
				slog.Warn("decode attachment", "name", a.Name, "error", err)
			} else {
				la.Data = data
				if la.MimeType == "" {
					la.MimeType = mime
				}
			}
		}
		out = append(out, la)
	}
	return out
}

// DecodeDataURL splits a "data:MIME;base64,PAYLOAD" URL. A bare base64
// payload is accepted with an empty MIME type.
func DecodeDataURL(s string) (string, []byte, error) {
	mime := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.Index(s, ",")
		if comma < 0 {
			return "", nil, fmt.Errorf("malformed data url")
		}
		mime = strings.TrimSuffix(s[len("data:"):comma], ";base64")
		payload = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mime, data, nil
}
