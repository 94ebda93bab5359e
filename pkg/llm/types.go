package llm

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Message is one prior conversation turn sent as history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a file sent alongside the prompt. Data holds the raw bytes.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
	// Text is pre-extracted content, used instead of Data when set.
	Text string
}

// Request is a normalized generation request for a single model.
type Request struct {
	Model             string
	Prompt            string
	Attachments       []Attachment
	SystemInstruction string
	History           []Message
}

// IsImage reports whether the attachment can be sent natively to vision models.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// IsTextLike reports whether the attachment bytes can be decoded and inlined.
func (a Attachment) IsTextLike() bool {
	t := a.MimeType
	return strings.HasPrefix(t, "text/") ||
		strings.Contains(t, "json") ||
		strings.Contains(t, "javascript") ||
		strings.Contains(t, "typescript") ||
		strings.Contains(t, "xml") ||
		t == "application/x-sh" ||
		t == "application/sql"
}

// Inline renders a non-image attachment as prompt text.
func (a Attachment) Inline() string {
	if a.Text != "" {
		return fmt.Sprintf("[Attachment: %s]\n%s", a.Name, a.Text)
	}
	if a.IsTextLike() {
		return fmt.Sprintf("[Attachment: %s]\n%s", a.Name, string(a.Data))
	}
	return fmt.Sprintf("[Attachment: %s] (Content type %s not supported for direct analysis)", a.Name, a.MimeType)
}

// Base64 returns the attachment bytes encoded with standard base64.
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL returns the attachment as a data: URL.
func (a Attachment) DataURL() string {
	return "data:" + a.MimeType + ";base64," + a.Base64()
}

// MergeConsecutive joins adjacent turns that share a role, separated by a
// blank line. Many backends reject two user or two assistant turns in a row.
func MergeConsecutive(history []Message) []Message {
	merged := make([]Message, 0, len(history))
	for _, m := range history {
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Content += "\n\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// SplitAttachments separates images from everything else and returns the
// prompt with all non-image attachments inlined after it.
func SplitAttachments(prompt string, atts []Attachment, images bool) (string, []Attachment) {
	var native []Attachment
	var b strings.Builder
	b.WriteString(prompt)
	for _, a := range atts {
		if images && a.IsImage() && a.Text == "" {
			native = append(native, a)
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(a.Inline())
	}
	return b.String(), native
}
