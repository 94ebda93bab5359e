package context

import (
	"bytes"
	"text/template"
	"time"
)

// DefaultPrompt is the system instruction used when no persona is active.
// It uses Go text/template syntax with PromptData fields.
const DefaultPrompt = `You are a helpful assistant. Today is {{.Date}}. ` +
	`You accept documents and attachments that can be further analyzed in the Document Briefcase. ` +
	`You can visualize data, BUT ONLY VISUALIZE IF ASKED, by outputting a code block with language "chart" or "json-chart" ` +
	`containing a JSON object with this schema: { type: "bar"|"line"|"area"|"pie", title?: string, description?: string, ` +
	`data: any[], xAxisKey: string, series: [{ key: string, name?: string, color?: string }] }.`

// PromptData holds the values available to the system prompt template.
type PromptData struct {
	Date string
}

var defaultTmpl = template.Must(template.New("system").Parse(DefaultPrompt))

// SystemInstruction returns the persona instruction when set, otherwise the
// default prompt rendered for now.
func SystemInstruction(persona string, now time.Time) string {
	if persona != "" {
		return persona
	}
	var buf bytes.Buffer
	if err := defaultTmpl.Execute(&buf, PromptData{Date: now.Format("1/2/2006")}); err != nil {
		return "You are a helpful assistant."
	}
	return buf.String()
}
