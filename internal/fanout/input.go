package fanout

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/user/multichat/internal/orchestrator"
	"github.com/user/multichat/internal/types"
	"github.com/user/multichat/pkg/llm"
)

const (
	// LargeInputChars is the prompt length above which text becomes an attachment.
	LargeInputChars = 20000
	// DocumentWordLimit is the size above which a document is kept out of context.
	DocumentWordLimit = 10000
	previewChars      = 200
)

// Prepared is a turn's input after size policies were applied.
type Prepared struct {
	Text string
	// Attachments are stored on the user message.
	Attachments []types.Attachment
	// Context are the attachments sent to the models.
	Context []types.Attachment
	// Notice is the Document Limit Notice, empty when nothing was excluded.
	Notice string
}

// PrepareInput moves oversized text into an attachment and parks
// documents over DocumentWordLimit in the document store.
func (c *Coordinator) PrepareInput(ctx context.Context, sessionID types.SessionID, text string, atts []types.Attachment) (*Prepared, error) {
	p := &Prepared{Text: text}
	all := append([]types.Attachment(nil), atts...)

	if utf8.RuneCountInString(text) > LargeInputChars {
		content := text
		all = append(all, types.Attachment{
			ID:         uuid.NewString(),
			Name:       fmt.Sprintf("large-input-%d.txt", c.now().UnixMilli()),
			Type:       "text/plain",
			Content:    &content,
			Statistics: &types.AttachmentStats{Words: len(strings.Fields(text)), Pages: -1},
		})
		p.Text = "[Large text input converted to attachment]\n\n" + truncateRunes(text, previewChars) + "..."
	}

	var excluded []string
	for i := range all {
		a := &all[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Content == nil && a.Base64 != "" && (llm.Attachment{MimeType: a.Type}).IsTextLike() {
			if _, data, err := orchestrator.DecodeDataURL(a.Base64); err == nil {
				s := string(data)
				a.Content = &s
			}
		}
		if a.Content != nil && a.Statistics == nil {
			a.Statistics = &types.AttachmentStats{Words: len(strings.Fields(*a.Content))}
		}
		if a.Content == nil || a.Statistics == nil || a.Statistics.Words <= DocumentWordLimit || c.docs == nil {
			continue
		}
		doc, err := c.docs.Put(ctx, sessionID, a.Name, a.Type, *a.Content)
		if err != nil {
			return nil, fmt.Errorf("store document %s: %w", a.Name, err)
		}
		a.StorageKey = string(doc.ID)
		a.Content = nil
		a.Base64 = ""
		a.ExcludeFromContext = true
		excluded = append(excluded, "**"+a.Name+"**")
	}

	for _, a := range all {
		if !a.ExcludeFromContext {
			p.Context = append(p.Context, a)
		}
	}
	p.Attachments = all
	if len(excluded) > 0 {
		p.Notice = "> **Document Limit Notice**: The following documents exceed the word limit (10,000 words) " +
			"and were not added to the conversation context: " + strings.Join(excluded, ", ") +
			". They are available for analysis in the **Document Briefcase**.\n\n"
	}
	return p, nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
