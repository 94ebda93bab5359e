package llm

import (
	"strings"
	"testing"
)

func TestMergeConsecutive(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "user", Content: "d"},
		{Role: "user", Content: "e"},
		{Role: "user", Content: "f"},
	}

	got := MergeConsecutive(history)
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	if got[0].Content != "a\n\nb" {
		t.Errorf("unexpected first turn %q", got[0].Content)
	}
	if got[2].Content != "d\n\ne\n\nf" {
		t.Errorf("unexpected last turn %q", got[2].Content)
	}
	if history[0].Content != "a" {
		t.Error("input history was mutated")
	}
}

func TestAttachmentInline(t *testing.T) {
	tests := []struct {
		name string
		att  Attachment
		want string
	}{
		{"text", Attachment{Name: "a.txt", MimeType: "text/plain", Data: []byte("hello")}, "hello"},
		{"json", Attachment{Name: "a.json", MimeType: "application/json", Data: []byte(`{"a":1}`)}, `{"a":1}`},
		{"sql", Attachment{Name: "q.sql", MimeType: "application/sql", Data: []byte("select 1")}, "select 1"},
		{"extracted", Attachment{Name: "a.pdf", MimeType: "application/pdf", Text: "pdf text"}, "pdf text"},
		{"binary", Attachment{Name: "a.zip", MimeType: "application/zip"}, "(Content type application/zip not supported for direct analysis)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.att.Inline()
			if !strings.Contains(got, tt.want) {
				t.Errorf("expected %q in %q", tt.want, got)
			}
			if !strings.HasPrefix(got, "[Attachment: "+tt.att.Name+"]") {
				t.Errorf("missing attachment header in %q", got)
			}
		})
	}
}

func TestSplitAttachments(t *testing.T) {
	atts := []Attachment{
		{Name: "pic.png", MimeType: "image/png", Data: []byte{1, 2}},
		{Name: "notes.md", MimeType: "text/markdown", Data: []byte("# notes")},
	}

	prompt, native := SplitAttachments("question", atts, true)
	if len(native) != 1 || native[0].Name != "pic.png" {
		t.Fatalf("expected image to stay native, got %+v", native)
	}
	if !strings.Contains(prompt, "# notes") {
		t.Errorf("expected text attachment inlined, got %q", prompt)
	}

	prompt, native = SplitAttachments("question", atts, false)
	if len(native) != 0 {
		t.Errorf("expected no native attachments, got %d", len(native))
	}
	if !strings.Contains(prompt, "[Attachment: pic.png] (Content type image/png") {
		t.Errorf("expected image described inline, got %q", prompt)
	}
}
