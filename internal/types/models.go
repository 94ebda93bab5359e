// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ResponseStatus string

const (
	StatusLoading ResponseStatus = "loading"
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
)

// ResponseVersion is one generated text for a model response.
type ResponseVersion struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Label     string `json:"label"`
}

// ModelResponse is one model's answer inside an assistant message.
type ModelResponse struct {
	Model               string            `json:"model"`
	Text                string            `json:"text"`
	Status              ResponseStatus    `json:"status"`
	Error               string            `json:"error,omitempty"`
	Versions            []ResponseVersion `json:"versions,omitempty"`
	CurrentVersionIndex int               `json:"currentVersionIndex"`
}

// Terminal reports whether the response has left the loading state.
func (r *ModelResponse) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusError
}

// Clone returns a deep copy.
func (r *ModelResponse) Clone() *ModelResponse {
	c := *r
	c.Versions = append([]ResponseVersion(nil), r.Versions...)
	return &c
}

type AttachmentStats struct {
	Words int `json:"words,omitempty"`
	Pages int `json:"pages,omitempty"`
}

// Attachment is a user-supplied file. Base64 holds a data: URL.
type Attachment struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Type               string           `json:"type"`
	Base64             string           `json:"base64"`
	Content            *string          `json:"content,omitempty"`
	Statistics         *AttachmentStats `json:"statistics,omitempty"`
	ExcludeFromContext bool             `json:"excludeFromContext,omitempty"`
	StorageKey         string           `json:"storageKey,omitempty"`
	BlobKey            string           `json:"blobKey,omitempty"`
}

type SearchMetadata struct {
	DatabaseID   string `json:"databaseId"`
	SearchQuery  string `json:"searchQuery"`
	Offset       int    `json:"offset"`
	TotalResults int    `json:"totalResults"`
}

type ExportMarker struct {
	Format string `json:"format"`
}

// Message is one entry of a session transcript.
type Message struct {
	ID                MessageID                 `json:"id"`
	Role              Role                      `json:"role"`
	Content           string                    `json:"content"`
	UserName          string                    `json:"userName,omitempty"`
	UserID            string                    `json:"userId,omitempty"`
	Attachments       []Attachment              `json:"attachments,omitempty"`
	Responses         map[string]*ModelResponse `json:"responses,omitempty"`
	IsSystem          bool                      `json:"isSystem,omitempty"`
	SearchMetadata    *SearchMetadata           `json:"searchMetadata,omitempty"`
	WorkflowExport    *ExportMarker             `json:"workflowExport,omitempty"`
	WorkflowStepIndex *int                      `json:"workflowStepIndex,omitempty"`
	// WorkflowRun identifies the workflow run that produced a step message.
	WorkflowRun string `json:"workflowRun,omitempty"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Responses != nil {
		c.Responses = make(map[string]*ModelResponse, len(m.Responses))
		for k, v := range m.Responses {
			c.Responses[k] = v.Clone()
		}
	}
	if m.WorkflowStepIndex != nil {
		idx := *m.WorkflowStepIndex
		c.WorkflowStepIndex = &idx
	}
	return &c
}

// ToolDescriptor is a tool discovered from a tool server.
type ToolDescriptor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Server      string          `json:"server"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolCallInvocation is a tool call parsed out of model text.
type ToolCallInvocation struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// GenerationRequest is the input of one orchestration call.
type GenerationRequest struct {
	Model             string
	Prompt            string
	Attachments       []Attachment
	Tools             []ToolDescriptor
	SystemInstruction string
	History           []*Message
}

type StepType string

const (
	StepPrompt         StepType = "prompt"
	StepFileUpload     StepType = "file_upload"
	StepMCPTool        StepType = "mcp_tool"
	StepExport         StepType = "export"
	StepPersona        StepType = "persona"
	StepDatabaseSearch StepType = "database_search"
	StepVectorSearch   StepType = "vector_search"
	StepWebScraper     StepType = "web_scraper"
	StepSerpSearch     StepType = "serp_search"
)

type WorkflowStep struct {
	ID                   string   `json:"id" yaml:"id"`
	Type                 StepType `json:"type" yaml:"type"`
	Prompt               string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model                string   `json:"model,omitempty" yaml:"model,omitempty"`
	ToolIDs              []string `json:"toolIds,omitempty" yaml:"toolIds,omitempty"`
	ExportFormat         string   `json:"exportFormat,omitempty" yaml:"exportFormat,omitempty"`
	FileRequirement      string   `json:"fileRequirement,omitempty" yaml:"fileRequirement,omitempty"`
	PersonaID            string   `json:"personaId,omitempty" yaml:"personaId,omitempty"`
	MultiStepInstruction string   `json:"multiStepInstruction,omitempty" yaml:"multiStepInstruction,omitempty"`
	DatabaseID           string   `json:"databaseId,omitempty" yaml:"databaseId,omitempty"`
	SearchQuery          string   `json:"searchQuery,omitempty" yaml:"searchQuery,omitempty"`
	URL                  string   `json:"url,omitempty" yaml:"url,omitempty"`
	IncludeMeta          bool     `json:"includeMeta,omitempty" yaml:"includeMeta,omitempty"`
}

type Workflow struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description" yaml:"description"`
	Steps         []WorkflowStep `json:"steps" yaml:"steps"`
	IsSystem      bool           `json:"isSystem,omitempty" yaml:"isSystem,omitempty"`
	UserID        string         `json:"userId,omitempty" yaml:"userId,omitempty"`
	AllowedGroups []string       `json:"allowedGroups,omitempty" yaml:"allowedGroups,omitempty"`
}

type Persona struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	SystemInstruction    string `json:"systemInstruction"`
	MultiStepInstruction string `json:"multiStepInstruction,omitempty"`
}

type SourceType string

const (
	SourceCSV         SourceType = "csv_upload"
	SourceManual      SourceType = "manual_entry"
	SourceAzureSearch SourceType = "azure_ai_search"
	SourcePGVector    SourceType = "pgvector"
)

// DatabaseSource is a searchable data source. Index fields apply to
// azure_ai_search and pgvector sources only.
type DatabaseSource struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           SourceType `json:"type"`
	Content        string     `json:"content"`
	RowCount       int        `json:"rowCount"`
	FileName       string     `json:"fileName,omitempty"`
	CreatedAt      int64      `json:"createdAt"`
	Endpoint       string     `json:"endpoint,omitempty"`
	IndexName      string     `json:"indexName,omitempty"`
	ContentField   string     `json:"contentField,omitempty"`
	VectorField    string     `json:"vectorField,omitempty"`
	TitleField     string     `json:"titleField,omitempty"`
	EmbeddingModel string     `json:"embeddingModel,omitempty"`
	SearchKey      string     `json:"searchKey,omitempty"`
}

// Literal reports whether the source is searched by substring match.
func (d *DatabaseSource) Literal() bool {
	return d.Type != SourceAzureSearch && d.Type != SourcePGVector
}

// ChatSession is a conversation plus its workflow position.
type ChatSession struct {
	ID                  SessionID  `json:"id"`
	Title               string     `json:"title"`
	Timestamp           int64      `json:"timestamp"`
	Messages            []*Message `json:"messages"`
	FolderID            string     `json:"folderId,omitempty"`
	PersonaID           string     `json:"personaId,omitempty"`
	WorkflowID          string     `json:"workflowId,omitempty"`
	CurrentWorkflowStep *int       `json:"currentWorkflowStep"`
	WorkflowRun         string     `json:"workflowRun,omitempty"`
	IsShared            bool       `json:"isShared,omitempty"`
	GroupID             string     `json:"groupId,omitempty"`
	IsPinned            bool       `json:"isPinned,omitempty"`
}

// PartitionKey returns the storage partition: the group for shared
// sessions, otherwise the owning user.
func (s *ChatSession) PartitionKey(user string) string {
	if s.IsShared && s.GroupID != "" {
		return s.GroupID
	}
	return user
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	c := *s
	c.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.Clone()
	}
	if s.CurrentWorkflowStep != nil {
		step := *s.CurrentWorkflowStep
		c.CurrentWorkflowStep = &step
	}
	return &c
}

// Event is one entry of a session's append-only transcript log.
type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// Document is an attachment held outside the conversation context.
type Document struct {
	ID        DocumentID `json:"id"`
	SessionID SessionID  `json:"session_id"`
	Name      string     `json:"name"`
	MimeType  string     `json:"mime_type,omitempty"`
	Words     int        `json:"words"`
	CreatedAt time.Time  `json:"created_at"`
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}

// Update kinds published while a session changes.
const (
	UpdateResponse = "response"
	UpdateMessage  = "message"
	UpdateStep     = "workflow_step"
	UpdateGuided   = "guided"
	UpdateSession  = "session"
)

// Update is a live notification about one session.
type Update struct {
	Type      string         `json:"type"`
	SessionID SessionID      `json:"sessionId"`
	MessageID MessageID      `json:"messageId,omitempty"`
	Model     string         `json:"model,omitempty"`
	Response  *ModelResponse `json:"response,omitempty"`
	Message   *Message       `json:"message,omitempty"`
	Step      *int           `json:"step,omitempty"`
	Guided    string         `json:"guided,omitempty"`
}

// AddVersion appends v unless a version with the same text exists, and
// makes the matching version current.
func (r *ModelResponse) AddVersion(v ResponseVersion) {
	for i, existing := range r.Versions {
		if existing.Text == v.Text {
			r.CurrentVersionIndex = i
			r.Text = v.Text
			return
		}
	}
	r.Versions = append(r.Versions, v)
	r.CurrentVersionIndex = len(r.Versions) - 1
	r.Text = v.Text
}

// Select makes version i current, clamped to the valid range. It reports
// whether anything changed.
func (r *ModelResponse) Select(i int) bool {
	if len(r.Versions) == 0 {
		return false
	}
	if i < 0 {
		i = 0
	}
	if i >= len(r.Versions) {
		i = len(r.Versions) - 1
	}
	if i == r.CurrentVersionIndex && r.Text == r.Versions[i].Text {
		return false
	}
	r.CurrentVersionIndex = i
	r.Text = r.Versions[i].Text
	return true
}
