package domain

type ContentType string

const (
	ContentTypeDocument       ContentType = "document"
	ContentTypeEmail          ContentType = "email"
	ContentTypeCallTranscript ContentType = "call_transcript"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeDocument, ContentTypeEmail, ContentTypeCallTranscript:
		return true
	}
	return false
}

type ContentItem struct {
	Text         string         `json:"text" binding:"required"`
	Type         ContentType    `json:"type" binding:"required"`
	Metadata     map[string]any `json:"metadata"`
	Filename     string         `json:"filename"`
	Subject      string         `json:"subject"`
	Participants []string       `json:"participants"`
}

// Payload is the record stored alongside each vector. created_at is set once
// at creation and never rewritten by updates.
type Payload struct {
	ContentID    string         `json:"content_id"`
	Text         string         `json:"text"`
	Type         ContentType    `json:"type"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    string         `json:"created_at"`
	Filename     string         `json:"filename,omitempty"`
	Subject      string         `json:"subject,omitempty"`
	Participants []string       `json:"participants,omitempty"`
}

type UpdateRequest struct {
	ContentID string         `json:"content_id" binding:"required"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Remove    bool           `json:"remove"`
}

type SearchQuery struct {
	Query       string         `json:"query" binding:"required"`
	Filter      map[string]any `json:"filter"`
	Limit       int            `json:"limit"`
	ContentType ContentType    `json:"content_type"`
}
