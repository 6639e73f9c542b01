package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewContentID generates the stable business-level identifier for a logical
// content item. It is distinct from the point id so the store's primary key
// can be regenerated without breaking external references.
func NewContentID() string {
	return uuid.NewString()
}

// NewPointID generates the vector store's primary key for a record.
func NewPointID() string {
	return uuid.NewString()
}

// BuildPayload assembles the stored record for an item. Type-conditional
// fields are included only for the matching content type.
func BuildPayload(item ContentItem, contentID string, now time.Time) (Payload, error) {
	if !item.Type.Valid() {
		return Payload{}, fmt.Errorf("unknown content type %q", item.Type)
	}
	if err := ValidateMetadata(item.Metadata); err != nil {
		return Payload{}, err
	}

	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	payload := Payload{
		ContentID: contentID,
		Text:      item.Text,
		Type:      item.Type,
		Metadata:  metadata,
		CreatedAt: now.Format(time.RFC3339),
	}

	if item.Type == ContentTypeDocument && item.Filename != "" {
		payload.Filename = item.Filename
	}
	if item.Type == ContentTypeEmail && item.Subject != "" {
		payload.Subject = item.Subject
	}
	if (item.Type == ContentTypeEmail || item.Type == ContentTypeCallTranscript) && len(item.Participants) > 0 {
		payload.Participants = item.Participants
	}

	return payload, nil
}

// ValidateMetadata enforces scalar-only metadata values. JSON numbers decode
// as float64; integers arriving over the wire are covered by that case.
func ValidateMetadata(metadata map[string]any) error {
	for key, value := range metadata {
		switch value.(type) {
		case string, bool, float64, int, int64:
		default:
			return fmt.Errorf("metadata value for %q must be a scalar, got %T", key, value)
		}
	}
	return nil
}
