package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	commonlog "vec_server/server/common/log"
	"vec_server/server/vecman/domain"
)

// relevanceThreshold drops matches whose similarity score is at or below it.
const relevanceThreshold = 0.3

// searchTextLimit bounds the text returned per search result.
const searchTextLimit = 1000

var (
	ErrNotFound     = errors.New("content not found")
	ErrNoItemsAdded = errors.New("no items were added")
)

type ContentService struct {
	store    VectorStore
	embedder Embedder
}

func NewContentService(store VectorStore, embedder Embedder) *ContentService {
	return &ContentService{store: store, embedder: embedder}
}

type AddResult struct {
	ID        string             `json:"id"`
	ContentID string             `json:"content_id"`
	Type      domain.ContentType `json:"type"`
	Metadata  map[string]any     `json:"metadata"`
}

type UpdateDetails struct {
	VectorUpdated   bool `json:"vector_updated"`
	TextUpdated     bool `json:"text_updated"`
	MetadataUpdated bool `json:"metadata_updated"`
}

type UpdateResult struct {
	Deleted bool
	Details *UpdateDetails
}

type SearchResult struct {
	ContentID    string             `json:"content_id"`
	Type         domain.ContentType `json:"type"`
	Score        float64            `json:"score"`
	Text         string             `json:"text"`
	Metadata     map[string]any     `json:"metadata"`
	CreatedAt    string             `json:"created_at"`
	Filename     *string            `json:"filename,omitempty"`
	Subject      *string            `json:"subject,omitempty"`
	Participants *[]string          `json:"participants,omitempty"`
}

// AddItems persists each item independently. An item that fails embedding or
// payload construction is logged and skipped without aborting the batch; an
// empty accepted set is a client error. Accepted records go to the store in
// one batch upsert.
func (s *ContentService) AddItems(ctx context.Context, items []domain.ContentItem) ([]AddResult, error) {
	points := make([]UpsertPoint, 0, len(items))
	results := make([]AddResult, 0, len(items))

	for _, item := range items {
		contentID := domain.NewContentID()

		vector, err := s.embedder.Embed(ctx, item.Text)
		if err != nil {
			commonlog.Warnf("skip item: embed failed: %v", err)
			continue
		}

		payload, err := domain.BuildPayload(item, contentID, time.Now())
		if err != nil {
			commonlog.Warnf("skip item: %v", err)
			continue
		}

		pointID := domain.NewPointID()
		points = append(points, UpsertPoint{ID: pointID, Vector: vector, Payload: payload})
		results = append(results, AddResult{
			ID:        pointID,
			ContentID: contentID,
			Type:      payload.Type,
			Metadata:  payload.Metadata,
		})
	}

	if len(points) == 0 {
		return nil, ErrNoItemsAdded
	}

	if err := s.store.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("store operation failed: %w", err)
	}
	return results, nil
}

// UpdateItem mutates or removes the record holding content_id. Text and
// metadata fall back to stored values when omitted; the vector is regenerated
// only when text is supplied. point_id and content_id never change.
func (s *ContentService) UpdateItem(ctx context.Context, req domain.UpdateRequest) (UpdateResult, error) {
	found, err := s.store.FindByContentID(ctx, req.ContentID)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("store operation failed: %w", err)
	}
	if found == nil {
		return UpdateResult{}, ErrNotFound
	}

	if req.Remove {
		if err := s.store.Delete(ctx, found.ID); err != nil {
			return UpdateResult{}, fmt.Errorf("store operation failed: %w", err)
		}
		return UpdateResult{Deleted: true}, nil
	}

	payload := found.Payload
	vector := found.Vector

	textUpdated := strings.TrimSpace(req.Text) != ""
	if textUpdated {
		payload.Text = req.Text
		vector, err = s.embedder.Embed(ctx, payload.Text)
		if err != nil {
			return UpdateResult{}, fmt.Errorf("generate embedding: %w", err)
		}
	}

	metadataUpdated := len(req.Metadata) > 0
	if metadataUpdated {
		if err := domain.ValidateMetadata(req.Metadata); err != nil {
			return UpdateResult{}, err
		}
		payload.Metadata = req.Metadata
	}

	point := UpsertPoint{ID: found.ID, Vector: vector, Payload: payload}
	if err := s.store.Upsert(ctx, []UpsertPoint{point}); err != nil {
		return UpdateResult{}, fmt.Errorf("store operation failed: %w", err)
	}

	return UpdateResult{Details: &UpdateDetails{
		VectorUpdated:   textUpdated,
		TextUpdated:     textUpdated,
		MetadataUpdated: metadataUpdated,
	}}, nil
}

// Search embeds the query, applies the optional content-type and key/value
// filters conjunctively, and projects matches above the relevance threshold.
func (s *ContentService) Search(ctx context.Context, query domain.SearchQuery) ([]SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}

	filters := make([]FieldFilter, 0, len(query.Filter)+1)
	if query.ContentType != "" {
		filters = append(filters, FieldFilter{Key: "type", Value: string(query.ContentType)})
	}

	keys := make([]string, 0, len(query.Filter))
	for key := range query.Filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if metadataKey, ok := strings.CutPrefix(key, "metadata."); ok {
			s.store.EnsureMetadataIndex(ctx, metadataKey)
		}
		filters = append(filters, FieldFilter{Key: key, Value: query.Filter[key]})
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	matches, err := s.store.Search(ctx, vector, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("store operation failed: %w", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		if match.Score <= relevanceThreshold {
			continue
		}
		results = append(results, projectMatch(match))
	}
	return results, nil
}

func projectMatch(match ScoredPoint) SearchResult {
	payload := match.Payload

	result := SearchResult{
		ContentID: payload.ContentID,
		Type:      payload.Type,
		Score:     match.Score,
		Text:      truncate(payload.Text, searchTextLimit),
		Metadata:  payload.Metadata,
		CreatedAt: payload.CreatedAt,
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}

	switch payload.Type {
	case domain.ContentTypeDocument:
		filename := payload.Filename
		result.Filename = &filename
	case domain.ContentTypeEmail:
		subject := payload.Subject
		result.Subject = &subject
		participants := payload.Participants
		if participants == nil {
			participants = []string{}
		}
		result.Participants = &participants
	}
	return result
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
