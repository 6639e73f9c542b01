package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	commonlog "vec_server/server/common/log"
	"vec_server/server/vecman/domain"
)

// QdrantService owns a single Qdrant collection and speaks the REST API
// directly. Points are keyed by point id with cosine distance.
type QdrantService struct {
	endpoint   string
	apiKey     string
	collection string
	vectorSize int
	client     *http.Client
}

func NewQdrantService(endpoint, apiKey, collection string, vectorSize int) *QdrantService {
	normalizedEndpoint := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	normalizedCollection := strings.TrimSpace(collection)
	if normalizedCollection == "" {
		normalizedCollection = "unified_collection"
	}
	return &QdrantService{
		endpoint:   normalizedEndpoint,
		apiKey:     apiKey,
		collection: normalizedCollection,
		vectorSize: vectorSize,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Connect probes the server until it answers, with a fixed delay between
// attempts. Exhausting the attempts is an unrecoverable startup error.
func (q *QdrantService) Connect(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, statusCode, err := q.requestBytes(ctx, http.MethodGet, "/collections", nil)
		if err == nil && statusCode < 500 {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("qdrant status %d while probing", statusCode)
		}
		lastErr = err
		if attempt < maxRetries {
			commonlog.Warnf("qdrant connect attempt %d/%d failed: %v", attempt, maxRetries, err)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("connect to qdrant after %d attempts: %w", maxRetries, lastErr)
}

func (q *QdrantService) EnsureCollection(ctx context.Context) error {
	_, statusCode, err := q.requestBytes(ctx, http.MethodGet, "/collections/"+q.collection, nil)
	if err != nil {
		return err
	}
	if statusCode == http.StatusOK {
		return nil
	}
	if statusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant unexpected status %d while checking collection", statusCode)
	}

	createPayload := map[string]any{
		"vectors": map[string]any{
			"size":     q.vectorSize,
			"distance": "Cosine",
		},
	}
	body, createStatus, err := q.requestBytes(ctx, http.MethodPut, "/collections/"+q.collection, createPayload)
	if err != nil {
		return err
	}
	if createStatus != http.StatusOK && createStatus != http.StatusConflict {
		return fmt.Errorf("qdrant status %d while creating collection: %s", createStatus, body)
	}
	return nil
}

func (q *QdrantService) EnsureIndexes(ctx context.Context, metadataKeys []string) {
	fields := []string{"content_id", "type"}
	for _, key := range metadataKeys {
		fields = append(fields, "metadata."+key)
	}
	for _, field := range fields {
		q.ensureFieldIndex(ctx, field)
	}
}

func (q *QdrantService) EnsureMetadataIndex(ctx context.Context, key string) {
	q.ensureFieldIndex(ctx, "metadata."+key)
}

func (q *QdrantService) ensureFieldIndex(ctx context.Context, field string) {
	payload := map[string]any{
		"field_name":   field,
		"field_schema": "keyword",
	}
	body, statusCode, err := q.requestBytes(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", q.collection), payload)
	if err != nil {
		commonlog.Warnf("create index for %s: %v", field, err)
		return
	}
	if statusCode >= 300 && !strings.Contains(strings.ToLower(string(body)), "already exists") {
		commonlog.Warnf("create index for %s: qdrant status %d: %s", field, statusCode, body)
		return
	}
	commonlog.Debugf("index ensured for field %s", field)
}

func (q *QdrantService) Upsert(ctx context.Context, points []UpsertPoint) error {
	rows := make([]map[string]any, 0, len(points))
	for _, point := range points {
		rows = append(rows, map[string]any{
			"id":      point.ID,
			"vector":  point.Vector,
			"payload": point.Payload,
		})
	}
	payload := map[string]any{"points": rows}
	return q.requestNoDecode(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collection), payload)
}

func (q *QdrantService) Delete(ctx context.Context, pointID string) error {
	payload := map[string]any{"points": []string{pointID}}
	return q.requestNoDecode(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collection), payload)
}

func (q *QdrantService) FindByContentID(ctx context.Context, contentID string) (*FoundPoint, error) {
	payload := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{{
				"key":   "content_id",
				"match": map[string]any{"value": contentID},
			}},
		},
		"limit":        1,
		"with_payload": true,
		"with_vector":  true,
	}

	body, statusCode, err := q.requestBytes(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", q.collection), payload)
	if err != nil {
		return nil, err
	}
	if statusCode >= 300 {
		return nil, fmt.Errorf("qdrant status %d while scrolling: %s", statusCode, body)
	}

	var out qdrantScrollResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if len(out.Result.Points) == 0 {
		return nil, nil
	}

	point := out.Result.Points[0]
	return &FoundPoint{ID: point.ID, Vector: point.Vector, Payload: point.Payload}, nil
}

func (q *QdrantService) Search(ctx context.Context, vector []float32, filters []FieldFilter, limit int) ([]ScoredPoint, error) {
	payload := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if len(filters) > 0 {
		conditions := make([]map[string]any, 0, len(filters))
		for _, filter := range filters {
			conditions = append(conditions, map[string]any{
				"key":   filter.Key,
				"match": map[string]any{"value": filter.Value},
			})
		}
		payload["filter"] = map[string]any{"must": conditions}
	}

	body, statusCode, err := q.requestBytes(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collection), payload)
	if err != nil {
		return nil, err
	}
	if statusCode >= 300 {
		return nil, fmt.Errorf("qdrant status %d while searching: %s", statusCode, body)
	}

	var out qdrantSearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}

	items := make([]ScoredPoint, 0, len(out.Result))
	for _, row := range out.Result {
		items = append(items, ScoredPoint{ID: row.ID, Score: row.Score, Payload: row.Payload})
	}
	return items, nil
}

type qdrantScrollResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Vector  []float32      `json:"vector"`
	Payload domain.Payload `json:"payload"`
}

func (q *QdrantService) requestNoDecode(ctx context.Context, method, path string, payload any) error {
	body, statusCode, err := q.requestBytes(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if statusCode >= 300 {
		return fmt.Errorf("qdrant status %d: %s", statusCode, body)
	}
	return nil
}

func (q *QdrantService) requestBytes(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var bodyBytes []byte
	var err error
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
	}

	normalizedPath := path
	if !strings.HasPrefix(normalizedPath, "/") {
		normalizedPath = "/" + normalizedPath
	}
	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+normalizedPath, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return responseBody, resp.StatusCode, nil
}
