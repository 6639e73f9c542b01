package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vec_server/server/vecman/domain"
)

func TestQdrantConnectRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	err := q.Connect(context.Background(), 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestQdrantConnectExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	err := q.Connect(context.Background(), 2, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestQdrantEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var createBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/test":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &createBody)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	require.NoError(t, q.EnsureCollection(context.Background()))

	vectors, ok := createBody["vectors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(EmbeddingSize), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestQdrantEnsureCollectionExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	assert.NoError(t, q.EnsureCollection(context.Background()))
}

func TestQdrantEnsureIndexesSwallowsAlreadyExists(t *testing.T) {
	var indexed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test/index", r.URL.Path)
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		field, _ := payload["field_name"].(string)
		indexed = append(indexed, field)
		if field == "type" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"status":{"error":"index already exists"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	q.EnsureIndexes(context.Background(), []string{"source"})

	assert.Equal(t, []string{"content_id", "type", "metadata.source"}, indexed)
}

func TestQdrantUpsertAndDelete(t *testing.T) {
	var upsertPath, deletePath string
	var upsertBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			upsertPath = r.URL.Path + "?" + r.URL.RawQuery
			_ = json.NewDecoder(r.Body).Decode(&upsertBody)
		case http.MethodPost:
			deletePath = r.URL.Path
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)

	point := UpsertPoint{
		ID:     "point-1",
		Vector: []float32{0.1, 0.2},
		Payload: domain.Payload{
			ContentID: "content-1",
			Text:      "hello",
			Type:      domain.ContentTypeDocument,
			Metadata:  map[string]any{},
		},
	}
	require.NoError(t, q.Upsert(context.Background(), []UpsertPoint{point}))
	assert.Equal(t, "/collections/test/points?wait=true", upsertPath)

	points, ok := upsertBody["points"].([]any)
	require.True(t, ok)
	require.Len(t, points, 1)
	row := points[0].(map[string]any)
	assert.Equal(t, "point-1", row["id"])
	payload := row["payload"].(map[string]any)
	assert.Equal(t, "content-1", payload["content_id"])

	require.NoError(t, q.Delete(context.Background(), "point-1"))
	assert.Equal(t, "/collections/test/points/delete", deletePath)
}

func TestQdrantDeleteSurfacesStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":{"error":"bad point id"}}`))
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	err := q.Delete(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad point id")
}

func TestQdrantFindByContentID(t *testing.T) {
	var scrollBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test/points/scroll", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&scrollBody)
		_, _ = w.Write([]byte(`{
			"result": {
				"points": [{
					"id": "point-1",
					"vector": [0.5, 0.5],
					"payload": {
						"content_id": "content-1",
						"text": "hello",
						"type": "document",
						"metadata": {"source": "crm"},
						"created_at": "2026-08-01T12:00:00Z",
						"filename": "a.txt"
					}
				}]
			}
		}`))
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	found, err := q.FindByContentID(context.Background(), "content-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, "point-1", found.ID)
	assert.Equal(t, []float32{0.5, 0.5}, found.Vector)
	assert.Equal(t, "content-1", found.Payload.ContentID)
	assert.Equal(t, domain.ContentTypeDocument, found.Payload.Type)
	assert.Equal(t, "a.txt", found.Payload.Filename)

	assert.Equal(t, float64(1), scrollBody["limit"])
	assert.Equal(t, true, scrollBody["with_vector"])
	filter := scrollBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	require.Len(t, must, 1)
	condition := must[0].(map[string]any)
	assert.Equal(t, "content_id", condition["key"])
}

func TestQdrantFindByContentIDNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"points": []}}`))
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	found, err := q.FindByContentID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestQdrantSearch(t *testing.T) {
	var searchBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test/points/search", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&searchBody)
		_, _ = w.Write([]byte(`{
			"result": [
				{"id": "p1", "score": 0.92, "payload": {"content_id": "c1", "type": "document", "text": "one"}},
				{"id": "p2", "score": 0.41, "payload": {"content_id": "c2", "type": "email", "text": "two"}}
			]
		}`))
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	filters := []FieldFilter{
		{Key: "type", Value: "document"},
		{Key: "metadata.source", Value: "crm"},
	}
	matches, err := q.Search(context.Background(), []float32{0.1, 0.2}, filters, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "p1", matches[0].ID)
	assert.InDelta(t, 0.92, matches[0].Score, 1e-9)
	assert.Equal(t, "c1", matches[0].Payload.ContentID)

	assert.Equal(t, float64(5), searchBody["limit"])
	assert.Equal(t, true, searchBody["with_payload"])
	filter := searchBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	require.Len(t, must, 2)
	first := must[0].(map[string]any)
	assert.Equal(t, "type", first["key"])
	assert.Equal(t, map[string]any{"value": "document"}, first["match"])
}

func TestQdrantSearchNoFilterOmitsFilter(t *testing.T) {
	var searchBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&searchBody)
		_, _ = w.Write([]byte(`{"result": []}`))
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "", "test", EmbeddingSize)
	_, err := q.Search(context.Background(), []float32{0.1}, nil, 5)
	require.NoError(t, err)
	_, hasFilter := searchBody["filter"]
	assert.False(t, hasFilter)
}

func TestQdrantSendsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQdrantService(srv.URL, "secret", "test", EmbeddingSize)
	require.NoError(t, q.EnsureCollection(context.Background()))
	assert.Equal(t, "secret", gotKey)
}
