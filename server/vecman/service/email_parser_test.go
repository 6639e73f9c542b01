package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeChatClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func chatResponse(content, finishReason string) string {
	return `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": ` + jsonString(content) + `},
			"finish_reason": "` + finishReason + `"
		}]
	}`
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestParseThreadStripsCodeFences(t *testing.T) {
	client := newFakeChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		content := "```json\n{\"success\": true, \"data\": {\"emails\": []}}\n```"
		_, _ = w.Write([]byte(chatResponse(content, "stop")))
	})

	parser := NewEmailParserServiceWithClient(client, "gpt-4o", 16000)
	parsed, err := parser.ParseThread(context.Background(), "From: a@example.com\n\nhello")
	require.NoError(t, err)
	assert.Equal(t, true, parsed["success"])
	assert.Contains(t, parsed, "data")
}

func TestParseThreadRejectsTruncatedResponse(t *testing.T) {
	client := newFakeChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`{"success": true`, "length")))
	})

	parser := NewEmailParserServiceWithClient(client, "gpt-4o", 16000)
	_, err := parser.ParseThread(context.Background(), "some thread")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestParseThreadRejectsInvalidJSON(t *testing.T) {
	client := newFakeChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("not json at all", "stop")))
	})

	parser := NewEmailParserServiceWithClient(client, "gpt-4o", 16000)
	_, err := parser.ParseThread(context.Background(), "some thread")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse JSON response")
}

func TestParseThreadRejectsEmptyContent(t *testing.T) {
	parser := NewEmailParserServiceWithClient(nil, "gpt-4o", 16000)
	_, err := parser.ParseThread(context.Background(), "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email content")
}

func TestNewEmailParserServiceRequiresAPIKey(t *testing.T) {
	_, err := NewEmailParserService("", "gpt-4o")
	assert.Error(t, err)

	parser, err := NewEmailParserService("key", "gpt-4o")
	require.NoError(t, err)
	assert.NotNil(t, parser)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, stripCodeFences("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, stripCodeFences("```\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, stripCodeFences(`{"a": 1}`))
}
