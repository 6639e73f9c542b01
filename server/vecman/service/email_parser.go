package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const emailParserSystemPrompt = "You are an expert email parser. Extract ALL emails from email threads with COMPLETE content. " +
	"Do not summarize, truncate, or omit any part of the email content. Include signatures, disclaimers, and all footer text. " +
	"Always return valid JSON."

const emailParserPromptTemplate = `Analyze this email thread and extract ALL individual emails into a structured JSON format.
The output should follow this exact structure:

{
    "success": true,
    "message": "Email thread parsed successfully",
    "data": {
        "threadInfo": {
            "totalEmails": <number>
        },
        "emails": [
            {
                "index": 1,
                "from": {"email": "string", "name": "string", "type": "email"},
                "to": [{"email": "string", "name": "string", "type": "email"}],
                "cc": [{"email": "string", "name": "string", "type": "email"}],
                "subject": "string",
                "date": "ISO8601 date string",
                "contentPreview": "COMPLETE content of email",
                "isMainEmail": boolean
            }
        ]
    }
}

Instructions:
1. Identify ALL individual emails in the thread - do not skip any emails
2. Parse "From", "To", "CC" fields into structured objects
3. Extract email addresses and names separately
4. Determine the threading level based on indentation/quoting
5. The first email should have "isMainEmail": true
6. Convert all dates to ISO 8601 format
7. Count the total number of emails accurately
8. CRITICAL: Ensure the JSON response is complete and not truncated

Email thread content:
%s`

// EmailParserService sends a raw thread to a hosted LLM and returns its
// structured-JSON answer verbatim. No retry; no validation beyond JSON
// well-formedness.
type EmailParserService struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewEmailParserService(apiKey, model string) (*EmailParserService, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required for the email parser")
	}
	return &EmailParserService{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: 16000,
	}, nil
}

// NewEmailParserServiceWithClient is used by tests to point at a fake server.
func NewEmailParserServiceWithClient(client *openai.Client, model string, maxTokens int) *EmailParserService {
	return &EmailParserService{client: client, model: model, maxTokens: maxTokens}
}

func (s *EmailParserService) ParseThread(ctx context.Context, emailContent string) (map[string]any, error) {
	if strings.TrimSpace(emailContent) == "" {
		return nil, errors.New("no email content provided")
	}

	rsp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: emailParserSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(emailParserPromptTemplate, emailContent)},
		},
		Temperature: 0.1,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("parse email thread: %w", err)
	}

	if len(rsp.Choices) == 0 {
		return nil, errors.New("no response from the model")
	}
	choice := rsp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return nil, errors.New("response was truncated due to token limit; the email thread is too long to parse completely")
	}

	resultText := stripCodeFences(strings.TrimSpace(choice.Message.Content))

	var parsed map[string]any
	if err := json.Unmarshal([]byte(resultText), &parsed); err != nil {
		return nil, fmt.Errorf("parse JSON response from the model: %w", err)
	}
	return parsed, nil
}

func stripCodeFences(text string) string {
	switch {
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimPrefix(text, "```json")
	case strings.HasPrefix(text, "```"):
		text = strings.TrimPrefix(text, "```")
	default:
		return text
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
