package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mcdl70/pitch-perfect/internal/errs"
)

// Client is the shared chat-completion transport for the dialogue engine,
// report generator and job analyzer. Every call requests a JSON object and
// decodes it strictly immediately after the response arrives; missing or
// malformed payloads fail fast instead of threading optional fields through
// the call chain.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// New builds a client. model defaults to gpt-4o-mini.
func New(api *openai.Client, model string) *Client {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{api: api, model: model, temperature: 0.3}
}

// CompleteJSON sends a system+user prompt pair and decodes the JSON object
// reply into out. A reply that is not valid JSON for out is an
// IncompleteResult; callers layer their own required-field checks on top.
func (c *Client) CompleteJSON(ctx context.Context, op, system, user string, out any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return errs.New(errs.IncompleteResult, op, "model returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
		return errs.Wrap(errs.IncompleteResult, op, err)
	}
	return nil
}

// Classify maps the SDK's error types onto the transport taxonomy.
func Classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return errs.Wrap(errs.FromStatus(op, apiErr.HTTPStatusCode).Kind, op, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return errs.Wrap(errs.FromStatus(op, reqErr.HTTPStatusCode).Kind, op, err)
	}
	return errs.Wrap(errs.UnknownTransportError, op, err)
}

// extractJSON strips a markdown code fence if the model wrapped its JSON in
// one despite the response format hint.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.TrimSpace(trimmed)
}
