// Package openai adapts OpenAI's chat completions API to the agent.Model contract.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/iota-uz/specflow/flow/agent"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gpt-4o"

// Model implements agent.Model using the official OpenAI Go SDK.
// Safe for concurrent use.
type Model struct {
	client    *openai.Client
	modelName string
}

// New creates an OpenAI-backed agent model.
func New(apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Model{
		client:    &client,
		modelName: modelName,
	}, nil
}

// Complete implements agent.Model.
func (m *Model) Complete(ctx context.Context, req agent.Request) (agent.Response, error) {
	if ctx.Err() != nil {
		return agent.Response{}, ctx.Err()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case agent.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case agent.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.modelName),
		Messages: messages,
	})
	if err != nil {
		return agent.Response{}, mapError(err)
	}

	if len(completion.Choices) == 0 {
		return agent.Response{}, &agent.Error{
			Code:      agent.ErrCodeAPI,
			Message:   "OpenAI returned no choices",
			Retryable: true,
		}
	}

	return agent.Response{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// mapError classifies OpenAI SDK failures into agent.Error values.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &agent.Error{Code: agent.ErrCodeTimeout, Message: "request cancelled or timed out", Retryable: true}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"):
		return &agent.Error{Code: agent.ErrCodeAuth, Message: "API key is invalid or expired", Retryable: false}
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate_limit"):
		return &agent.Error{Code: agent.ErrCodeRateLimit, Message: "API rate limit exceeded", Retryable: true}
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "quota"):
		return &agent.Error{Code: agent.ErrCodeQuota, Message: "API quota exceeded", Retryable: false}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &agent.Error{Code: agent.ErrCodeTimeout, Message: "request timed out", Retryable: true}
	}
	return &agent.Error{Code: agent.ErrCodeAPI, Message: "OpenAI API error: " + msg, Retryable: false}
}
