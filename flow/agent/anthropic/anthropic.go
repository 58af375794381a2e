// Package anthropic adapts Anthropic's Claude API to the agent.Model contract.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/iota-uz/specflow/flow/agent"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-3-5-sonnet-20241022"

const defaultMaxTokens = 4096

// Model implements agent.Model for Anthropic's Claude API.
//
// The zero value is not usable; construct with New. Safe for concurrent
// use, the underlying SDK client handles concurrent requests.
type Model struct {
	client    *anthropic.Client
	modelName string
}

// New creates an Anthropic-backed agent model.
//
// apiKey comes from https://console.anthropic.com/. An empty modelName
// selects DefaultModel.
func New(apiKey, modelName string) *Model {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Model{
		client:    &client,
		modelName: modelName,
	}
}

// Complete implements agent.Model.
//
// Anthropic takes the system prompt as a separate parameter, so it is
// stripped from the message list before the call.
func (m *Model) Complete(ctx context.Context, req agent.Request) (agent.Response, error) {
	if ctx.Err() != nil {
		return agent.Response{}, ctx.Err()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: defaultMaxTokens,
		Messages:  convertMessages(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return agent.Response{}, mapError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return agent.Response{
		Text:       text.String(),
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// convertMessages maps agent messages to the SDK's message params.
// System messages are folded into Request.System by callers and skipped here.
func convertMessages(req agent.Request) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case agent.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case agent.RoleSystem:
			continue
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

// mapError classifies Anthropic SDK failures into agent.Error values.
// Unknown failures come back as a non-retryable api_error.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &agent.Error{Code: agent.ErrCodeTimeout, Message: "request cancelled or timed out", Retryable: true}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "api_key"):
		return &agent.Error{Code: agent.ErrCodeAuth, Message: "API key is invalid or expired", Retryable: false}
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"):
		return &agent.Error{Code: agent.ErrCodeRateLimit, Message: "API rate limit exceeded", Retryable: true}
	case strings.Contains(msg, "quota"), strings.Contains(msg, "billing"):
		return &agent.Error{Code: agent.ErrCodeQuota, Message: "API quota exceeded", Retryable: false}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &agent.Error{Code: agent.ErrCodeTimeout, Message: "request timed out", Retryable: true}
	}
	return &agent.Error{Code: agent.ErrCodeAPI, Message: "Anthropic API error: " + msg, Retryable: false}
}
