// Package google adapts Google's Gemini API to the agent.Model contract.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/iota-uz/specflow/flow/agent"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-1.5-flash"

// Model implements agent.Model using the generative-ai-go client.
// Close releases the underlying gRPC connection.
type Model struct {
	client    *genai.Client
	modelName string
}

// New creates a Gemini-backed agent model. An empty apiKey falls back
// to the GOOGLE_API_KEY environment variable.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, &agent.Error{
				Code:      agent.ErrCodeAuth,
				Message:   "Google API key not provided and GOOGLE_API_KEY not set",
				Retryable: false,
			}
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create Google client: %w", err)
	}

	return &Model{
		client:    client,
		modelName: modelName,
	}, nil
}

// Close releases the client's resources.
func (m *Model) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Complete implements agent.Model.
//
// The conversation is replayed through a chat session; the final user
// message becomes the SendMessage payload. Gemini labels assistant
// turns "model".
func (m *Model) Complete(ctx context.Context, req agent.Request) (agent.Response, error) {
	if ctx.Err() != nil {
		return agent.Response{}, ctx.Err()
	}
	if len(req.Messages) == 0 {
		return agent.Response{}, &agent.Error{
			Code:      agent.ErrCodeAPI,
			Message:   "Gemini requires at least one message",
			Retryable: false,
		}
	}

	model := m.client.GenerativeModel(m.modelName)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	session := model.StartChat()
	history := req.Messages[:len(req.Messages)-1]
	last := req.Messages[len(req.Messages)-1]

	for _, msg := range history {
		role := "user"
		if msg.Role == agent.RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return agent.Response{}, mapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return agent.Response{}, &agent.Error{
			Code:      agent.ErrCodeAPI,
			Message:   "Gemini returned no candidates",
			Retryable: true,
		}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := agent.Response{Text: text.String()}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// mapError classifies Gemini failures into agent.Error values.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &agent.Error{Code: agent.ErrCodeTimeout, Message: "request cancelled or timed out", Retryable: true}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "API key"), strings.Contains(msg, "401"),
		strings.Contains(msg, "PERMISSION_DENIED"):
		return &agent.Error{Code: agent.ErrCodeAuth, Message: "API key is invalid or expired", Retryable: false}
	case strings.Contains(msg, "429"), strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(msg, "rate"):
		return &agent.Error{Code: agent.ErrCodeRateLimit, Message: "API rate limit exceeded", Retryable: true}
	case strings.Contains(msg, "quota"):
		return &agent.Error{Code: agent.ErrCodeQuota, Message: "API quota exceeded", Retryable: false}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &agent.Error{Code: agent.ErrCodeTimeout, Message: "request timed out", Retryable: true}
	}
	return &agent.Error{Code: agent.ErrCodeAPI, Message: "Gemini API error: " + msg, Retryable: false}
}
