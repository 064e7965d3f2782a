// Package openai adapts OpenAI-compatible chat completions to domain.LLM.
package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"meetrag/internal/domain"
	"meetrag/internal/provider"
)

var _ domain.LLM = (*Model)(nil)

const DefaultModel = "gpt-4o-mini"

// Model calls the chat completions endpoint of one credential.
type Model struct {
	client  openai.Client
	name    string
	timeout time.Duration
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func New(cfg Config, opts ...option.RequestOption) *Model {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	return &Model{client: openai.NewClient(clientOpts...), name: cfg.Model, timeout: cfg.Timeout}
}

// Generate sends the messages and returns the first choice. A non-nil schema
// requests strict JSON schema output.
func (m *Model) Generate(ctx context.Context, messages []domain.Message, schema *domain.Schema) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(messages),
	}
	if schema != nil {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schema.Name,
					Schema:      schema.Schema,
					Strict:      openai.Bool(true),
					Description: openai.String(schema.Description),
				},
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	resp, err := m.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", provider.OpenAIError(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", domain.Transient(fmt.Errorf("no choices"), "openai chat completion returned nothing")
	}
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(messages []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case domain.RoleFunction:
			// Function results carry no tool call id here, so they are
			// replayed as labelled user content.
			out = append(out, openai.UserMessage(fmt.Sprintf("[%s result]\n%s", msg.Name, msg.Content)))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
