// Package gemini adapts the Gemini generate-content API to domain.LLM.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"meetrag/internal/domain"
	"meetrag/internal/provider"
)

var _ domain.LLM = (*Model)(nil)

const DefaultModel = "gemini-2.0-flash"

type Model struct {
	client  *genai.Client
	name    string
	timeout time.Duration
}

type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

func New(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, domain.Validationf("gemini API key is not provided")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Model{client: client, name: cfg.Model, timeout: cfg.Timeout}, nil
}

// Generate maps system messages onto the system instruction and the rest onto
// user/model turns. With a schema the model is asked for JSON only.
func (m *Model) Generate(ctx context.Context, messages []domain.Message, schema *domain.Schema) (string, error) {
	system, contents := convertMessages(messages)
	cfg := &genai.GenerateContentConfig{}
	if schema != nil {
		raw, err := json.Marshal(schema.Schema)
		if err != nil {
			return "", fmt.Errorf("encode schema: %w", err)
		}
		cfg.ResponseMIMEType = "application/json"
		system = append(system, fmt.Sprintf("Respond with a single JSON object named %q matching this JSON schema:\n%s", schema.Name, raw))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, cfg)
	if err != nil {
		return "", provider.GeminiError(err, "gemini generate content")
	}
	text := resp.Text()
	if text == "" {
		return "", domain.Transient(fmt.Errorf("empty response"), "gemini generate content returned nothing")
	}
	return text, nil
}

func convertMessages(messages []domain.Message) ([]string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			system = append(system, msg.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case domain.RoleFunction:
			contents = append(contents, genai.NewContentFromText(fmt.Sprintf("[%s result]\n%s", msg.Name, msg.Content), genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return system, contents
}
