// Package gemini embeds text with the Gemini embeddings API.
package gemini

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"meetrag/internal/domain"
	"meetrag/internal/provider"
)

var _ domain.Embedder = (*Embedder)(nil)

const (
	DefaultModel      = "gemini-embedding-001"
	DefaultDimensions = 768
	// TaskTypeRetrievalDocument suits both indexed chunks and short queries
	// while keeping one vector space.
	TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// Embedder implements domain.Embedder for the Gemini API.
type Embedder struct {
	client     *genai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

type Config struct {
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// New creates a Gemini embedder bound to one API key.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIKey == "" {
		return nil, domain.Validationf("gemini API key is not provided")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Embedder{
		client:     client,
		model:      strings.TrimPrefix(cfg.Model, "models/"),
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
	}, nil
}

func (e *Embedder) Name() string { return "gemini" }

func (e *Embedder) Dimension() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.Validationf("text %d is empty", i)
		}
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dims := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             TaskTypeRetrievalDocument,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, provider.GeminiError(err, "gemini embeddings")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, domain.Integrityf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
