// Package openai transcribes audio with the OpenAI Whisper endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"meetrag/internal/domain"
	"meetrag/internal/provider"
)

var _ domain.Transcriber = (*Transcriber)(nil)

const DefaultModel = "whisper-1"

type Transcriber struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func New(cfg Config, opts ...option.RequestOption) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	return &Transcriber{client: openai.NewClient(clientOpts...), model: cfg.Model, timeout: cfg.Timeout}
}

// Transcribe uploads the file and returns its segments ordered by start time.
// Whisper does not diarize, so segments carry no speaker.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, language string) ([]domain.Segment, error) {
	if !domain.IsAudioFile(audioPath) {
		return nil, domain.Validationf("unsupported audio format %q", filepath.Ext(audioPath))
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "open audio")
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(t.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, provider.OpenAIError(err, "openai transcription")
	}
	return parseVerbose(resp.RawJSON(), resp.Text)
}

type verboseTranscript struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func parseVerbose(raw, text string) ([]domain.Segment, error) {
	var v verboseTranscript
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
	}
	segs := make([]domain.Segment, 0, len(v.Segments))
	for _, s := range v.Segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		segs = append(segs, domain.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if len(segs) == 0 && strings.TrimSpace(text) != "" {
		segs = append(segs, domain.Segment{Text: strings.TrimSpace(text)})
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs, nil
}
