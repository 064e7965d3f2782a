package domain

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is a single chat-style message sent to an LLM.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Schema describes a JSON structured-output contract for an LLM call.
type Schema struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Transcriber converts an audio file into ordered, optionally speaker-labeled segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]Segment, error)
}

// Embedder converts texts into fixed-dimension vectors, preserving input order.
// Dimension may report 0 until the first successful call.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// LLM generates a completion for a chat transcript. When schema is non-nil the
// returned text is a JSON document conforming to it.
type LLM interface {
	Generate(ctx context.Context, messages []Message, schema *Schema) (string, error)
}

// Chunker groups transcript segments into retrieval chunks for one meeting.
type Chunker interface {
	Chunk(meetingID string, segments []Segment) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
