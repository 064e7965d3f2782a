// Package testutil provides in-memory stand-ins for the external model
// collaborators, for use in package tests.
package testutil

import (
	"context"
	"sync"

	"meetrag/internal/domain"
	"meetrag/internal/embedding/local"
)

// Embedder wraps the offline hashing embedder and can inject failures.
type Embedder struct {
	Inner domain.Embedder
	// Fail, when set, is consulted before each call with the 1-based call
	// number and may return an error instead of embedding.
	Fail func(call int, texts []string) error

	mu    sync.Mutex
	calls int
}

// NewEmbedder returns a deterministic 64-dimension embedder.
func NewEmbedder() *Embedder {
	return &Embedder{Inner: local.NewEmbedder(64)}
}

func (e *Embedder) Name() string   { return "test" }
func (e *Embedder) Dimension() int { return e.Inner.Dimension() }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.Fail != nil {
		if err := e.Fail(call, texts); err != nil {
			return nil, err
		}
	}
	return e.Inner.Embed(ctx, texts)
}

// Calls returns how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// LLM records every request and answers through Reply.
type LLM struct {
	Reply func(messages []domain.Message, schema *domain.Schema) (string, error)

	mu       sync.Mutex
	requests [][]domain.Message
}

// StaticLLM always answers reply.
func StaticLLM(reply string) *LLM {
	return &LLM{Reply: func([]domain.Message, *domain.Schema) (string, error) { return reply, nil }}
}

func (l *LLM) Generate(_ context.Context, messages []domain.Message, schema *domain.Schema) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, append([]domain.Message(nil), messages...))
	l.mu.Unlock()
	return l.Reply(messages, schema)
}

// Requests returns a copy of the recorded message lists.
func (l *LLM) Requests() [][]domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]domain.Message(nil), l.requests...)
}

// Transcriber returns fixed segments.
type Transcriber struct {
	Segments []domain.Segment
	Err      error
}

func (t *Transcriber) Transcribe(context.Context, string, string) ([]domain.Segment, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	return append([]domain.Segment(nil), t.Segments...), nil
}

// AnalysisJSON is a valid structured analysis reply.
const AnalysisJSON = `{"summary":"The team agreed to ship on Friday.",
"topics":[{"topic":"Release","description":"Timing of the release"}],
"action_items":[{"task":"Prepare release notes","assignee":"User 1","deadline":"Thursday"}],
"decisions":[{"decision":"Ship Friday","context":"QA passed"}],
"participants":["User 1","User 2"]}`
