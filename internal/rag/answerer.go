// Package rag answers questions about past meetings from retrieved transcript
// chunks, keeping per-conversation history.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"meetrag/internal/domain"
	"meetrag/internal/log"
	"meetrag/internal/memory"
	"meetrag/internal/retrieval"
	"meetrag/internal/vectorstore"
)

const (
	DefaultTopK         = 5
	DefaultHistoryTurns = 6
)

// DefaultPersona is installed as the system prompt of new conversations.
const DefaultPersona = `You are a meeting assistant that answers questions about recorded meetings.
Use only the meeting excerpts provided with each question and cite them by their chunk id in square brackets, like [chunk_id].
If the excerpts do not contain the answer, say that you could not find it in the meetings. Never invent speakers, dates or decisions.
Reply in the language the user writes in.`

const noContextNotice = "No relevant meeting excerpts were found for this question. Tell the user that the meetings do not cover it; do not guess."

// Searcher is the retrieval dependency of Answerer.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) ([]domain.SearchResult, error)
}

var _ Searcher = (*retrieval.Service)(nil)

// Scope narrows retrieval. MeetingID, when set, overrides Filter.MeetingID.
type Scope struct {
	MeetingID string             `json:"meeting_id,omitempty"`
	Filter    vectorstore.Filter `json:"filter"`
}

// Question is one chat request. An empty ConversationID starts a new conversation.
type Question struct {
	Text           string
	ConversationID string
	Scope          Scope
}

// Answer is the model reply plus the chunk ids that were in its prompt.
type Answer struct {
	ConversationID string   `json:"conversation_id"`
	Text           string   `json:"answer"`
	Citations      []string `json:"citations"`
}

// Answerer composes retrieval, conversation memory and an LLM.
type Answerer struct {
	searcher      Searcher
	llm           domain.LLM
	conversations memory.Store
	persona       string
	topK          int
	historyTurns  int
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithPersona replaces DefaultPersona.
func WithPersona(p string) Option {
	return func(a *Answerer) {
		if strings.TrimSpace(p) != "" {
			a.persona = p
		}
	}
}

// WithHistoryTurns sets how many earlier turns are replayed to the model.
func WithHistoryTurns(n int) Option {
	return func(a *Answerer) {
		if n >= 0 {
			a.historyTurns = n
		}
	}
}

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(a *Answerer) {
		if k > 0 {
			a.topK = k
		}
	}
}

func New(searcher Searcher, llm domain.LLM, conversations memory.Store, opts ...Option) *Answerer {
	a := &Answerer{
		searcher:      searcher,
		llm:           llm,
		conversations: conversations,
		persona:       DefaultPersona,
		topK:          DefaultTopK,
		historyTurns:  DefaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer retrieves context, asks the model and records the exchange. When
// retrieval finds nothing the model is still called, with an explicit notice,
// and the answer has no citations. A failed model call records nothing.
//
// The model sees a snapshot of the history; the store only appends the new
// turns, so a store that retries its update never repeats the model call.
func (a *Answerer) Answer(ctx context.Context, q Question) (*Answer, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, domain.Validationf("question must not be empty")
	}
	convID := q.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	filter := q.Scope.Filter
	if q.Scope.MeetingID != "" {
		filter.MeetingID = q.Scope.MeetingID
	}

	results, err := a.searcher.Search(ctx, retrieval.Request{Query: text, TopK: retrieval.TopK(a.topK), Filter: filter})
	if err != nil {
		return nil, domain.Boundary(err, "retrieve context")
	}
	prompt, citations := composePrompt(results, text)

	system, history, err := a.history(ctx, convID)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: prompt})

	reply, err := a.llm.Generate(ctx, messages, nil)
	if err != nil {
		return nil, domain.Boundary(err, "generate answer")
	}
	out := &Answer{ConversationID: convID, Text: strings.TrimSpace(reply), Citations: citations}

	err = a.conversations.Update(ctx, convID, func(c *memory.Conversation) error {
		if c.System() == "" {
			c.SetSystem(system)
		}
		c.AddUser(text)
		c.AddAssistant(out.Text)
		if c.OverBudget() {
			log.Debugf("conversation %s is over its token budget (%d)", convID, c.EstimatedTokens())
		}
		return nil
	})
	if err != nil {
		return nil, domain.Boundary(err, "record exchange")
	}
	return out, nil
}

// history returns the system prompt and the replayed turns of convID. An
// unknown conversation starts from the persona with no turns.
func (a *Answerer) history(ctx context.Context, convID string) (string, []domain.Message, error) {
	conv, err := a.conversations.Get(ctx, convID)
	switch {
	case domain.IsKind(err, domain.KindNotFound):
		return a.persona, nil, nil
	case err != nil:
		return "", nil, domain.Boundary(err, "load conversation")
	}
	system := conv.System()
	if system == "" {
		system = a.persona
	}
	return system, conv.LastN(a.historyTurns), nil
}

// composePrompt builds the user turn and returns the chunk ids in prompt order.
func composePrompt(results []domain.SearchResult, question string) (string, []string) {
	citations := make([]string, 0, len(results))
	var b strings.Builder
	if len(results) == 0 {
		b.WriteString(noContextNotice)
	} else {
		b.WriteString("Meeting excerpts:\n")
		for _, r := range results {
			text := r.Text
			if text == "" {
				text = r.Snippet
			}
			fmt.Fprintf(&b, "--- [%s] ---\n%s\n", r.ChunkID, strings.TrimSpace(text))
			citations = append(citations, r.ChunkID)
		}
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String(), citations
}
