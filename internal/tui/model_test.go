package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/domain"
	"meetrag/internal/rag"
	"meetrag/internal/retrieval"
)

type fakePort struct {
	searches []retrieval.Request
	chats    []rag.Question
	err      error
}

func (f *fakePort) Search(_ context.Context, req retrieval.Request) ([]domain.SearchResult, error) {
	f.searches = append(f.searches, req)
	if f.err != nil {
		return nil, f.err
	}
	return []domain.SearchResult{
		{ChunkID: "m1_chunk_0.0", MeetingID: "m1", Score: 0.9, Text: "[00:00] **User 1**: The budget was approved. Lunch was late."},
		{ChunkID: "m2_chunk_0.0", MeetingID: "m2", Score: 0.4, Snippet: "[00:00] **User 2**: Budget review..."},
	}, nil
}

func (f *fakePort) Chat(_ context.Context, q rag.Question) (*rag.Answer, error) {
	f.chats = append(f.chats, q)
	if f.err != nil {
		return nil, f.err
	}
	id := q.ConversationID
	if id == "" {
		id = "conv-1"
	}
	return &rag.Answer{ConversationID: id, Text: "Yes, approved.", Citations: []string{"m1_chunk_0.0"}}, nil
}

// submit types s, presses enter and runs the returned command.
func submit(t *testing.T, m Model, s string) Model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	m = next.(Model)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	next, _ = m.Update(cmd())
	return next.(Model)
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestSearchFlow(t *testing.T) {
	port := &fakePort{}
	m := sized(New(port, "2 meetings", "m1"))

	m = submit(t, m, "budget")
	require.Len(t, port.searches, 1)
	assert.Equal(t, "m1", port.searches[0].Filter.MeetingID)
	require.NotNil(t, port.searches[0].TopK)
	assert.Equal(t, searchTopK, *port.searches[0].TopK)
	assert.Len(t, m.results, 2)
	assert.Contains(t, m.renderCurrentResult(), "m1_chunk_0.0")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderCurrentResult(), "Budget review")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, next.(Model).cursor)
}

func TestChatFlowKeepsConversation(t *testing.T) {
	port := &fakePort{}
	m := sized(New(port, "", ""))
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	assert.Equal(t, modeChat, m.mode)

	m = submit(t, m, "was it approved?")
	m = submit(t, m, "by whom?")
	require.Len(t, port.chats, 2)
	assert.Empty(t, port.chats[0].ConversationID)
	assert.Equal(t, "conv-1", port.chats[1].ConversationID)

	out := m.renderTranscript()
	assert.Contains(t, out, "was it approved?")
	assert.Contains(t, out, "Yes, approved.")
	assert.Contains(t, out, "m1_chunk_0.0")
}

func TestErrorsShowInStatus(t *testing.T) {
	port := &fakePort{err: errors.New("store offline")}
	m := sized(New(port, "", ""))
	m = submit(t, m, "budget")
	assert.Contains(t, m.status, "store offline")
	assert.Empty(t, m.results)
	assert.False(t, m.busy)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Lunch was late. The budget was approved.", "budget approved")
	assert.Contains(t, out, "Lunch was late.")
	assert.Contains(t, out, "budget was approved.")
	assert.Equal(t, "", highlightBestSentence("", "x"))
}
