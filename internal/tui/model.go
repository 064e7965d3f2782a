package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"meetrag/internal/domain"
	"meetrag/internal/rag"
	"meetrag/internal/retrieval"
)

// Port is the TUI-facing subset of the meeting service.
type Port interface {
	Search(ctx context.Context, req retrieval.Request) ([]domain.SearchResult, error)
	Chat(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

type mode int

const (
	modeSearch mode = iota
	modeChat
)

func (m mode) String() string {
	if m == modeChat {
		return "chat"
	}
	return "search"
}

const (
	searchTopK  = 10
	callTimeout = 2 * time.Minute
)

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service  Port
	input    textinput.Model
	viewport viewport.Model
	mode     mode
	scope    string

	results   []domain.SearchResult
	cursor    int
	lastQuery string

	conversationID string
	transcript     []exchange
	busy           bool

	summary string
	status  string
	ready   bool
}

type exchange struct {
	question string
	answer   string
	cites    []string
}

// answerMsg and searchMsg carry results of calls run off the update loop.
type answerMsg struct {
	question string
	answer   *rag.Answer
	err      error
}

type searchMsg struct {
	query   string
	results []domain.SearchResult
	err     error
}

// New creates a new TUI model. A non-empty meetingID scopes search and chat
// to that meeting.
func New(service Port, summary, meetingID string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Search meetings and press Enter (Tab switches to chat)"
	ti.Focus()
	ti.CharLimit = retrieval.DefaultMaxQueryChars
	vp := viewport.New(0, 0)
	return Model{
		service:  service,
		input:    ti,
		viewport: vp,
		scope:    meetingID,
		summary:  summary,
		status:   "Ready. Type to search.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case searchMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.results), msg.query)
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.conversationID = msg.answer.ConversationID
		m.transcript = append(m.transcript, exchange{question: msg.question, answer: msg.answer.Text, cites: msg.answer.Citations})
		m.status = fmt.Sprintf("Conversation %s", m.conversationID)
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "tab":
			m.toggleMode()
			return m, nil
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			if m.mode == modeChat {
				m.status = "Thinking..."
				return m, m.ask(q)
			}
			m.status = "Searching..."
			return m, m.search(q)
		case "down":
			if m.mode == modeSearch && len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.refresh()
				return m, nil
			}
		case "up":
			if m.mode == modeSearch && len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.refresh()
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) toggleMode() {
	if m.mode == modeSearch {
		m.mode = modeChat
		m.input.Placeholder = "Ask a question about your meetings (Tab switches to search)"
	} else {
		m.mode = modeSearch
		m.input.Placeholder = "Search meetings and press Enter (Tab switches to chat)"
	}
	m.status = "Mode: " + m.mode.String()
	m.refresh()
}

func (m Model) search(q string) tea.Cmd {
	svc, scope := m.service, m.scope
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		req := retrieval.Request{Query: q, TopK: retrieval.TopK(searchTopK)}
		req.Filter.MeetingID = scope
		res, err := svc.Search(ctx, req)
		return searchMsg{query: q, results: res, err: err}
	}
}

func (m Model) ask(q string) tea.Cmd {
	svc, scope, convID := m.service, m.scope, m.conversationID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		ans, err := svc.Chat(ctx, rag.Question{Text: q, ConversationID: convID, Scope: rag.Scope{MeetingID: scope}})
		return answerMsg{question: q, answer: ans, err: err}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := "Meeting Search"
	if m.mode == modeChat {
		title = "Meeting Chat"
	}
	if m.scope != "" {
		title += "  [" + m.scope + "]"
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	if m.mode == modeChat {
		m.viewport.SetContent(m.renderTranscript())
		return
	}
	m.viewport.SetContent(m.renderCurrentResult())
}

func (m Model) wrapWidth() int {
	w, _ := resultBoxStyle.GetFrameSize()
	return max(10, m.viewport.Width-w)
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.3f  %s", m.cursor+1, len(m.results), r.Score, r.ChunkID)
	text := r.Text
	if text == "" {
		text = r.Snippet
	}
	body := highlightBestSentence(wordwrap.String(text, m.wrapWidth()), m.lastQuery)
	return title + "\n\n" + body
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No questions yet."
	}
	width := m.wrapWidth()
	var b strings.Builder
	for i, ex := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render(wordwrap.String("You: "+ex.question, width)))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(ex.answer, width))
		if len(ex.cites) > 0 {
			b.WriteString("\n")
			b.WriteString(citeStyle.Render(wordwrap.String("Sources: "+strings.Join(ex.cites, ", "), width)))
		}
	}
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	citeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence renders the sentence sharing the most words with
// query in highlightStyle.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
