package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"meetrag/internal/chunker"
	"meetrag/internal/domain"
	"meetrag/internal/summarizer"
)

// MaxAnalysisChars bounds the transcript sent to the analysis model.
const MaxAnalysisChars = 15000

const truncationMarker = "\n\n[... transcript truncated ...]"

// AnalysisInput is everything an Analyzer sees about one meeting.
type AnalysisInput struct {
	Transcript  string
	Segments    []domain.Segment
	MeetingType string
	Language    string
	OutputLang  string
}

// Analyzer turns a transcript into the structured meeting analysis.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (domain.Analysis, error)
}

var (
	_ Analyzer = (*LLMAnalyzer)(nil)
	_ Analyzer = (*ExtractiveAnalyzer)(nil)
)

// LLMAnalyzer asks a language model for a schema-constrained analysis.
type LLMAnalyzer struct {
	llm domain.LLM
}

func NewLLMAnalyzer(llm domain.LLM) *LLMAnalyzer {
	return &LLMAnalyzer{llm: llm}
}

// AnalysisSchema is the structured-output contract of an analysis reply.
var AnalysisSchema = &domain.Schema{
	Name:        "meeting_analysis",
	Description: "Structured analysis of a meeting transcript",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"topics": arrayOf(map[string]any{
				"topic":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
			}),
			"action_items": arrayOf(map[string]any{
				"task":     map[string]any{"type": "string"},
				"assignee": map[string]any{"type": "string"},
				"deadline": map[string]any{"type": "string"},
			}),
			"decisions": arrayOf(map[string]any{
				"decision": map[string]any{"type": "string"},
				"context":  map[string]any{"type": "string"},
			}),
			"participants": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"summary", "topics", "action_items", "decisions", "participants"},
		"additionalProperties": false,
	},
}

func arrayOf(props map[string]any) map[string]any {
	required := slices.Sorted(maps.Keys(props))
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}

var typeFocus = map[string]string{
	domain.MeetingTypeMeeting:      "Focus on decisions, action items with owners and deadlines, and open issues.",
	domain.MeetingTypeInterview:    "Focus on the candidate's answers, strengths, concerns and agreed next steps.",
	domain.MeetingTypePresentation: "Focus on the main points presented and the questions raised by the audience.",
	domain.MeetingTypeBrainstorm:   "Focus on the ideas proposed, how they were grouped, and which ones were selected.",
	domain.MeetingTypeTraining:     "Focus on the key learnings, exercises and questions answered.",
	domain.MeetingTypeWorkshop:     "Focus on the exercises, key learnings and follow-up tasks.",
}

var languageNames = map[string]string{
	"vi": "Vietnamese",
	"en": "English",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

// LanguageName returns the English name of a language code, or the code itself.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func analysisSystemPrompt(meetingType, outputLang string) string {
	var b strings.Builder
	b.WriteString("You are a professional assistant that analyzes meeting transcripts.\n")
	b.WriteString("Extract only information present in the transcript. Do not invent facts; use empty lists when nothing applies.\n")
	b.WriteString("Speakers are labeled \"User N\"; use those labels for assignees and participants.\n")
	if focus, ok := typeFocus[meetingType]; ok {
		b.WriteString(focus)
		b.WriteString("\n")
	}
	if outputLang != "" {
		fmt.Fprintf(&b, "Write every field of the answer in %s.\n", LanguageName(outputLang))
	}
	return b.String()
}

// TruncateTranscript cuts text to at most limit runes plus a marker.
func TruncateTranscript(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + truncationMarker
}

// Analyze sends the transcript with the meeting-type focus and output language.
// A reply that is not valid JSON is transient since a retry usually succeeds.
func (a *LLMAnalyzer) Analyze(ctx context.Context, in AnalysisInput) (domain.Analysis, error) {
	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: analysisSystemPrompt(in.MeetingType, in.OutputLang)},
		{Role: domain.RoleUser, Content: fmt.Sprintf("Meeting type: %s\n\nTranscript:\n%s",
			in.MeetingType, TruncateTranscript(in.Transcript, MaxAnalysisChars))},
	}
	reply, err := a.llm.Generate(ctx, messages, AnalysisSchema)
	if err != nil {
		return domain.Analysis{}, domain.Boundary(err, "analyze transcript")
	}
	var out domain.Analysis
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &out); err != nil {
		return domain.Analysis{}, domain.Transient(err, "decode analysis reply")
	}
	return normalizeAnalysis(out), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func normalizeAnalysis(a domain.Analysis) domain.Analysis {
	a.Summary = strings.TrimSpace(a.Summary)
	if a.Topics == nil {
		a.Topics = []domain.Topic{}
	}
	if a.ActionItems == nil {
		a.ActionItems = []domain.ActionItem{}
	}
	if a.Decisions == nil {
		a.Decisions = []domain.Decision{}
	}
	if a.Participants == nil {
		a.Participants = []string{}
	}
	return a
}

// ExtractiveAnalyzer fills the analysis without a model: a frequency summary,
// keyword topics and the speaker labels.
type ExtractiveAnalyzer struct {
	summarizer *summarizer.FrequencySummarizer
	sentences  int
	topics     int
}

func NewExtractiveAnalyzer() *ExtractiveAnalyzer {
	return &ExtractiveAnalyzer{summarizer: summarizer.NewFrequencySummarizer(), sentences: 3, topics: 5}
}

func (a *ExtractiveAnalyzer) Analyze(ctx context.Context, in AnalysisInput) (domain.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return domain.Analysis{}, err
	}
	var plain strings.Builder
	for _, s := range in.Segments {
		plain.WriteString(s.Text)
		plain.WriteString("\n")
	}
	summary, err := a.summarizer.Summarize(plain.String(), a.sentences)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("summarize: %w", err)
	}
	out := domain.Analysis{Summary: summary}
	for _, kw := range a.summarizer.Keywords(plain.String(), a.topics) {
		out.Topics = append(out.Topics, domain.Topic{Topic: kw})
	}
	// Labels are numbered densely from 1.
	for i := range len(chunker.SpeakerMap(in.Segments)) {
		out.Participants = append(out.Participants, fmt.Sprintf("User %d", i+1))
	}
	return normalizeAnalysis(out), nil
}
