// Package retrieval answers semantic search queries over indexed meeting chunks.
package retrieval

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"meetrag/internal/domain"
	"meetrag/internal/embedding"
	"meetrag/internal/log"
	"meetrag/internal/vectorstore"
)

const (
	DefaultTopK          = 5
	DefaultMaxQueryChars = 4000
	DefaultSnippetChars  = 400

	ellipsis = "..."
)

// Request is one search. A nil TopK means DefaultTopK; an explicit zero is
// rejected.
type Request struct {
	Query           string             `json:"query"`
	TopK            *int               `json:"top_k,omitempty"`
	Filter          vectorstore.Filter `json:"filters"`
	MinScore        *float64           `json:"min_score,omitempty"`
	DedupeByMeeting bool               `json:"dedupe_by_meeting,omitempty"`
}

// TopK returns a pointer for Request.TopK.
func TopK(k int) *int { return &k }

// Service embeds queries and ranks chunks from a vector store.
type Service struct {
	embedder      domain.Embedder
	vectors       vectorstore.Storage
	maxQueryChars int
	snippetChars  int
	dedupe        bool
}

// Option configures a Service.
type Option func(*Service)

// WithMaxQueryChars sets the length queries are cut to.
func WithMaxQueryChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxQueryChars = n
		}
	}
}

// WithSnippetChars sets the snippet length limit.
func WithSnippetChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.snippetChars = n
		}
	}
}

// WithDedupeByMeeting makes every search keep only the best chunk per meeting.
func WithDedupeByMeeting(on bool) Option {
	return func(s *Service) { s.dedupe = on }
}

func New(embedder domain.Embedder, vectors vectorstore.Storage, opts ...Option) *Service {
	s := &Service{
		embedder:      embedder,
		vectors:       vectors,
		maxQueryChars: DefaultMaxQueryChars,
		snippetChars:  DefaultSnippetChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns up to TopK results ordered by descending score. Over-long
// queries are truncated, not rejected.
func (s *Service) Search(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.Validationf("query must not be empty")
	}
	if r := []rune(query); len(r) > s.maxQueryChars {
		log.Debugf("search: query truncated from %d to %d chars", len(r), s.maxQueryChars)
		query = string(r[:s.maxQueryChars])
	}
	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > vectorstore.MaxTopK {
		return nil, domain.Validationf("top_k must be between 1 and %d, got %d", vectorstore.MaxTopK, topK)
	}
	if req.MinScore != nil && (*req.MinScore < 0 || *req.MinScore > 1) {
		return nil, domain.Validationf("min_score must be within [0, 1], got %g", *req.MinScore)
	}
	dedupe := s.dedupe || req.DedupeByMeeting

	vec, err := embedding.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, domain.Boundary(err, "embed query")
	}
	fetch := topK
	if dedupe {
		fetch = min(topK*3, vectorstore.MaxTopK)
	}
	hits, err := s.vectors.Search(ctx, vectorstore.Query{Vector: vec, TopK: fetch, Filter: req.Filter})
	if err != nil {
		return nil, domain.Boundary(err, "vector search")
	}

	seen := map[string]bool{}
	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if req.MinScore != nil && h.Score < *req.MinScore {
			continue
		}
		meetingID := h.Entry.Chunk.MeetingID
		if dedupe {
			if seen[meetingID] {
				continue
			}
			seen[meetingID] = true
		}
		results = append(results, domain.SearchResult{
			MeetingID: meetingID,
			ChunkID:   h.Entry.Chunk.ChunkID,
			Snippet:   Snippet(h.Entry.Chunk.Text, s.snippetChars),
			Text:      h.Entry.Chunk.Text,
			Score:     h.Score,
			Metadata:  h.Entry.Metadata(),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

var speakerPrefix = regexp.MustCompile(`^\[\d{2,}:\d{2}\] \*\*[^*\n]+\*\*: `)

// Snippet cuts text to at most limit runes, ending on a word boundary with an
// ellipsis. The leading timestamp and speaker label always survive, even when
// they alone exceed limit.
func Snippet(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	prefix := []rune(speakerPrefix.FindString(text))
	budget := limit - len([]rune(ellipsis))
	if budget <= len(prefix) {
		return strings.TrimRightFunc(string(prefix), unicode.IsSpace) + ellipsis
	}
	cut := budget
	for i := budget; i > len(prefix); i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + ellipsis
}
