package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"meetrag/internal/domain"
)

// MaxTopK is the largest result count a search may request.
const MaxTopK = 50

// Storage persists chunk embeddings and supports filtered similarity search.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []Entry) error
	DeleteByFilter(ctx context.Context, filter Filter) error
	Search(ctx context.Context, query Query) ([]Hit, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// Entry is one indexed chunk with the meeting metadata copied onto it.
type Entry struct {
	Chunk        domain.Chunk
	MeetingType  string
	Language     string
	CreatedAt    time.Time
	Title        string
	OriginalFile string
	Vector       []float64
}

// Metadata returns the display fields attached to search results.
func (e Entry) Metadata() map[string]any {
	return map[string]any{
		"meeting_id":    e.Chunk.MeetingID,
		"chunk_id":      e.Chunk.ChunkID,
		"meeting_type":  e.MeetingType,
		"language":      e.Language,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339),
		"start_time":    e.Chunk.StartTime,
		"end_time":      e.Chunk.EndTime,
		"time_range":    e.Chunk.TimeRange,
		"speakers":      strings.Join(e.Chunk.Speakers, ","),
		"title":         e.Title,
		"original_file": e.OriginalFile,
	}
}

// Filter is an equality-and-range predicate over entry metadata. Zero fields match anything.
type Filter struct {
	MeetingID   string    `json:"meeting_id,omitempty"`
	MeetingType string    `json:"meeting_type,omitempty"`
	Language    string    `json:"language,omitempty"`
	Speaker     string    `json:"speaker,omitempty"`
	CreatedFrom time.Time `json:"created_from,omitempty"`
	CreatedTo   time.Time `json:"created_to,omitempty"`
}

// Match reports whether e satisfies every set field of f. Speaker is a
// membership test on the chunk's raw speaker tags.
func (f Filter) Match(e Entry) bool {
	if f.MeetingID != "" && e.Chunk.MeetingID != f.MeetingID {
		return false
	}
	if f.MeetingType != "" && e.MeetingType != f.MeetingType {
		return false
	}
	if f.Language != "" && e.Language != f.Language {
		return false
	}
	if f.Speaker != "" {
		found := false
		for _, s := range e.Chunk.Speakers {
			if s == f.Speaker {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.CreatedFrom.IsZero() && e.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && e.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool { return f == Filter{} }

// Query is a similarity search request.
type Query struct {
	Vector []float64
	TopK   int
	Filter Filter
}

// Validate enforces the search contract shared by all backends.
func (q Query) Validate() error {
	if q.TopK < 1 || q.TopK > MaxTopK {
		return domain.Validationf("top_k must be between 1 and %d, got %d", MaxTopK, q.TopK)
	}
	if len(q.Vector) == 0 {
		return domain.Validationf("query vector is empty")
	}
	return nil
}

// Hit is a search match. Entry.Vector is not populated.
type Hit struct {
	Entry Entry
	Score float64
}

// NormalizeCosine maps a cosine similarity onto [0,1]. Anti-correlated
// vectors score 0, the same as orthogonal ones.
func NormalizeCosine(cos float64) float64 {
	return math.Max(0, math.Min(1, cos))
}

// SortHits orders hits by score, then newest meeting, then chunk id.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.CreatedAt.Equal(b.Entry.CreatedAt) {
			return a.Entry.CreatedAt.After(b.Entry.CreatedAt)
		}
		return a.Entry.Chunk.ChunkID < b.Entry.Chunk.ChunkID
	})
}
