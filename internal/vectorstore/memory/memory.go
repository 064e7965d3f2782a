package memory

import (
	"context"
	"errors"
	"math"
	"sync"

	"meetrag/internal/domain"
	"meetrag/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)

// Storage is an in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]vectorstore.Entry
}

func NewStorage() *Storage {
	return &Storage{entries: make(map[string]vectorstore.Entry)}
}

// Init fixes the vector dimension. Existing entries are kept when the dimension
// is unchanged and dropped otherwise.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != dimension {
		s.entries = make(map[string]vectorstore.Entry)
	}
	s.dimension = dimension
	return nil
}

// Upsert stores entries keyed by chunk id. The first upsert into an
// uninitialized store fixes its dimension.
func (s *Storage) Upsert(_ context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.Chunk.ChunkID == "" {
			return domain.Validationf("entry has empty chunk id")
		}
		if len(e.Vector) == 0 {
			return domain.Validationf("entry %s has empty vector", e.Chunk.ChunkID)
		}
		if s.dimension == 0 {
			s.dimension = len(e.Vector)
		}
		if len(e.Vector) != s.dimension {
			return domain.Integrityf("vector dimension mismatch for %s: got %d, want %d",
				e.Chunk.ChunkID, len(e.Vector), s.dimension)
		}
	}
	for _, e := range entries {
		e.Vector = append([]float64(nil), e.Vector...)
		e.Chunk.Speakers = append([]string(nil), e.Chunk.Speakers...)
		s.entries[e.Chunk.ChunkID] = e
	}
	return nil
}

func (s *Storage) DeleteByFilter(_ context.Context, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if filter.Match(e) {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *Storage) Search(_ context.Context, query vectorstore.Query) ([]vectorstore.Hit, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]vectorstore.Hit, 0, len(s.entries))
	for _, e := range s.entries {
		if len(e.Vector) != len(query.Vector) || !query.Filter.Match(e) {
			continue
		}
		score := vectorstore.NormalizeCosine(cosine(e.Vector, query.Vector))
		e.Vector = nil
		e.Chunk.Speakers = append([]string(nil), e.Chunk.Speakers...)
		hits = append(hits, vectorstore.Hit{Entry: e, Score: score})
	}
	vectorstore.SortHits(hits)
	if len(hits) > query.TopK {
		hits = hits[:query.TopK]
	}
	return hits, nil
}

func (s *Storage) Count(_ context.Context, filter vectorstore.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if filter.Match(e) {
			n++
		}
	}
	return n, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
