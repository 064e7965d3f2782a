package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetrag/internal/domain"
	"meetrag/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)

// pointNamespace derives Qdrant point UUIDs from chunk ids.
var pointNamespace = uuid.MustParse("6f0e2c1a-4d6b-4a8e-9a57-3b1f2d9c7e10")

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "meeting_chunks"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx, dimension)
}

func (s *Storage) initLocked(ctx context.Context, dimension int) error {
	if s.dimension == dimension {
		return nil
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		s.dimension = dimension
		return nil
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	if err := s.initLocked(ctx, len(entries[0].Vector)); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if e.Chunk.ChunkID == "" || len(e.Vector) == 0 {
			return domain.Validationf("entry %d has no chunk id or vector", i)
		}
		points[i] = map[string]any{
			"id":      pointID(e.Chunk.ChunkID),
			"vector":  e.Vector,
			"payload": toPayload(e),
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

func (s *Storage) DeleteByFilter(ctx context.Context, filter vectorstore.Filter) error {
	body := map[string]any{"filter": toFilter(filter)}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	if domain.IsKind(err, domain.KindNotFound) {
		// No collection means nothing to delete.
		return nil
	}
	return err
}

func (s *Storage) Search(ctx context.Context, query vectorstore.Query) ([]vectorstore.Hit, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       query.Vector,
		"limit":        query.TopK,
		"with_payload": true,
	}
	if !query.Filter.IsZero() {
		req["filter"] = toFilter(query.Filter)
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if domain.IsKind(err, domain.KindNotFound) {
		return []vectorstore.Hit{}, nil
	}
	if err != nil {
		return nil, err
	}
	hits := make([]vectorstore.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vectorstore.Hit{
			Entry: fromPayload(r.Payload),
			Score: vectorstore.NormalizeCosine(r.Score),
		})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func (s *Storage) Count(ctx context.Context, filter vectorstore.Filter) (int, error) {
	req := map[string]any{"exact": true}
	if !filter.IsZero() {
		req["filter"] = toFilter(filter)
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), req, &resp)
	if domain.IsKind(err, domain.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func toPayload(e vectorstore.Entry) map[string]any {
	speakers := e.Chunk.Speakers
	if speakers == nil {
		speakers = []string{}
	}
	return map[string]any{
		"meeting_id":      e.Chunk.MeetingID,
		"chunk_id":        e.Chunk.ChunkID,
		"text":            e.Chunk.Text,
		"start_time":      e.Chunk.StartTime,
		"end_time":        e.Chunk.EndTime,
		"segment_count":   e.Chunk.SegmentCount,
		"time_range":      e.Chunk.TimeRange,
		"speakers":        speakers,
		"meeting_type":    e.MeetingType,
		"language":        e.Language,
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"created_at_unix": e.CreatedAt.Unix(),
		"title":           e.Title,
		"original_file":   e.OriginalFile,
	}
}

func fromPayload(p map[string]any) vectorstore.Entry {
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	num := func(k string) float64 {
		v, _ := p[k].(float64)
		return v
	}
	e := vectorstore.Entry{
		Chunk: domain.Chunk{
			ChunkID:      str("chunk_id"),
			MeetingID:    str("meeting_id"),
			Text:         str("text"),
			StartTime:    num("start_time"),
			EndTime:      num("end_time"),
			SegmentCount: int(num("segment_count")),
			TimeRange:    str("time_range"),
		},
		MeetingType:  str("meeting_type"),
		Language:     str("language"),
		Title:        str("title"),
		OriginalFile: str("original_file"),
	}
	e.Chunk.Duration = e.Chunk.EndTime - e.Chunk.StartTime
	if raw, ok := p["speakers"].([]any); ok {
		for _, sp := range raw {
			if v, ok := sp.(string); ok {
				e.Chunk.Speakers = append(e.Chunk.Speakers, v)
			}
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, str("created_at")); err == nil {
		e.CreatedAt = t
	}
	return e
}

func toFilter(f vectorstore.Filter) map[string]any {
	must := []map[string]any{}
	match := func(key, value string) {
		if value != "" {
			must = append(must, map[string]any{"key": key, "match": map[string]any{"value": value}})
		}
	}
	match("meeting_id", f.MeetingID)
	match("meeting_type", f.MeetingType)
	match("language", f.Language)
	match("speakers", f.Speaker)
	if !f.CreatedFrom.IsZero() || !f.CreatedTo.IsZero() {
		rng := map[string]any{}
		if !f.CreatedFrom.IsZero() {
			rng["gte"] = f.CreatedFrom.Unix()
		}
		if !f.CreatedTo.IsZero() {
			rng["lte"] = f.CreatedTo.Unix()
		}
		must = append(must, map[string]any{"key": "created_at_unix", "range": rng})
	}
	return map[string]any{"must": must}
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Transient(err, fmt.Sprintf("qdrant %s %s", method, url))
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NotFoundf("qdrant %s %s: %s", method, url, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.Transient(fmt.Errorf("status %s", resp.Status), fmt.Sprintf("qdrant %s %s", method, url))
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
