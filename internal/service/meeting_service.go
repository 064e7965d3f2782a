// Package service is the single entry point the HTTP server, CLI and TUI use
// to ingest, browse, search and chat over meetings.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"

	"meetrag/internal/domain"
	"meetrag/internal/ingest"
	"meetrag/internal/log"
	"meetrag/internal/memory"
	"meetrag/internal/rag"
	"meetrag/internal/recordstore"
	"meetrag/internal/retrieval"
	"meetrag/internal/vectorstore"
)

// DefaultReindexWorkers bounds how many meetings are re-embedded at once.
const DefaultReindexWorkers = 4

// MeetingService wires the stores and pipelines together.
type MeetingService struct {
	records       *recordstore.Manager
	vectors       vectorstore.Storage
	pipeline      *ingest.Pipeline
	search        *retrieval.Service
	answerer      *rag.Answerer
	conversations memory.Store
	workers       int
}

// Option configures a MeetingService.
type Option func(*MeetingService)

// WithReindexWorkers sets the reindex pool size.
func WithReindexWorkers(n int) Option {
	return func(s *MeetingService) {
		if n > 0 {
			s.workers = n
		}
	}
}

func NewMeetingService(
	records recordstore.Store,
	vectors vectorstore.Storage,
	pipeline *ingest.Pipeline,
	search *retrieval.Service,
	answerer *rag.Answerer,
	conversations memory.Store,
	opts ...Option,
) *MeetingService {
	s := &MeetingService{
		records:       recordstore.NewManager(records, vectors),
		vectors:       vectors,
		pipeline:      pipeline,
		search:        search,
		answerer:      answerer,
		conversations: conversations,
		workers:       DefaultReindexWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest runs one source through the pipeline.
func (s *MeetingService) Ingest(ctx context.Context, src ingest.Source, meta ingest.Metadata) (*domain.MeetingRecord, error) {
	return s.pipeline.Ingest(ctx, src, meta)
}

// IngestFile ingests a file from disk, choosing audio or text by extension.
func (s *MeetingService) IngestFile(ctx context.Context, path string, meta ingest.Metadata) (*domain.MeetingRecord, error) {
	kind, err := ingest.SourceFor(path)
	if err != nil {
		return nil, err
	}
	src := ingest.Source{Kind: kind, Name: filepath.Base(path), Path: path}
	if kind == domain.SourceText {
		if src.Data, err = os.ReadFile(path); err != nil {
			return nil, domain.Wrap(domain.KindValidation, err, "read "+path)
		}
	}
	return s.pipeline.Ingest(ctx, src, meta)
}

func (s *MeetingService) List(ctx context.Context, q recordstore.ListQuery) (recordstore.Page, error) {
	return s.records.List(ctx, q)
}

func (s *MeetingService) Get(ctx context.Context, id string) (*domain.MeetingRecord, error) {
	return s.records.Get(ctx, id)
}

// Delete removes a meeting's chunks and then its record.
func (s *MeetingService) Delete(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	log.Infof("deleted meeting %s", id)
	return nil
}

func (s *MeetingService) Search(ctx context.Context, req retrieval.Request) ([]domain.SearchResult, error) {
	return s.search.Search(ctx, req)
}

func (s *MeetingService) Chat(ctx context.Context, q rag.Question) (*rag.Answer, error) {
	return s.answerer.Answer(ctx, q)
}

// Conversation returns a snapshot of a chat history.
func (s *MeetingService) Conversation(ctx context.Context, id string) (*memory.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

func (s *MeetingService) DeleteConversation(ctx context.Context, id string) error {
	return s.conversations.Delete(ctx, id)
}

// ReindexReport summarizes a reindex run.
type ReindexReport struct {
	Meetings int               `json:"meetings"`
	Chunks   int               `json:"chunks"`
	Skipped  int               `json:"skipped"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Reindex rebuilds the vector index from the record store. Meetings are
// processed in parallel; each meeting's writes stay sequential. Meetings
// still pending are skipped, as are analyzed meetings without chunks. Failed
// meetings are rechunked in full so a partial index heals.
func (s *MeetingService) Reindex(ctx context.Context) (*ReindexReport, error) {
	var recs []*domain.MeetingRecord
	if err := recordstore.Each(ctx, s.records, func(rec *domain.MeetingRecord) error {
		recs = append(recs, rec)
		return nil
	}); err != nil {
		return nil, domain.Boundary(err, "list meetings")
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("create reindex pool: %w", err)
	}
	defer pool.Release()

	report := &ReindexReport{Failed: map[string]string{}}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(rec *domain.MeetingRecord, chunks int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed[rec.ID] = err.Error()
			log.Warnf("reindex %s: %v", rec.ID, err)
			return
		}
		report.Meetings++
		report.Chunks += chunks
	}
	for _, rec := range recs {
		if rec.Status == domain.StatusPending || (rec.Status != domain.StatusFailed && len(rec.ChunkIDs) == 0) {
			report.Skipped++
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			n, err := s.pipeline.Reindex(ctx, rec)
			record(rec, n, err)
		}); err != nil {
			wg.Done()
			record(rec, 0, fmt.Errorf("submit reindex task: %w", err))
		}
	}
	wg.Wait()

	log.Infof("reindex: %d meetings, %d chunks, %d skipped, %d failed",
		report.Meetings, report.Chunks, report.Skipped, len(report.Failed))
	if len(report.Failed) > 0 {
		return report, domain.Transient(errors.New("some meetings were not reindexed"), fmt.Sprintf("%d meetings failed", len(report.Failed)))
	}
	return report, nil
}

// EnsureIndexed reindexes when the vector store is empty but records exist,
// which is the state of a process-local index after a restart.
func (s *MeetingService) EnsureIndexed(ctx context.Context) error {
	n, err := s.vectors.Count(ctx, vectorstore.Filter{})
	if err != nil {
		return domain.Boundary(err, "count indexed chunks")
	}
	if n > 0 {
		return nil
	}
	page, err := s.records.List(ctx, recordstore.ListQuery{Limit: 1})
	if err != nil {
		return domain.Boundary(err, "list meetings")
	}
	if page.Total == 0 {
		return nil
	}
	log.Infof("vector index is empty, rebuilding from %d meetings", page.Total)
	_, err = s.Reindex(ctx)
	return err
}

// Health reports the size of both stores.
func (s *MeetingService) Health(ctx context.Context) (map[string]any, error) {
	page, err := s.records.List(ctx, recordstore.ListQuery{Limit: 1})
	if err != nil {
		return nil, domain.Boundary(err, "record store")
	}
	chunks, err := s.vectors.Count(ctx, vectorstore.Filter{})
	if err != nil {
		return nil, domain.Boundary(err, "vector store")
	}
	return map[string]any{"status": "ok", "meetings": page.Total, "chunks": chunks}, nil
}
