// Package recordstore persists MeetingRecords, the authoritative copy of every
// ingested meeting. The vector index is derived from it.
package recordstore

import (
	"context"
	"time"

	"meetrag/internal/domain"
	"meetrag/internal/log"
	"meetrag/internal/vectorstore"
)

// Sort orders for List.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortName   = "name"
)

// DefaultPageSize is used when ListQuery.Limit is zero.
const DefaultPageSize = 50

// Store is durable storage of meeting records keyed by id.
type Store interface {
	// Put creates or replaces a record. Concurrent puts of one id are last-writer-wins.
	Put(ctx context.Context, rec *domain.MeetingRecord) error
	Get(ctx context.Context, id string) (*domain.MeetingRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) (Page, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.MeetingRecord, error)
	Close() error
}

// ListQuery filters and pages a record listing. Zero fields do not filter.
type ListQuery struct {
	MeetingType string
	Language    string
	From        time.Time
	To          time.Time
	Sort        string
	Limit       int
	Offset      int
}

// Normalize validates q and fills defaults.
func (q ListQuery) Normalize() (ListQuery, error) {
	switch q.Sort {
	case "":
		q.Sort = SortNewest
	case SortNewest, SortOldest, SortName:
	default:
		return q, domain.Validationf("unknown sort %q (want newest, oldest or name)", q.Sort)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return q, domain.Validationf("limit and offset must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.MeetingType != "" && !domain.ValidMeetingType(q.MeetingType) {
		return q, domain.Validationf("unknown meeting type %q", q.MeetingType)
	}
	return q, nil
}

// Page is one slice of a listing plus the total number of matches.
type Page struct {
	Records []*domain.MeetingRecord
	Total   int
}

// Each calls fn for every stored record, oldest first, paging through List.
func Each(ctx context.Context, s Store, fn func(*domain.MeetingRecord) error) error {
	q := ListQuery{Sort: SortOldest, Limit: DefaultPageSize}
	for {
		page, err := s.List(ctx, q)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		q.Offset += len(page.Records)
		if len(page.Records) == 0 || q.Offset >= page.Total {
			return nil
		}
	}
}

// Manager couples a Store with the vector index so deletes leave no orphans.
type Manager struct {
	Store
	vectors vectorstore.Storage
}

func NewManager(store Store, vectors vectorstore.Storage) *Manager {
	return &Manager{Store: store, vectors: vectors}
}

// Delete removes a meeting's chunks first and its record second. If chunk
// removal fails the record is kept, so calling Delete again is safe.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.Store.Get(ctx, id); err != nil {
		return err
	}
	if err := m.vectors.DeleteByFilter(ctx, vectorstore.Filter{MeetingID: id}); err != nil {
		log.Warnf("delete chunks of %s: %v", id, err)
		return domain.Boundary(err, "delete meeting chunks")
	}
	return m.Store.Delete(ctx, id)
}
