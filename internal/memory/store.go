package memory

import (
	"context"
	"sync"
	"time"

	"meetrag/internal/domain"
	"meetrag/internal/log"
)

// DefaultIdleTTL is how long an untouched conversation is kept.
const DefaultIdleTTL = 24 * time.Hour

// Store owns conversations by id. Updates to one id are serialized; different
// ids proceed in parallel.
type Store interface {
	// Update loads the conversation for id, creating an empty one if needed,
	// and saves it after fn returns nil. When fn fails nothing is saved.
	Update(ctx context.Context, id string, fn func(*Conversation) error) error
	// Get returns a snapshot, or a not_found error.
	Get(ctx context.Context, id string) (*Conversation, error)
	Delete(ctx context.Context, id string) error
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is held and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		if m.refs--; m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

type storedConversation struct {
	conv     *Conversation
	lastUsed time.Time
}

// InMemoryStore keeps conversations in process memory.
type InMemoryStore struct {
	limits Limits
	locks  *keyedMutex
	now    func() time.Time

	mu    sync.RWMutex
	convs map[string]*storedConversation
}

func NewInMemoryStore(limits Limits) *InMemoryStore {
	return &InMemoryStore{
		limits: limits.withDefaults(),
		locks:  newKeyedMutex(),
		now:    time.Now,
		convs:  make(map[string]*storedConversation),
	}
}

func (s *InMemoryStore) Update(ctx context.Context, id string, fn func(*Conversation) error) error {
	if id == "" {
		return domain.Validationf("conversation id must not be empty")
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	stored, ok := s.convs[id]
	s.mu.RUnlock()
	work := NewConversation(s.limits)
	if ok {
		work = stored.conv.clone()
	}
	if err := fn(work); err != nil {
		return err
	}
	s.mu.Lock()
	s.convs[id] = &storedConversation{conv: work, lastUsed: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.convs[id]
	if !ok {
		return nil, domain.NotFoundf("conversation %s not found", id)
	}
	return stored.conv.clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return domain.NotFoundf("conversation %s not found", id)
	}
	delete(s.convs, id)
	return nil
}

// Cleanup drops conversations not updated within idle and returns how many
// were removed.
func (s *InMemoryStore) Cleanup(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, stored := range s.convs {
		if stored.lastUsed.Before(cutoff) {
			delete(s.convs, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("memory: evicted %d idle conversations", removed)
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *InMemoryStore) RunCleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(idle)
		}
	}
}
