package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/domain"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewRedisStore(client, Limits{}, opts...)
	require.NoError(t, err)
	return s, mr
}

func TestStores_Contract(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewInMemoryStore(Limits{}) },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}
	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			ctx := context.Background()

			_, err := s.Get(ctx, "c1")
			assert.True(t, domain.IsKind(err, domain.KindNotFound))

			require.NoError(t, s.Update(ctx, "c1", func(c *Conversation) error {
				c.SetSystem("sys")
				c.AddUser("hello")
				return nil
			}))
			conv, err := s.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, 2, conv.Len())

			// A failing update leaves the stored copy untouched.
			boom := errors.New("boom")
			err = s.Update(ctx, "c1", func(c *Conversation) error {
				c.AddUser("lost")
				return boom
			})
			assert.ErrorIs(t, err, boom)
			conv, err = s.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, 2, conv.Len())

			// Snapshots are detached from the store.
			conv.AddUser("local only")
			again, err := s.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, 2, again.Len())

			require.NoError(t, s.Delete(ctx, "c1"))
			assert.True(t, domain.IsKind(s.Delete(ctx, "c1"), domain.KindNotFound))
			assert.True(t, domain.IsKind(s.Update(ctx, "", func(*Conversation) error { return nil }), domain.KindValidation))
		})
	}
}

func TestStores_ConcurrentUpdatesAreSerialized(t *testing.T) {
	stores := map[string]Store{"memory": NewInMemoryStore(Limits{MaxHistory: 100})}
	rs, _ := newRedisStore(t)
	rs.limits = Limits{MaxHistory: 100}.withDefaults()
	stores["redis"] = rs

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.Update(ctx, "shared", func(c *Conversation) error {
						c.AddUser(fmt.Sprintf("q%d", i))
						return nil
					}))
				}()
			}
			wg.Wait()
			conv, err := s.Get(ctx, "shared")
			require.NoError(t, err)
			assert.Equal(t, 20, conv.Len(), "no update may be lost")
		})
	}
}

func TestInMemoryStore_Cleanup(t *testing.T) {
	s := NewInMemoryStore(Limits{})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	add := func(id string) {
		require.NoError(t, s.Update(ctx, id, func(c *Conversation) error {
			c.AddUser("x")
			return nil
		}))
	}

	add("old")
	now = now.Add(23 * time.Hour)
	add("fresh")
	now = now.Add(2 * time.Hour)

	assert.Equal(t, 1, s.Cleanup(DefaultIdleTTL))
	_, err := s.Get(ctx, "old")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestRedisStore_IdleTTLAndCorruptDocument(t *testing.T) {
	s, mr := newRedisStore(t, WithIdleTTL(time.Hour), WithPrefix("test:"))
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, "c", func(c *Conversation) error {
		c.AddUser("x")
		return nil
	}))
	assert.Equal(t, time.Hour, mr.TTL("test:c"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "c")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	require.NoError(t, mr.Set("test:bad", "{not json"))
	_, err = s.Get(ctx, "bad")
	assert.True(t, domain.IsKind(err, domain.KindIntegrity))
}

func TestRedisStore_ServerDownIsTransient(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	_, err := s.Get(context.Background(), "c")
	assert.True(t, domain.IsRetryable(err), "got %v", err)
}

func TestNewRedisStore_RequiresClient(t *testing.T) {
	_, err := NewRedisStore(nil, Limits{})
	assert.Error(t, err)
}
