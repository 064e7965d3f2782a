package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"meetrag/internal/domain"
)

const (
	defaultRedisPrefix = "meetrag:conversation:"
	maxTxRetries       = 5
)

// RedisStore keeps each conversation as one JSON string that expires after
// the idle TTL. Updates use optimistic transactions so several processes can
// share a server.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	idleTTL time.Duration
	limits  Limits
	locks   *keyedMutex
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithIdleTTL sets the expiry refreshed on every update.
func WithIdleTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

func NewRedisStore(client redis.UniversalClient, limits Limits, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &RedisStore{
		client:  client,
		prefix:  defaultRedisPrefix,
		idleTTL: DefaultIdleTTL,
		limits:  limits.withDefaults(),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Conversation) error) error {
	if id == "" {
		return domain.Validationf("conversation id must not be empty")
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	key := s.key(id)
	var fnErr error
	txf := func(tx *redis.Tx) error {
		conv, err := s.load(ctx, tx, key)
		if errors.Is(err, redis.Nil) {
			conv = NewConversation(s.limits)
		} else if err != nil {
			return err
		}
		if fnErr = fn(conv); fnErr != nil {
			return fnErr
		}
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.idleTTL)
			return nil
		})
		return err
	}
	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return fnErr
		}
		return redisError(err, "update conversation")
	}
	return domain.Transient(redis.TxFailedErr, "update conversation: too much contention")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) (*Conversation, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	conv := NewConversation(s.limits)
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, domain.Wrap(domain.KindIntegrity, err, "decode conversation "+key)
	}
	return conv, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.load(ctx, s.client, s.key(id))
	if errors.Is(err, redis.Nil) {
		return nil, domain.NotFoundf("conversation %s not found", id)
	}
	if err != nil {
		return nil, redisError(err, "get conversation")
	}
	return conv, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return redisError(err, "delete conversation")
	}
	if n == 0 {
		return domain.NotFoundf("conversation %s not found", id)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

// redisError keeps domain errors raised inside a transaction callback and
// treats everything else from the server as retryable.
func redisError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) || errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Transient(err, msg)
}
