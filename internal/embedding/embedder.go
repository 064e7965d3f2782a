// Package embedding holds embedder adapters and the credential failover
// wrapper shared by the hosted ones.
package embedding

import (
	"context"
	"errors"
	"sync"

	"meetrag/internal/domain"
	"meetrag/internal/log"
)

var _ domain.Embedder = (*KeyedEmbedder)(nil)

// KeyedEmbedder presents several credentialed embedders as one. It sticks to
// the current member and moves to the next one on a transient error.
type KeyedEmbedder struct {
	name    string
	members []domain.Embedder

	mu      sync.Mutex
	current int
}

// NewKeyedEmbedder builds one member per key, in order.
func NewKeyedEmbedder(name string, keys []string, build func(key string) (domain.Embedder, error)) (*KeyedEmbedder, error) {
	if len(keys) == 0 {
		return nil, errors.New("no API keys configured for " + name)
	}
	k := &KeyedEmbedder{name: name}
	for _, key := range keys {
		e, err := build(key)
		if err != nil {
			return nil, err
		}
		k.members = append(k.members, e)
	}
	return k, nil
}

func (k *KeyedEmbedder) Name() string { return k.name }

func (k *KeyedEmbedder) Dimension() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.members[k.current].Dimension()
}

func (k *KeyedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	k.mu.Lock()
	start := k.current
	k.mu.Unlock()

	var lastErr error
	for i := 0; i < len(k.members); i++ {
		idx := (start + i) % len(k.members)
		vecs, err := k.members[idx].Embed(ctx, texts)
		if err == nil {
			k.mu.Lock()
			k.current = idx
			k.mu.Unlock()
			return vecs, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Warnf("%s embedder key #%d failed, trying next: %v", k.name, idx+1, err)
	}
	return nil, lastErr
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e domain.Embedder, text string) ([]float64, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, domain.Integrityf("embedder %s returned %d vectors for 1 text", e.Name(), len(vecs))
	}
	return vecs[0], nil
}
