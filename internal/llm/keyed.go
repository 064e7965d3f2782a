// Package llm holds chat model adapters and the KeyedProvider failover wrapper.
package llm

import (
	"context"
	"errors"
	"sync"

	"meetrag/internal/domain"
	"meetrag/internal/log"
)

var _ domain.LLM = (*KeyedProvider)(nil)

// KeyedProvider wraps one base provider per credential, in order, and
// switches to the next credential when a call fails with a transient error.
// Callers see a single logical LLM.
type KeyedProvider struct {
	name    string
	members []domain.LLM

	mu      sync.Mutex
	current int
}

// NewKeyedProvider builds a member for each key with build.
func NewKeyedProvider(name string, keys []string, build func(key string) (domain.LLM, error)) (*KeyedProvider, error) {
	if len(keys) == 0 {
		return nil, errors.New("no API keys configured for " + name)
	}
	p := &KeyedProvider{name: name}
	for _, key := range keys {
		m, err := build(key)
		if err != nil {
			return nil, err
		}
		p.members = append(p.members, m)
	}
	return p, nil
}

func (p *KeyedProvider) Generate(ctx context.Context, messages []domain.Message, schema *domain.Schema) (string, error) {
	p.mu.Lock()
	start := p.current
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < len(p.members); i++ {
		idx := (start + i) % len(p.members)
		out, err := p.members[idx].Generate(ctx, messages, schema)
		if err == nil {
			p.mu.Lock()
			p.current = idx
			p.mu.Unlock()
			return out, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return "", err
		}
		log.Warnf("%s key #%d failed, switching: %v", p.name, idx+1, err)
	}
	return "", lastErr
}
