package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/domain"
)

type scripted struct {
	reply string
	err   error
	calls int
}

func (s *scripted) Generate(context.Context, []domain.Message, *domain.Schema) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestKeyedProvider(t *testing.T) {
	transient := domain.Transient(errors.New("429 Too Many Requests"), "chat")

	tests := []struct {
		name      string
		members   []*scripted
		want      string
		wantKind  domain.Kind
		wantCalls []int
	}{
		{
			name:      "first key works",
			members:   []*scripted{{reply: "a"}, {reply: "b"}},
			want:      "a",
			wantCalls: []int{1, 0},
		},
		{
			name:      "fails over on transient",
			members:   []*scripted{{err: transient}, {reply: "b"}},
			want:      "b",
			wantCalls: []int{1, 1},
		},
		{
			name:      "validation is not retried",
			members:   []*scripted{{err: domain.Validationf("prompt too long")}, {reply: "b"}},
			wantKind:  domain.KindValidation,
			wantCalls: []int{1, 0},
		},
		{
			name:      "exhausted keys surface last cause",
			members:   []*scripted{{err: transient}, {err: transient}},
			wantKind:  domain.KindTransient,
			wantCalls: []int{1, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := make([]string, len(tt.members))
			for i := range keys {
				keys[i] = string(rune('a' + i))
			}
			i := 0
			p, err := NewKeyedProvider("test", keys, func(string) (domain.LLM, error) {
				m := tt.members[i]
				i++
				return m, nil
			})
			require.NoError(t, err)

			got, err := p.Generate(context.Background(), nil, nil)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, domain.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			for j, m := range tt.members {
				assert.Equal(t, tt.wantCalls[j], m.calls, "member %d", j)
			}
		})
	}
}

func TestKeyedProvider_StickyAfterFailover(t *testing.T) {
	a := &scripted{err: domain.Transient(errors.New("503"), "chat")}
	b := &scripted{reply: "ok"}
	members := []*scripted{a, b}
	i := 0
	p, err := NewKeyedProvider("test", []string{"a", "b"}, func(string) (domain.LLM, error) {
		m := members[i]
		i++
		return m, nil
	})
	require.NoError(t, err)
	for n := 0; n < 3; n++ {
		_, err := p.Generate(context.Background(), nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 3, b.calls)
}
