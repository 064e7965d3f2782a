package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"

	"meetrag/internal/domain"
)

func TestOpenAIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{name: "rate limit", err: &openai.Error{StatusCode: 429}, want: domain.KindTransient},
		{name: "server", err: &openai.Error{StatusCode: 503}, want: domain.KindTransient},
		{name: "bad request", err: &openai.Error{StatusCode: 400}, want: domain.KindValidation},
		{name: "unauthorized", err: &openai.Error{StatusCode: 401}, want: domain.KindTransient},
		{name: "not found", err: &openai.Error{StatusCode: 404}, want: domain.KindFatal},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: domain.KindTransient},
		{name: "other", err: errors.New("boom"), want: domain.KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.KindOf(OpenAIError(tt.err, "call")))
		})
	}
	assert.NoError(t, OpenAIError(nil, "call"))
}

func TestGeminiError(t *testing.T) {
	assert.True(t, domain.IsRetryable(GeminiError(errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), "x")))
	assert.True(t, domain.IsKind(GeminiError(errors.New("Error 400, Status: INVALID_ARGUMENT"), "x"), domain.KindValidation))
	assert.True(t, domain.IsKind(GeminiError(errors.New("weird"), "x"), domain.KindFatal))
}

func TestKeysFromEnv(t *testing.T) {
	t.Setenv("MEETRAG_TEST_KEY_A", "a")
	t.Setenv("MEETRAG_TEST_KEY_B", " ")
	t.Setenv("MEETRAG_TEST_KEY_C", "c")
	assert.Equal(t, []string{"a", "c"}, KeysFromEnv([]string{"MEETRAG_TEST_KEY_A", "MEETRAG_TEST_KEY_B", "MEETRAG_TEST_KEY_C", "MEETRAG_TEST_MISSING"}))
}
