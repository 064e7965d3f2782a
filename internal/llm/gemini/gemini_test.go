package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"

	"meetrag/internal/domain"
)

func TestConvertMessages(t *testing.T) {
	system, contents := convertMessages([]domain.Message{
		{Role: domain.RoleSystem, Content: "persona"},
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleAssistant, Content: "a"},
		{Role: domain.RoleFunction, Name: "search", Content: "hits"},
	})
	assert.Equal(t, []string{"persona"}, system)
	if assert.Len(t, contents, 3) {
		assert.Equal(t, string(genai.RoleUser), contents[0].Role)
		assert.Equal(t, string(genai.RoleModel), contents[1].Role)
		assert.Equal(t, "[search result]\nhits", contents[2].Parts[0].Text)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
