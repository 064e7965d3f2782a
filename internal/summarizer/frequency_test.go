package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_PicksFrequentSentencesInOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "The budget review is due Friday. Weather was nice. Budget owners must send the budget numbers. Lunch is at noon"
	got, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "The budget review is due Friday. Budget owners must send the budget numbers.", got)
}

func TestSummarize_Edges(t *testing.T) {
	s := NewFrequencySummarizer()
	got, err := s.Summarize("   ", 3)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	// Fewer sentences than requested returns them all; a trailing fragment counts.
	got, err = s.Summarize("Ship it. Then celebrate", 0)
	require.NoError(t, err)
	assert.Equal(t, "Ship it. Then celebrate", got)
}

func TestKeywords(t *testing.T) {
	s := NewFrequencySummarizer()
	got := s.Keywords("Budget budget budget. Hiring hiring. Roadmap. We we we the the", 2)
	assert.Equal(t, []string{"budget", "hiring"}, got)
	assert.Empty(t, s.Keywords("a an the", 3))
}
