package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", Validationf("bad %d", 1), KindValidation},
		{"not found", NotFoundf("x"), KindNotFound},
		{"integrity", Integrityf("x"), KindIntegrity},
		{"transient", Transient(errors.New("503"), "upstream"), KindTransient},
		{"wrapped by fmt", fmt.Errorf("outer: %w", NotFoundf("x")), KindNotFound},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransient},
		{"plain", errors.New("boom"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestBoundaryKeepsKindAndCause(t *testing.T) {
	cause := Transient(errors.New("timeout"), "embed")
	err := Boundary(cause, "indexing")
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "indexing", de.Message)
	assert.Equal(t, "transient: indexing: transient: embed: timeout", err.Error())

	assert.Nil(t, Boundary(nil, "x"))
	assert.Equal(t, KindFatal, KindOf(Boundary(errors.New("disk"), "write")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation: bad input", Validationf("bad %s", "input").Error())
	assert.False(t, (&Error{Kind: KindIntegrity}).Retryable())
	assert.True(t, Wrap(KindTransient, nil, "x").(*Error).Retryable())
}

func TestSegmentValidate(t *testing.T) {
	assert.NoError(t, Segment{Start: 1, End: 2}.Validate())
	assert.NoError(t, Segment{Start: 2, End: 2}.Validate())
	assert.True(t, IsKind(Segment{Start: -1, End: 2}.Validate(), KindValidation))
	assert.True(t, IsKind(Segment{Start: 3, End: 2}.Validate(), KindValidation))
}

func TestChunkIDAndAudioFiles(t *testing.T) {
	assert.Equal(t, "20250314_093000_a1b2c3_chunk_60.0", ChunkID("20250314_093000_a1b2c3", 60))
	assert.True(t, IsAudioFile("Call.MP3"))
	assert.False(t, IsAudioFile("notes.txt"))
	assert.True(t, ValidMeetingType("workshop"))
	assert.False(t, ValidMeetingType("party"))
}
