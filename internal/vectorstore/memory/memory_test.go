package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/domain"
	"meetrag/internal/vectorstore"
)

func entry(meetingID string, start float64, vec []float64, speakers ...string) vectorstore.Entry {
	return vectorstore.Entry{
		Chunk: domain.Chunk{
			ChunkID:   domain.ChunkID(meetingID, start),
			MeetingID: meetingID,
			Text:      fmt.Sprintf("chunk at %.0f", start),
			StartTime: start,
			EndTime:   start + 10,
			Speakers:  speakers,
		},
		MeetingType: domain.MeetingTypeMeeting,
		Language:    "en",
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Vector:      vec,
	}
}

func TestStorage_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	e := entry("m1", 0, []float64{1, 0})
	require.NoError(t, s.Upsert(ctx, []vectorstore.Entry{e}))
	require.NoError(t, s.Upsert(ctx, []vectorstore.Entry{e}))

	n, err := s.Count(ctx, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStorage_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	err := s.Upsert(ctx, []vectorstore.Entry{entry("m1", 0, []float64{1, 0, 0})})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindIntegrity))
}

func TestStorage_SearchOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Upsert(ctx, []vectorstore.Entry{
		entry("m1", 0, []float64{1, 0}, "SPEAKER_00"),
		entry("m1", 10, []float64{0.7, 0.7}, "SPEAKER_01"),
		entry("m2", 0, []float64{0, 1}),
	}))

	hits, err := s.Search(ctx, vectorstore.Query{Vector: []float64{1, 0}, TopK: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "m1_chunk_0.0", hits[0].Entry.Chunk.ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "m1_chunk_10.0", hits[1].Entry.Chunk.ChunkID)
	assert.Equal(t, 0.0, hits[2].Score)
	assert.Nil(t, hits[0].Entry.Vector)

	hits, err = s.Search(ctx, vectorstore.Query{
		Vector: []float64{1, 0},
		TopK:   5,
		Filter: vectorstore.Filter{Speaker: "SPEAKER_01"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1_chunk_10.0", hits[0].Entry.Chunk.ChunkID)
}

func TestStorage_SearchTopKBounds(t *testing.T) {
	s := NewStorage()
	for _, k := range []int{0, 51} {
		_, err := s.Search(context.Background(), vectorstore.Query{Vector: []float64{1}, TopK: k})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	}
}

func TestStorage_SearchMonotonicInTopK(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	var entries []vectorstore.Entry
	for i := 0; i < 20; i++ {
		// Pairs of equal vectors exercise the tie-breaker.
		entries = append(entries, entry("m", float64(i), []float64{float64(i / 2), 1}))
	}
	require.NoError(t, s.Upsert(ctx, entries))

	prev := []string{}
	for k := 1; k <= 20; k++ {
		hits, err := s.Search(ctx, vectorstore.Query{Vector: []float64{1, 1}, TopK: k})
		require.NoError(t, err)
		var ids []string
		for _, h := range hits {
			ids = append(ids, h.Entry.Chunk.ChunkID)
		}
		assert.Equal(t, prev, ids[:len(prev)])
		prev = ids
	}
}

func TestStorage_DeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Upsert(ctx, []vectorstore.Entry{
		entry("m1", 0, []float64{1, 0}),
		entry("m1", 10, []float64{1, 0}),
		entry("m2", 0, []float64{1, 0}),
	}))
	require.NoError(t, s.DeleteByFilter(ctx, vectorstore.Filter{MeetingID: "m1"}))

	n, err := s.Count(ctx, vectorstore.Filter{MeetingID: "m1"})
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := s.Search(ctx, vectorstore.Query{Vector: []float64{1, 0}, TopK: 5, Filter: vectorstore.Filter{MeetingID: "m1"}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err = s.Count(ctx, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStorage_TiesPreferNewerMeetingThenChunkID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	older := entry("a_old", 0, []float64{1, 0})
	newer1 := entry("z_new", 5, []float64{1, 0})
	newer2 := entry("z_new", 30, []float64{1, 0})
	newer1.CreatedAt = older.CreatedAt.Add(24 * time.Hour)
	newer2.CreatedAt = newer1.CreatedAt
	require.NoError(t, s.Upsert(ctx, []vectorstore.Entry{older, newer1, newer2}))

	hits, err := s.Search(ctx, vectorstore.Query{Vector: []float64{1, 0}, TopK: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, hits[0].Score, h.Score)
	}
	ids := []string{hits[0].Entry.Chunk.ChunkID, hits[1].Entry.Chunk.ChunkID, hits[2].Entry.Chunk.ChunkID}
	// created_at descending first, so the newer meeting wins despite sorting later by id;
	// within it chunk ids are compared as strings.
	assert.Equal(t, []string{"z_new_chunk_30.0", "z_new_chunk_5.0", "a_old_chunk_0.0"}, ids)
}
