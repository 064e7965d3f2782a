package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/chunker"
	"meetrag/internal/domain"
	"meetrag/internal/ingest"
	"meetrag/internal/memory"
	"meetrag/internal/rag"
	"meetrag/internal/recordstore"
	"meetrag/internal/recordstore/sqlite"
	"meetrag/internal/retrieval"
	"meetrag/internal/testutil"
	"meetrag/internal/vectorstore"
	vecmem "meetrag/internal/vectorstore/memory"
)

type fixture struct {
	svc      *MeetingService
	records  *sqlite.Store
	vectors  *vecmem.Storage
	embedder *testutil.Embedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })
	vectors := vecmem.NewStorage()
	emb := testutil.NewEmbedder()
	llm := testutil.StaticLLM(testutil.AnalysisJSON)
	pipeline := ingest.New(records, vectors, chunker.NewSegmentChunker(0, 0), emb, ingest.NewLLMAnalyzer(llm),
		ingest.WithInitialBackoff(time.Millisecond))
	search := retrieval.New(emb, vectors)
	convs := memory.NewInMemoryStore(memory.Limits{})
	answerer := rag.New(search, testutil.StaticLLM("answer"), convs)
	return &fixture{
		svc:      NewMeetingService(records, vectors, pipeline, search, answerer, convs, WithReindexWorkers(2)),
		records:  records,
		vectors:  vectors,
		embedder: emb,
	}
}

func (f *fixture) ingestText(t *testing.T, name, body string) *domain.MeetingRecord {
	t.Helper()
	rec, err := f.svc.Ingest(context.Background(),
		ingest.Source{Kind: domain.SourceText, Name: name, Data: []byte(body)},
		ingest.Metadata{Language: "en", MeetingType: "meeting"})
	require.NoError(t, err)
	return rec
}

func TestDelete_CleansBothStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.ingestText(t, "a.txt", "Quarterly budget.\n\nHiring freeze.")
	other := f.ingestText(t, "b.txt", "Office move.\n\nNew desks.")

	require.NoError(t, f.svc.Delete(ctx, rec.ID))

	_, err := f.svc.Get(ctx, rec.ID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	page, err := f.svc.List(ctx, recordstore.ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, other.ID, page.Records[0].ID)

	res, err := f.svc.Search(ctx, retrieval.Request{Query: "budget", Filter: vectorstore.Filter{MeetingID: rec.ID}})
	require.NoError(t, err)
	assert.Empty(t, res)

	assert.True(t, domain.IsKind(f.svc.Delete(ctx, rec.ID), domain.KindNotFound))
}

func TestReindex_RestoresDeletedChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.ingestText(t, "a.txt", "The zebra migration plan.\n\nBudget is fine.\n\nShip it.")
	f.ingestText(t, "b.txt", "Unrelated notes.")

	before, err := f.vectors.Count(ctx, vectorstore.Filter{MeetingID: rec.ID})
	require.NoError(t, err)
	require.Positive(t, before)

	require.NoError(t, f.vectors.DeleteByFilter(ctx, vectorstore.Filter{MeetingID: rec.ID}))
	res, err := f.svc.Search(ctx, retrieval.Request{Query: "zebra migration", Filter: vectorstore.Filter{MeetingID: rec.ID}})
	require.NoError(t, err)
	require.Empty(t, res)

	report, err := f.svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Meetings)
	assert.Empty(t, report.Failed)

	after, err := f.vectors.Count(ctx, vectorstore.Filter{MeetingID: rec.ID})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	res, err = f.svc.Search(ctx, retrieval.Request{Query: "zebra migration"})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, rec.ID, res[0].MeetingID)

	// Running it again changes nothing.
	_, err = f.svc.Reindex(ctx)
	require.NoError(t, err)
	total, err := f.vectors.Count(ctx, vectorstore.Filter{})
	require.NoError(t, err)
	again, err := f.vectors.Count(ctx, vectorstore.Filter{MeetingID: rec.ID})
	require.NoError(t, err)
	assert.Equal(t, before, again)
	assert.Positive(t, total)
}

func TestReindex_RetriesMeetingThatFailedAtIndexing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.Fail = func(int, []string) error { return domain.Validationf("rejected") }
	rec, err := f.svc.Ingest(ctx,
		ingest.Source{Kind: domain.SourceText, Name: "a.txt", Data: []byte("The zebra migration plan.\n\nShip it.")},
		ingest.Metadata{Language: "en", MeetingType: "meeting"})
	require.Error(t, err)
	require.Equal(t, domain.StatusFailed, rec.Status)
	require.Empty(t, rec.ChunkIDs)

	f.embedder.Fail = nil
	report, err := f.svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Meetings)
	assert.Zero(t, report.Skipped)

	stored, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnalyzed, stored.Status)
	assert.NotEmpty(t, stored.ChunkIDs)
	res, err := f.svc.Search(ctx, retrieval.Request{Query: "zebra migration"})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, rec.ID, res[0].MeetingID)
}

func TestReindex_ReportsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.ingestText(t, "a.txt", "Alpha.")
	f.embedder.Fail = func(int, []string) error { return domain.Validationf("rejected") }

	report, err := f.svc.Reindex(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Contains(t, report.Failed, rec.ID)
}

func TestEnsureIndexed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureIndexed(ctx), "empty stores are fine")

	rec := f.ingestText(t, "a.txt", "Alpha.\n\nBeta.")
	require.NoError(t, f.vectors.DeleteByFilter(ctx, vectorstore.Filter{}))
	require.NoError(t, f.svc.EnsureIndexed(ctx))
	n, err := f.vectors.Count(ctx, vectorstore.Filter{MeetingID: rec.ID})
	require.NoError(t, err)
	assert.Equal(t, len(rec.ChunkIDs), n)

	health, err := f.svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, health["meetings"])
	assert.Equal(t, n, health["chunks"])
}

func TestIngestFile(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Standup\n\nAll green."), 0o644))

	rec, err := f.svc.IngestFile(context.Background(), path, ingest.Metadata{MeetingType: "meeting"})
	require.NoError(t, err)
	assert.Equal(t, "notes.md", rec.Source.OriginalFile)

	_, err = f.svc.IngestFile(context.Background(), filepath.Join(dir, "missing.txt"), ingest.Metadata{})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	_, err = f.svc.IngestFile(context.Background(), filepath.Join(dir, "x.bin"), ingest.Metadata{})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestChatAndConversationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingestText(t, "a.txt", "Budget approved.")

	ans, err := f.svc.Chat(ctx, rag.Question{Text: "Was the budget approved?", ConversationID: "c"})
	require.NoError(t, err)
	assert.Equal(t, "answer", ans.Text)
	assert.NotEmpty(t, ans.Citations)

	conv, err := f.svc.Conversation(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, conv.Len())

	require.NoError(t, f.svc.DeleteConversation(ctx, "c"))
	_, err = f.svc.Conversation(ctx, "c")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
