package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/chunker"
	"meetrag/internal/domain"
	"meetrag/internal/ingest"
	"meetrag/internal/memory"
	"meetrag/internal/rag"
	"meetrag/internal/recordstore/sqlite"
	"meetrag/internal/retrieval"
	"meetrag/internal/service"
	"meetrag/internal/testutil"
	vecmem "meetrag/internal/vectorstore/memory"
)

type harness struct {
	handler  http.Handler
	embedder *testutil.Embedder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	records, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })
	vectors := vecmem.NewStorage()
	emb := testutil.NewEmbedder()
	pipeline := ingest.New(records, vectors, chunker.NewSegmentChunker(0, 0), emb,
		ingest.NewLLMAnalyzer(testutil.StaticLLM(testutil.AnalysisJSON)),
		ingest.WithInitialBackoff(time.Millisecond))
	search := retrieval.New(emb, vectors)
	convs := memory.NewInMemoryStore(memory.Limits{})
	answerer := rag.New(search, testutil.StaticLLM("It was approved."), convs)
	svc := service.NewMeetingService(records, vectors, pipeline, search, answerer, convs)
	return &harness{handler: New(svc, WithUploadDir(t.TempDir())).Handler(), embedder: emb}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) upload(t *testing.T, name, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestIngestListGetDelete(t *testing.T) {
	h := newHarness(t)

	w := h.upload(t, "standup.txt", "Budget approved.\n\nHiring freeze lifted.", map[string]string{
		"language": "en", "meeting_type": "meeting", "title": "Standup",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ing := decode[ingestResponse](t, w)
	assert.Equal(t, domain.StatusAnalyzed, ing.Status)
	require.NotEmpty(t, ing.MeetingID)

	w = h.do(t, http.MethodGet, "/meetings?filter_type=meeting&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[listResponse](t, w)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.History, 1)
	assert.Equal(t, "Standup", list.History[0].Title)
	assert.Equal(t, "The team agreed to ship on Friday.", list.History[0].Summary)

	w = h.do(t, http.MethodGet, "/meetings/"+ing.MeetingID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[domain.MeetingRecord](t, w)
	assert.Contains(t, rec.Transcript, "Budget approved.")

	w = h.do(t, http.MethodDelete, "/meetings/"+ing.MeetingID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodGet, "/meetings/"+ing.MeetingID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, domain.KindNotFound, body.Kind)
	assert.False(t, body.Retryable)
}

func TestIngestRejectsBadUploads(t *testing.T) {
	h := newHarness(t)

	w := h.upload(t, "slides.pptx", "x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.upload(t, "notes.txt", "hello", map[string]string{"meeting_type": "party"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.KindValidation, decode[errorBody](t, w).Kind)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("not multipart"))
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIngestReportsFailedMeeting(t *testing.T) {
	h := newHarness(t)
	h.embedder.Fail = func(int, []string) error { return domain.Validationf("input rejected") }

	w := h.upload(t, "notes.txt", "Alpha.", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ingestResponse](t, w)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	assert.NotEmpty(t, resp.MeetingID)
	assert.Contains(t, resp.Reason, "indexing")
}

func TestSearchAndChat(t *testing.T) {
	h := newHarness(t)
	w := h.upload(t, "a.txt", "The budget was approved.\n\nLunch was pizza.", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, http.MethodPost, "/search", map[string]any{"query": "budget approved", "top_k": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[searchResponse](t, w)
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Snippet, "budget")

	w = h.do(t, http.MethodPost, "/search", map[string]any{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodPost, "/search", map[string]any{"query": "x", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodPost, "/search", map[string]any{"query": "budget", "top_k": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code, "explicit top_k 0 is not the default")
	assert.Contains(t, w.Body.String(), "top_k")
	w = h.do(t, http.MethodPost, "/search", map[string]any{"query": "budget"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[searchResponse](t, w).Results, "omitted top_k uses the default")

	w = h.do(t, http.MethodPost, "/search", map[string]any{"query": "budget", "filters": map[string]any{"meeting_id": "nope"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())

	w = h.do(t, http.MethodPost, "/chat", map[string]any{"conversation_id": "c1", "question": "Was the budget approved?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ans := decode[rag.Answer](t, w)
	assert.Equal(t, "c1", ans.ConversationID)
	assert.Equal(t, "It was approved.", ans.Text)
	assert.NotEmpty(t, ans.Citations)

	w = h.do(t, http.MethodGet, "/conversations/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conv struct {
		ConversationID string        `json:"conversation_id"`
		Turns          []memory.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	require.Len(t, conv.Turns, 3)
	assert.Equal(t, domain.RoleSystem, conv.Turns[0].Role)
	assert.Equal(t, "Was the budget approved?", conv.Turns[1].Content)

	w = h.do(t, http.MethodDelete, "/conversations/c1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodGet, "/conversations/c1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReindexAndHealth(t *testing.T) {
	h := newHarness(t)
	w := h.upload(t, "a.txt", "Alpha.\n\nBeta.", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/reindex", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[service.ReindexReport](t, w)
	assert.Equal(t, 1, report.Meetings)

	w = h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["meetings"])
}

func TestListRejectsBadParams(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"limit=abc", "offset=-1", "sort_by=random", "filter_type=party"} {
		w := h.do(t, http.MethodGet, "/meetings?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Validationf("x"), http.StatusBadRequest},
		{domain.NotFoundf("x"), http.StatusNotFound},
		{domain.Transient(nil, "x"), http.StatusServiceUnavailable},
		{domain.Integrityf("x"), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
