// Package ingest turns an uploaded recording or document into a durable,
// searchable meeting: transcript, analysis, record and indexed chunks.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"meetrag/internal/chunker"
	"meetrag/internal/domain"
	"meetrag/internal/embedding"
	"meetrag/internal/ingest/textingest"
	"meetrag/internal/log"
	"meetrag/internal/recordstore"
	"meetrag/internal/vectorstore"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultCallTimeout    = 2 * time.Minute
)

// Source is one raw input. Audio is read from Path; text from Data.
type Source struct {
	Kind domain.SourceKind
	Name string
	Path string
	Data []byte
}

// Metadata is supplied by the uploader alongside a Source.
type Metadata struct {
	Language    string
	MeetingType string
	Title       string
	OutputLang  string
}

// Pipeline runs ingestion against the two stores. It is safe for concurrent use
// across different meetings.
type Pipeline struct {
	records     recordstore.Store
	vectors     vectorstore.Storage
	chunker     domain.Chunker
	embedder    domain.Embedder
	analyzer    Analyzer
	transcriber domain.Transcriber

	maxAttempts    int
	initialBackoff time.Duration
	callTimeout    time.Duration
	now            func() time.Time
	idSuffix       func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTranscriber enables audio sources.
func WithTranscriber(t domain.Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithMaxAttempts bounds the tries of each external call, including the first.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the first retry delay; later delays grow exponentially.
func WithInitialBackoff(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.initialBackoff = d
		}
	}
}

// WithCallTimeout bounds each external call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDSuffix replaces the random six hex digits ending each meeting id.
func WithIDSuffix(fn func() string) Option {
	return func(p *Pipeline) { p.idSuffix = fn }
}

func New(records recordstore.Store, vectors vectorstore.Storage, ch domain.Chunker, embedder domain.Embedder, analyzer Analyzer, opts ...Option) *Pipeline {
	p := &Pipeline{
		records:        records,
		vectors:        vectors,
		chunker:        ch,
		embedder:       embedder,
		analyzer:       analyzer,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		callTimeout:    DefaultCallTimeout,
		now:            time.Now,
		idSuffix:       randomSuffix,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// Ingest processes one source. The returned record reflects what was persisted
// even when err is non-nil, so callers can report a failed meeting's id.
//
// Re-ingesting identical input with identical metadata converges on the same
// meeting: an analyzed match is returned untouched and a pending or failed one
// is rebuilt under its original id.
func (p *Pipeline) Ingest(ctx context.Context, src Source, meta Metadata) (*domain.MeetingRecord, error) {
	if err := validateSource(src); err != nil {
		return nil, err
	}
	fingerprint, err := p.fingerprint(src, meta)
	if err != nil {
		return nil, err
	}
	prior, err := p.records.FindByFingerprint(ctx, fingerprint)
	switch {
	case err == nil && prior.Status == domain.StatusAnalyzed:
		log.Infof("ingest %s: already analyzed as %s", src.Name, prior.ID)
		return prior, nil
	case err != nil && !domain.IsKind(err, domain.KindNotFound):
		return nil, domain.Boundary(err, "look up prior ingestion")
	}

	segments, err := p.segments(ctx, src, meta.Language)
	if err != nil {
		return nil, err
	}
	meetingType, err := resolveMeetingType(meta.MeetingType, chunker.FormatTranscript(segments))
	if err != nil {
		return nil, err
	}

	rec := &domain.MeetingRecord{
		Source:      domain.Source{Kind: src.Kind, OriginalFile: filepath.Base(src.Name)},
		Language:    meta.Language,
		MeetingType: meetingType,
		Title:       meta.Title,
		Transcript:  chunker.FormatTranscript(segments),
		Segments:    segments,
		ChunkIDs:    []string{},
		Status:      domain.StatusPending,
		Fingerprint: fingerprint,
	}
	if prior != nil {
		rec.ID, rec.CreatedAt = prior.ID, prior.CreatedAt
		if err := p.vectors.DeleteByFilter(ctx, vectorstore.Filter{MeetingID: rec.ID}); err != nil {
			return nil, domain.Boundary(err, "clear stale chunks")
		}
	} else {
		rec.CreatedAt = p.now().UTC()
		if rec.ID, err = p.allocateID(ctx, rec.CreatedAt); err != nil {
			return nil, err
		}
	}
	if err := p.records.Put(ctx, rec); err != nil {
		return nil, domain.Boundary(err, "persist pending meeting")
	}
	log.Infof("ingest %s: meeting %s pending (%d segments, type %s)", src.Name, rec.ID, len(segments), meetingType)

	chunks, err := p.chunker.Chunk(rec.ID, segments)
	if err != nil {
		return p.fail(ctx, rec, "chunking", err)
	}

	var analysisErr error
	in := AnalysisInput{
		Transcript:  rec.Transcript,
		Segments:    segments,
		MeetingType: meetingType,
		Language:    meta.Language,
		OutputLang:  meta.OutputLang,
	}
	if err := p.retry(ctx, func(ctx context.Context) error {
		a, err := p.analyzer.Analyze(ctx, in)
		rec.Analysis = a
		return err
	}); err != nil {
		analysisErr = err
		rec.Analysis = normalizeAnalysis(domain.Analysis{})
	}

	indexed, indexErr := p.index(ctx, rec, chunks)
	rec.ChunkIDs = indexed

	switch {
	case analysisErr != nil:
		return p.fail(ctx, rec, "analysis", analysisErr)
	case indexErr != nil:
		return p.fail(ctx, rec, "indexing", indexErr)
	}
	rec.Status = domain.StatusAnalyzed
	rec.FailureReason = ""
	if err := p.records.Put(ctx, rec); err != nil {
		return rec, domain.Boundary(err, "persist analyzed meeting")
	}
	log.Infof("ingest %s: meeting %s analyzed with %d chunks", src.Name, rec.ID, len(indexed))
	return rec, nil
}

// Reindex re-embeds the chunks listed on rec from its stored segments. It
// never re-runs analysis. Analyzed records are left unchanged. A failed
// record gets every chunk its segments produce, its ChunkIDs are rewritten to
// what was indexed, and a record that failed only at indexing is promoted to
// analyzed once all of its chunks are in.
func (p *Pipeline) Reindex(ctx context.Context, rec *domain.MeetingRecord) (int, error) {
	if err := p.vectors.DeleteByFilter(ctx, vectorstore.Filter{MeetingID: rec.ID}); err != nil {
		return 0, domain.Boundary(err, "clear chunks")
	}
	chunks, err := p.chunker.Chunk(rec.ID, rec.Segments)
	if err != nil {
		return 0, domain.Boundary(err, "rechunk")
	}
	if rec.Status == domain.StatusFailed {
		return p.heal(ctx, rec, chunks)
	}
	want := make(map[string]bool, len(rec.ChunkIDs))
	for _, id := range rec.ChunkIDs {
		want[id] = true
	}
	keep := chunks[:0]
	for _, c := range chunks {
		if want[c.ChunkID] {
			keep = append(keep, c)
		}
	}
	if len(keep) != len(want) {
		log.Warnf("reindex %s: record lists %d chunks but segments rebuild %d of them", rec.ID, len(want), len(keep))
	}
	indexed, err := p.index(ctx, rec, keep)
	return len(indexed), err
}

// heal indexes all chunks of a failed meeting and persists the outcome.
func (p *Pipeline) heal(ctx context.Context, rec *domain.MeetingRecord, chunks []domain.Chunk) (int, error) {
	indexed, indexErr := p.index(ctx, rec, chunks)
	rec.ChunkIDs = indexed
	if indexErr == nil && strings.HasPrefix(rec.FailureReason, "indexing:") {
		rec.Status = domain.StatusAnalyzed
		rec.FailureReason = ""
	}
	if err := p.records.Put(ctx, rec); err != nil {
		return len(indexed), errors.Join(indexErr, domain.Boundary(err, "persist reindexed meeting"))
	}
	if rec.Status == domain.StatusAnalyzed {
		log.Infof("reindex %s: recovered with %d chunks", rec.ID, len(indexed))
	}
	return len(indexed), indexErr
}

func (p *Pipeline) fail(ctx context.Context, rec *domain.MeetingRecord, stage string, cause error) (*domain.MeetingRecord, error) {
	rec.Status = domain.StatusFailed
	rec.FailureReason = fmt.Sprintf("%s: %v", stage, cause)
	log.Warnf("ingest: meeting %s failed at %s: %v", rec.ID, stage, cause)
	if err := p.records.Put(ctx, rec); err != nil {
		return rec, errors.Join(domain.Boundary(cause, stage), domain.Boundary(err, "persist failed meeting"))
	}
	return rec, domain.Boundary(cause, stage)
}

// index embeds and upserts chunks one by one. Chunks that fail with a
// retryable error are retried together, up to the attempt limit. It returns
// the ids that made it into the vector store, in chunk order.
func (p *Pipeline) index(ctx context.Context, rec *domain.MeetingRecord, chunks []domain.Chunk) ([]string, error) {
	done := make(map[string]bool, len(chunks))
	err := p.retry(ctx, func(ctx context.Context) error {
		var failed []error
		for _, c := range chunks {
			if done[c.ChunkID] {
				continue
			}
			if err := p.indexChunk(ctx, rec, c); err != nil {
				if !domain.IsRetryable(err) {
					return err
				}
				failed = append(failed, fmt.Errorf("chunk %s: %w", c.ChunkID, err))
				continue
			}
			done[c.ChunkID] = true
		}
		if len(failed) > 0 {
			log.Warnf("index %s: %d of %d chunks failed", rec.ID, len(failed), len(chunks))
			return domain.Transient(errors.Join(failed...), fmt.Sprintf("%d chunks not indexed", len(failed)))
		}
		return nil
	})
	ids := make([]string, 0, len(done))
	for _, c := range chunks {
		if done[c.ChunkID] {
			ids = append(ids, c.ChunkID)
		}
	}
	return ids, err
}

func (p *Pipeline) indexChunk(ctx context.Context, rec *domain.MeetingRecord, c domain.Chunk) error {
	vec, err := embedding.EmbedOne(ctx, p.embedder, c.Text)
	if err != nil {
		return err
	}
	return p.vectors.Upsert(ctx, []vectorstore.Entry{{
		Chunk:        c,
		MeetingType:  rec.MeetingType,
		Language:     rec.Language,
		CreatedAt:    rec.CreatedAt,
		Title:        rec.Title,
		OriginalFile: rec.Source.OriginalFile,
		Vector:       vec,
	}})
}

// retry runs op with a per-call timeout, backing off exponentially between
// retryable failures. Any other error stops immediately.
func (p *Pipeline) retry(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		err := op(callCtx)
		if err != nil && !domain.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.maxAttempts)))
	return err
}

func (p *Pipeline) segments(ctx context.Context, src Source, language string) ([]domain.Segment, error) {
	var segs []domain.Segment
	switch src.Kind {
	case domain.SourceAudio:
		if p.transcriber == nil {
			return nil, domain.Validationf("audio ingestion is not configured")
		}
		err := p.retry(ctx, func(ctx context.Context) error {
			var err error
			segs, err = p.transcriber.Transcribe(ctx, src.Path, language)
			return err
		})
		if err != nil {
			return nil, domain.Boundary(err, "transcribe")
		}
	default:
		var err error
		if segs, err = textingest.Segments(src.Name, src.Data); err != nil {
			return nil, err
		}
	}
	kept := segs[:0]
	for _, s := range segs {
		if strings.TrimSpace(s.Text) != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, domain.Validationf("%s contains no speech or text", src.Name)
	}
	return kept, nil
}

func (p *Pipeline) allocateID(ctx context.Context, created time.Time) (string, error) {
	prefix := created.Format("20060102_150405")
	for range 5 {
		id := prefix + "_" + p.idSuffix()
		_, err := p.records.Get(ctx, id)
		if domain.IsKind(err, domain.KindNotFound) {
			return id, nil
		}
		if err != nil {
			return "", domain.Boundary(err, "allocate meeting id")
		}
	}
	return "", domain.Integrityf("could not allocate a unique meeting id for %s", prefix)
}

// fingerprint hashes the content with the metadata that changes the outcome.
func (p *Pipeline) fingerprint(src Source, meta Metadata) (string, error) {
	h := sha1.New()
	if src.Kind == domain.SourceAudio {
		f, err := os.Open(src.Path)
		if err != nil {
			return "", domain.Wrap(domain.KindValidation, err, "open audio")
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("hash audio: %w", err)
		}
	} else {
		h.Write(src.Data)
	}
	for _, part := range []string{filepath.Base(src.Name), meta.Language, strings.ToLower(meta.MeetingType), meta.OutputLang} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func validateSource(src Source) error {
	if strings.TrimSpace(src.Name) == "" {
		return domain.Validationf("source has no file name")
	}
	switch src.Kind {
	case domain.SourceAudio:
		if !domain.IsAudioFile(src.Name) {
			return domain.Validationf("unsupported audio format %q", filepath.Ext(src.Name))
		}
		if src.Path == "" {
			return domain.Validationf("audio source has no path")
		}
	case domain.SourceText:
		if !textingest.IsSupported(src.Name) {
			return domain.Validationf("unsupported document format %q", filepath.Ext(src.Name))
		}
		if len(src.Data) == 0 {
			return domain.Validationf("%s is empty", src.Name)
		}
	default:
		return domain.Validationf("unknown source kind %q", src.Kind)
	}
	return nil
}

// SourceFor classifies a file by extension.
func SourceFor(name string) (domain.SourceKind, error) {
	switch {
	case domain.IsAudioFile(name):
		return domain.SourceAudio, nil
	case textingest.IsSupported(name):
		return domain.SourceText, nil
	default:
		return "", domain.Validationf("unsupported file type %q", filepath.Ext(name))
	}
}
