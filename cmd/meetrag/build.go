package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"meetrag/internal/chunker"
	"meetrag/internal/config"
	"meetrag/internal/domain"
	"meetrag/internal/embedding"
	"meetrag/internal/embedding/gemini"
	"meetrag/internal/embedding/local"
	"meetrag/internal/embedding/openai"
	"meetrag/internal/ingest"
	"meetrag/internal/llm"
	geminillm "meetrag/internal/llm/gemini"
	openaillm "meetrag/internal/llm/openai"
	"meetrag/internal/log"
	"meetrag/internal/memory"
	"meetrag/internal/provider"
	"meetrag/internal/rag"
	"meetrag/internal/recordstore/sqlite"
	"meetrag/internal/retrieval"
	"meetrag/internal/service"
	openaistt "meetrag/internal/transcriber/openai"
	"meetrag/internal/vectorstore"
	vecmem "meetrag/internal/vectorstore/memory"
	"meetrag/internal/vectorstore/qdrant"
)

// app holds the assembled components and the resources to release on exit.
type app struct {
	cfg      *config.AppConfig
	svc      *service.MeetingService
	convs    memory.Store
	closers  []func() error
	chatable bool
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warnf("close: %v", err)
		}
	}
}

func build(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	emb, err := buildEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	vectors, err := buildVectorStore(cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.RecordStore.Path), 0o755); err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	records, err := sqlite.Open(cfg.RecordStore.Path)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	a.closers = append(a.closers, records.Close)

	model, err := buildLLM(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	var analyzer ingest.Analyzer = ingest.NewExtractiveAnalyzer()
	if model != nil {
		analyzer = ingest.NewLLMAnalyzer(model)
		a.chatable = true
	} else {
		log.Infof("llm.type is none: analysis is extractive and chat is disabled")
	}

	opts := []ingest.Option{
		ingest.WithMaxAttempts(cfg.Ingest.MaxAttempts),
		ingest.WithInitialBackoff(time.Duration(cfg.Ingest.InitialBackoffMS) * time.Millisecond),
		ingest.WithCallTimeout(config.Seconds(cfg.Ingest.CallTimeoutSecs)),
	}
	stt, err := buildTranscriber(cfg.Transcriber)
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	if stt != nil {
		opts = append(opts, ingest.WithTranscriber(stt))
	}
	pipeline := ingest.New(records, vectors,
		chunker.NewSegmentChunker(cfg.Chunker.TimeWindowSecs, cfg.Chunker.MaxTokens),
		emb, analyzer, opts...)

	search := retrieval.New(emb, vectors,
		retrieval.WithMaxQueryChars(cfg.Retrieval.MaxQueryChars),
		retrieval.WithSnippetChars(cfg.Retrieval.SnippetChars),
		retrieval.WithDedupeByMeeting(cfg.Retrieval.DedupeByMeeting))

	convs, err := buildConversations(cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("conversation memory: %w", err)
	}
	a.convs = convs
	if closer, isCloser := convs.(interface{ Close() error }); isCloser {
		a.closers = append(a.closers, closer.Close)
	}

	var chatModel domain.LLM = model
	if chatModel == nil {
		chatModel = disabledLLM{}
	}
	answerer := rag.New(search, chatModel, convs, rag.WithHistoryTurns(cfg.Memory.HistoryTurns))

	a.svc = service.NewMeetingService(records, vectors, pipeline, search, answerer, convs,
		service.WithReindexWorkers(cfg.Ingest.ReindexWorkers))
	ok = true
	return a, nil
}

func buildEmbedder(ctx context.Context, c config.EmbedderConfig) (domain.Embedder, error) {
	switch c.Type {
	case "local":
		return local.NewEmbedder(c.Dimension), nil
	case "openai":
		oc := c.OpenAI
		return embedding.NewKeyedEmbedder("openai", provider.KeysFromEnv(oc.APIKeyEnvs), func(key string) (domain.Embedder, error) {
			return openai.NewClient(openai.Config{
				BaseURL:   oc.BaseURL,
				APIKey:    key,
				Model:     oc.Model,
				BatchSize: oc.BatchSize,
				Timeout:   config.Seconds(oc.TimeoutSecs),
			}), nil
		})
	case "gemini":
		gc := c.Gemini
		return embedding.NewKeyedEmbedder("gemini", provider.KeysFromEnv(gc.APIKeyEnvs), func(key string) (domain.Embedder, error) {
			return gemini.New(ctx, gemini.Config{
				APIKey:     key,
				Model:      gc.Model,
				Dimensions: gc.Dimensions,
				Timeout:    config.Seconds(gc.TimeoutSecs),
			})
		})
	default:
		return nil, fmt.Errorf("unknown embedder %q", c.Type)
	}
}

// buildLLM returns nil for type "none".
func buildLLM(ctx context.Context, c config.LLMConfig) (domain.LLM, error) {
	switch c.Type {
	case "none":
		return nil, nil
	case "openai":
		oc := c.OpenAI
		return llm.NewKeyedProvider("openai", provider.KeysFromEnv(oc.APIKeyEnvs), func(key string) (domain.LLM, error) {
			return openaillm.New(openaillm.Config{
				BaseURL: oc.BaseURL,
				APIKey:  key,
				Model:   oc.Model,
				Timeout: config.Seconds(oc.TimeoutSecs),
			}), nil
		})
	case "gemini":
		gc := c.Gemini
		return llm.NewKeyedProvider("gemini", provider.KeysFromEnv(gc.APIKeyEnvs), func(key string) (domain.LLM, error) {
			return geminillm.New(ctx, geminillm.Config{
				APIKey:  key,
				Model:   gc.Model,
				Timeout: config.Seconds(gc.TimeoutSecs),
			})
		})
	default:
		return nil, fmt.Errorf("unknown llm %q", c.Type)
	}
}

// buildTranscriber returns nil for type "none"; audio ingestion then fails validation.
func buildTranscriber(c config.TranscriberConfig) (domain.Transcriber, error) {
	switch c.Type {
	case "none":
		return nil, nil
	case "openai":
		oc := c.OpenAI
		keys := provider.KeysFromEnv(oc.APIKeyEnvs)
		if len(keys) == 0 {
			return nil, fmt.Errorf("no API keys configured for openai transcription")
		}
		return openaistt.New(openaistt.Config{
			BaseURL: oc.BaseURL,
			APIKey:  keys[0],
			Model:   oc.Model,
			Timeout: config.Seconds(oc.TimeoutSecs),
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", c.Type)
	}
}

func buildVectorStore(c config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch c.Type {
	case "memory":
		return vecmem.NewStorage(), nil
	case "qdrant":
		q := c.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     os.Getenv(q.APIKeyEnv),
			Collection: q.Collection,
			Timeout:    config.Seconds(q.TimeoutSecs),
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", c.Type)
	}
}

func buildConversations(c config.MemoryConfig) (memory.Store, error) {
	limits := memory.Limits{MaxHistory: c.MaxHistory, MaxTokens: c.MaxTokens}
	idle := time.Duration(c.IdleTTLMins) * time.Minute
	switch c.Type {
	case "memory":
		return memory.NewInMemoryStore(limits), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: os.Getenv(c.Redis.PasswordEnv),
			DB:       c.Redis.DB,
		})
		return memory.NewRedisStore(client, limits, memory.WithPrefix(c.Redis.Prefix), memory.WithIdleTTL(idle))
	default:
		return nil, fmt.Errorf("unknown conversation memory %q", c.Type)
	}
}

// disabledLLM answers chat requests when no model is configured.
type disabledLLM struct{}

func (disabledLLM) Name() string { return "none" }

func (disabledLLM) Generate(context.Context, []domain.Message, *domain.Schema) (string, error) {
	return "", domain.Validationf("chat needs an LLM; set llm.type in the config")
}
