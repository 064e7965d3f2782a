package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds connection details for an OpenAI-compatible endpoint.
// Keys are read from the environment variables listed in APIKeyEnvs, tried
// in order.
type OpenAIConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnvs  []string `yaml:"api_key_envs"`
	Model       string   `yaml:"model"`
	TimeoutSecs int      `yaml:"timeout_secs"`
	BatchSize   int      `yaml:"batch_size,omitempty"`
}

// GeminiConfig holds connection details for the Gemini API.
type GeminiConfig struct {
	APIKeyEnvs  []string `yaml:"api_key_envs"`
	Model       string   `yaml:"model"`
	Dimensions  int      `yaml:"dimensions,omitempty"`
	TimeoutSecs int      `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string        `yaml:"type"`
	Dimension int           `yaml:"dimension,omitempty"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
	Gemini    *GeminiConfig `yaml:"gemini,omitempty"`
}

// LLMConfig selects the model used for analysis and chat. Type "none" keeps
// everything offline: analysis becomes extractive and chat is disabled.
type LLMConfig struct {
	Type   string        `yaml:"type"`
	OpenAI *OpenAIConfig `yaml:"openai,omitempty"`
	Gemini *GeminiConfig `yaml:"gemini,omitempty"`
}

// TranscriberConfig selects the speech-to-text backend.
type TranscriberConfig struct {
	Type   string        `yaml:"type"`
	OpenAI *OpenAIConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how transcripts are split into chunks.
type ChunkerConfig struct {
	TimeWindowSecs float64 `yaml:"time_window_secs"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RecordStoreConfig locates the SQLite meeting database.
type RecordStoreConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains connection details for the Redis conversation store.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	Type         string       `yaml:"type"`
	MaxHistory   int          `yaml:"max_history"`
	MaxTokens    int          `yaml:"max_tokens"`
	HistoryTurns int          `yaml:"history_turns"`
	IdleTTLMins  int          `yaml:"idle_ttl_mins"`
	Redis        *RedisConfig `yaml:"redis,omitempty"`
}

// RetrievalConfig tunes search.
type RetrievalConfig struct {
	MaxQueryChars   int  `yaml:"max_query_chars"`
	SnippetChars    int  `yaml:"snippet_chars"`
	DedupeByMeeting bool `yaml:"dedupe_by_meeting"`
}

// IngestConfig tunes retries of external calls during ingestion.
type IngestConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	CallTimeoutSecs  int `yaml:"call_timeout_secs"`
	ReindexWorkers   int `yaml:"reindex_workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
	UploadDir      string   `yaml:"upload_dir"`
	RequestTimeout int      `yaml:"request_timeout_secs"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	LLM         LLMConfig         `yaml:"llm"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	RecordStore RecordStoreConfig `yaml:"record_store"`
	Memory      MemoryConfig      `yaml:"memory"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/meetrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/meetrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DataDir is where the SQLite database and uploads live by default.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meetrag"
	}
	return filepath.Join(home, ".local", "share", "meetrag")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "meetrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "local"},
		LLM:         LLMConfig{Type: "none"},
		Transcriber: TranscriberConfig{Type: "none"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Memory:      MemoryConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "local"
	}
	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "none"
	}
	if cfg.Transcriber.Type == "" {
		cfg.Transcriber.Type = "none"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.Memory.Type == "" {
		cfg.Memory.Type = "memory"
	}

	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small", 30)
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.Embedder.Type == "gemini" {
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiConfig{}
		}
		geminiDefaults(cfg.Embedder.Gemini, "gemini-embedding-001", 30)
		if cfg.Embedder.Gemini.Dimensions == 0 {
			cfg.Embedder.Gemini.Dimensions = 768
		}
	}
	if cfg.LLM.Type == "openai" {
		if cfg.LLM.OpenAI == nil {
			cfg.LLM.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.LLM.OpenAI, "gpt-4o-mini", 120)
	}
	if cfg.LLM.Type == "gemini" {
		if cfg.LLM.Gemini == nil {
			cfg.LLM.Gemini = &GeminiConfig{}
		}
		geminiDefaults(cfg.LLM.Gemini, "gemini-2.0-flash", 120)
	}
	if cfg.Transcriber.Type == "openai" {
		if cfg.Transcriber.OpenAI == nil {
			cfg.Transcriber.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Transcriber.OpenAI, "whisper-1", 600)
	}

	if cfg.Chunker.TimeWindowSecs == 0 {
		cfg.Chunker.TimeWindowSecs = 60
	}
	if cfg.Chunker.MaxTokens == 0 {
		cfg.Chunker.MaxTokens = 512
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.APIKeyEnv == "" {
			q.APIKeyEnv = "QDRANT_API_KEY"
		}
		if q.Collection == "" {
			q.Collection = "meeting_chunks"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if cfg.RecordStore.Path == "" {
		cfg.RecordStore.Path = filepath.Join(DataDir(), "meetings.db")
	}

	if cfg.Memory.MaxHistory == 0 {
		cfg.Memory.MaxHistory = 10
	}
	if cfg.Memory.MaxTokens == 0 {
		cfg.Memory.MaxTokens = 4000
	}
	if cfg.Memory.HistoryTurns == 0 {
		cfg.Memory.HistoryTurns = 6
	}
	if cfg.Memory.IdleTTLMins == 0 {
		cfg.Memory.IdleTTLMins = 24 * 60
	}
	if cfg.Memory.Type == "redis" {
		if cfg.Memory.Redis == nil {
			cfg.Memory.Redis = &RedisConfig{}
		}
		if cfg.Memory.Redis.Addr == "" {
			cfg.Memory.Redis.Addr = "localhost:6379"
		}
		if cfg.Memory.Redis.PasswordEnv == "" {
			cfg.Memory.Redis.PasswordEnv = "REDIS_PASSWORD"
		}
		if cfg.Memory.Redis.Prefix == "" {
			cfg.Memory.Redis.Prefix = "meetrag:conversation:"
		}
	}

	if cfg.Retrieval.MaxQueryChars == 0 {
		cfg.Retrieval.MaxQueryChars = 4000
	}
	if cfg.Retrieval.SnippetChars == 0 {
		cfg.Retrieval.SnippetChars = 400
	}
	if cfg.Ingest.MaxAttempts == 0 {
		cfg.Ingest.MaxAttempts = 3
	}
	if cfg.Ingest.InitialBackoffMS == 0 {
		cfg.Ingest.InitialBackoffMS = 500
	}
	if cfg.Ingest.CallTimeoutSecs == 0 {
		cfg.Ingest.CallTimeoutSecs = 120
	}
	if cfg.Ingest.ReindexWorkers == 0 {
		cfg.Ingest.ReindexWorkers = 4
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 200
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = filepath.Join(DataDir(), "uploads")
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func openAIDefaults(c *OpenAIConfig, model string, timeoutSecs int) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if len(c.APIKeyEnvs) == 0 {
		c.APIKeyEnvs = []string{"OPENAI_API_KEY"}
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = timeoutSecs
	}
}

func geminiDefaults(c *GeminiConfig, model string, timeoutSecs int) {
	if len(c.APIKeyEnvs) == 0 {
		c.APIKeyEnvs = []string{"GEMINI_API_KEY"}
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = timeoutSecs
	}
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }
