package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LLMConfig configures a generative model backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"required,oneof=ollama openrouter openai"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`

	// StripThinking drops <think> blocks from replies instead of returning
	// them verbatim.
	StripThinking bool `yaml:"strip_thinking"`
}

// EmbedConfig configures the embedding backend. Dimension must match the model.
type EmbedConfig struct {
	Provider  string `yaml:"provider" validate:"required,oneof=ollama openrouter openai"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model" validate:"required"`
	Dimension int    `yaml:"dimension" validate:"gt=0"`
	BatchSize int    `yaml:"batch_size" validate:"gt=0"`
}

// RetryConfig bounds every remote call.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int    `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	Splitter     string `yaml:"splitter" validate:"oneof=window whitespace recursive"`
	IndexName    string `yaml:"index_name" validate:"required"`
	Metric       string `yaml:"metric" validate:"oneof=cosine euclidean dotproduct"`
	TopK         int    `yaml:"top_k" validate:"gt=0"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type QdrantConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type VectorStoreConfig struct {
	Type    string        `yaml:"type" validate:"oneof=chromem pgvector qdrant"`
	Chromem ChromemConfig `yaml:"chromem"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=pgdriver pq"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type LoaderConfig struct {
	MaxDocuments int           `yaml:"max_documents" validate:"gte=0"`
	MaxFileBytes int64         `yaml:"max_file_bytes" validate:"gte=0"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

type AgentConfig struct {
	MaxRows int `yaml:"max_rows" validate:"gt=0"`
}

type QuizConfig struct {
	ChunkSize       int     `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap    int     `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	MaxInputTokens  int     `yaml:"max_input_tokens" validate:"gt=0"`
	MaxChunks       int     `yaml:"max_chunks" validate:"gte=0"`
	TokenizerModel  string  `yaml:"tokenizer_model"`
	Topic           string  `yaml:"topic"`
	Difficulty      int     `yaml:"difficulty" validate:"gte=1,lte=5"`
	RateSleepSecond float64 `yaml:"rate_sleep_seconds" validate:"gte=0"`
}

type HistoryConfig struct {
	MaxTurns int `yaml:"max_turns" validate:"gt=0"`
}

type ClassifierConfig struct {
	ModelPath    string   `yaml:"model_path"`
	BoardPath    string   `yaml:"board_path"`
	IndexName    string   `yaml:"index_name"`
	Departments  []string `yaml:"departments"`
	TestFraction float64  `yaml:"test_fraction" validate:"gte=0,lt=1"`
}

type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	BodyLimit  int           `yaml:"body_limit" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	File  string `yaml:"file"`
}

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	EmbedLLM    EmbedConfig       `yaml:"embedding"`
	Retry       RetryConfig       `yaml:"retry"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Loader      LoaderConfig      `yaml:"loader"`
	Agent       AgentConfig       `yaml:"agent"`
	Quiz        QuizConfig        `yaml:"quiz"`
	History     HistoryConfig     `yaml:"history"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
		},
		EmbedLLM: EmbedConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "all-minilm",
			Dimension: 384,
			BatchSize: 32,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			AttemptTimeout:  60 * time.Second,
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 50,
			Splitter:     "window",
			IndexName:    "tickets",
			Metric:       "cosine",
			TopK:         2,
		},
		VectorStore: VectorStoreConfig{
			Type:    "chromem",
			Chromem: ChromemConfig{Path: "./chromemdb"},
			Qdrant:  QdrantConfig{URL: "http://localhost:6333", Timeout: 15 * time.Second},
		},
		Database: DatabaseConfig{Driver: "pgdriver"},
		Loader: LoaderConfig{
			MaxDocuments: 5,
			MaxFileBytes: 20 << 20,
			HTTPTimeout:  30 * time.Second,
		},
		Agent: AgentConfig{MaxRows: 5000},
		Quiz: QuizConfig{
			ChunkSize:       600,
			ChunkOverlap:    50,
			MaxInputTokens:  8000,
			TokenizerModel:  "gpt-4",
			Topic:           "Chapter 1",
			Difficulty:      3,
			RateSleepSecond: 0.5,
		},
		History: HistoryConfig{MaxTurns: 50},
		Classifier: ClassifierConfig{
			ModelPath:    "./classifier.json",
			BoardPath:    "./tickets.json",
			IndexName:    "tickets",
			Departments:  []string{"HR", "IT", "Transport"},
			TestFraction: 0.25,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			SessionTTL: time.Hour,
			BodyLimit:  25 << 20,
		},
		Log: LogConfig{Level: "debug"},
	}
}

// LoadConfig reads path over the defaults, applies secrets from the
// environment and validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg, os.Getenv)
	applyConfigDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.VectorStore.Type == "chromem" && c.RAG.Metric != "cosine" {
		return fmt.Errorf("invalid config: chromem vector store only supports the cosine metric")
	}
	return nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	keyFor := func(provider string) string {
		switch provider {
		case "openai":
			return getenv("OPENAI_API_KEY")
		case "openrouter":
			return getenv("OPENROUTER_API_KEY")
		}
		return ""
	}
	if cfg.LLM.Key == "" {
		cfg.LLM.Key = keyFor(cfg.LLM.Provider)
	}
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = keyFor(cfg.EmbedLLM.Provider)
	}
	if v := getenv("QDRANT_API_KEY"); v != "" && cfg.VectorStore.Qdrant.APIKey == "" {
		cfg.VectorStore.Qdrant.APIKey = v
	}
	if v := getenv("DATABASE_URL"); v != "" && cfg.Database.DSN == "" {
		cfg.Database.DSN = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func applyConfigDefaults(cfg *Config) {
	if cfg.LLM.Provider == "openrouter" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.EmbedLLM.Provider == "openrouter" && cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Provider == "ollama" && cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 30 * time.Second
	}
	if cfg.Quiz.TokenizerModel == "" {
		cfg.Quiz.TokenizerModel = cfg.LLM.Model
	}
}
