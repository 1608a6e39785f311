// Package config loads the YAML configuration for the RAG core service:
// tenant persona, retrieval/generation parameters, provider credentials and
// the ambient observability/storage backends.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Path       string `yaml:"path"`
	APIHeader  string `yaml:"api_header"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	Timeout    int    `yaml:"timeout_seconds"`
	CacheSize  int    `yaml:"cache_size"`
	MaxBatch   int    `yaml:"max_batch"`
	MaxTokens  int    `yaml:"max_tokens_per_item"`
}

// OpenAIConfig configures the OpenAI-compatible chat provider.
type OpenAIConfig struct {
	BaseURL     string         `yaml:"base_url"`
	APIKey      string         `yaml:"api_key"`
	Model       string         `yaml:"model"`
	API         string         `yaml:"api"` // "completions" (default) or "responses"
	ExtraParams map[string]any `yaml:"extra_params,omitempty"`
	LogPayloads bool           `yaml:"log_payloads"`
}

// AnthropicPromptCacheConfig controls where the Anthropic client adds
// cache_control markers.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic Messages API provider.
type AnthropicConfig struct {
	BaseURL     string                     `yaml:"base_url"`
	APIKey      string                     `yaml:"api_key"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
	ExtraParams map[string]any             `yaml:"extra_params,omitempty"`
}

// LLMClientConfig selects and configures the chat-model provider.
type LLMClientConfig struct {
	Provider  string          `yaml:"provider"` // "", "openai", "local", "anthropic"
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// DBBackendConfig names a storage backend and its DSN for one logical store.
type DBBackendConfig struct {
	Backend    string `yaml:"backend"` // "memory", "postgres", "none"
	DSN        string `yaml:"dsn"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
}

// DBConfig configures the durable storage backends.
type DBConfig struct {
	DefaultDSN string          `yaml:"default_dsn"`
	Search     DBBackendConfig `yaml:"search"` // lexical (BM25) index backend
	Vector     DBBackendConfig `yaml:"vector"`
	Chat       DBBackendConfig `yaml:"chat"`
	Jobs       DBBackendConfig `yaml:"jobs"`
}

// ObsConfig controls OpenTelemetry exporters.
type ObsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLP           string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
	LogPath        string `yaml:"log_path,omitempty"`
}

// TenantPersona carries the per-tenant generation persona named in the spec:
// industry, tone, supported languages, capabilities and constraints, plus
// whatever upstream base URLs the tenant's deployment points at.
type TenantPersona struct {
	Tenant       string   `yaml:"tenant"`
	Industry     string   `yaml:"industry"`
	BrandTone    string   `yaml:"brand_tone"`
	Languages    []string `yaml:"languages"`
	Capabilities []string `yaml:"capabilities"`
	Constraints  []string `yaml:"constraints"`
	BaseURLs     []string `yaml:"base_urls,omitempty"`
}

// RAGConfig holds the tunable RAG pipeline parameters from spec.md §6/§9.
type RAGConfig struct {
	ChunkSize             int  `yaml:"chunk_size"`
	ChunkOverlap          int  `yaml:"chunk_overlap"`
	RetrievalTopK         int  `yaml:"retrieval_top_k"`
	RerankTopK            int  `yaml:"rerank_top_k"`
	FinalTopK             int  `yaml:"final_top_k"`
	MaxRetries            int  `yaml:"max_retries"`
	EnableQueryExpansion  bool `yaml:"enable_query_expansion"`
	MemoryWindow          int  `yaml:"memory_window"`
	TurnDeadlineSeconds   int  `yaml:"turn_deadline_seconds"`
	CancelGraceSeconds    int  `yaml:"cancel_grace_seconds"`
	RRFK                  int  `yaml:"rrf_k"`
	Alpha                 float64 `yaml:"alpha"`
}

// IngestionConfig controls the ingestion worker pool and job queue.
type IngestionConfig struct {
	MaxWorkers    int    `yaml:"max_workers"`
	QueueCapacity int    `yaml:"queue_capacity"`
	UploadDir     string `yaml:"upload_dir"`
	LexicalDir    string `yaml:"lexical_index_dir"`
	VectorDir     string `yaml:"vector_index_dir"`

	QueueBackend  string   `yaml:"queue_backend"` // "memory" or "kafka"
	KafkaBrokers  []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic    string   `yaml:"kafka_topic,omitempty"`
	KafkaGroupID  string   `yaml:"kafka_group_id,omitempty"`
	DedupeBackend string   `yaml:"dedupe_backend"` // "memory" or "redis"
	RedisAddr     string   `yaml:"redis_addr,omitempty"`
	DedupeTTL     int      `yaml:"dedupe_ttl_seconds"`
}

// Config is the root configuration object loaded from YAML.
type Config struct {
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	LLMClient  LLMClientConfig `yaml:"llm_client"`
	DB         DBConfig        `yaml:"db"`
	OTel       ObsConfig       `yaml:"otel"`
	RAG        RAGConfig       `yaml:"rag"`
	Ingestion  IngestionConfig `yaml:"ingestion"`
	Tenants    []TenantPersona `yaml:"tenants"`
}

// LoadConfig reads YAML configuration from filename and applies defaults for
// anything left unset, matching the teacher's pattern of warning-and-default
// rather than failing the process on missing optional settings.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	log.Info().Str("file", filename).Msg("config loaded")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = 512
		log.Info().Msg("rag.chunk_size defaulted to 512")
	}
	if cfg.RAG.ChunkOverlap <= 0 {
		cfg.RAG.ChunkOverlap = 50
	}
	if cfg.RAG.RetrievalTopK <= 0 {
		cfg.RAG.RetrievalTopK = 40
	}
	if cfg.RAG.RerankTopK <= 0 {
		cfg.RAG.RerankTopK = 20
	}
	if cfg.RAG.FinalTopK <= 0 {
		cfg.RAG.FinalTopK = 8
	}
	if cfg.RAG.MaxRetries <= 0 {
		cfg.RAG.MaxRetries = 1
	}
	if cfg.RAG.MemoryWindow <= 0 {
		cfg.RAG.MemoryWindow = 10
	}
	if cfg.RAG.TurnDeadlineSeconds <= 0 {
		cfg.RAG.TurnDeadlineSeconds = 60
	}
	if cfg.RAG.CancelGraceSeconds <= 0 {
		cfg.RAG.CancelGraceSeconds = 5
	}
	if cfg.RAG.RRFK <= 0 {
		cfg.RAG.RRFK = 60
	}
	if cfg.RAG.Alpha <= 0 {
		cfg.RAG.Alpha = 0.5
	}
	if cfg.Ingestion.MaxWorkers <= 0 {
		cfg.Ingestion.MaxWorkers = 4
		log.Info().Msg("ingestion.max_workers defaulted to 4")
	}
	if cfg.Ingestion.QueueCapacity <= 0 {
		cfg.Ingestion.QueueCapacity = 256
	}
	if cfg.Ingestion.UploadDir == "" {
		cfg.Ingestion.UploadDir = "./data/uploads"
	}
	if cfg.Ingestion.LexicalDir == "" {
		cfg.Ingestion.LexicalDir = "./data/lexical"
	}
	if cfg.Ingestion.VectorDir == "" {
		cfg.Ingestion.VectorDir = "./data/vector"
	}
	if cfg.Ingestion.DedupeTTL <= 0 {
		cfg.Ingestion.DedupeTTL = int((24 * time.Hour).Seconds())
	}
	if cfg.Embeddings.Timeout <= 0 {
		cfg.Embeddings.Timeout = 30
	}
	if cfg.Embeddings.MaxBatch <= 0 {
		cfg.Embeddings.MaxBatch = 128
	}
	if cfg.Embeddings.MaxTokens <= 0 {
		cfg.Embeddings.MaxTokens = 8192
	}
	if cfg.Embeddings.CacheSize <= 0 {
		cfg.Embeddings.CacheSize = 4096
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "ragcore"
	}
	if cfg.OTel.LogLevel == "" {
		cfg.OTel.LogLevel = "info"
	}
}

// PersonaFor returns the persona configured for tenant, or a zero-value
// persona carrying only the tenant id when none is configured.
func (c Config) PersonaFor(tenant string) TenantPersona {
	for _, p := range c.Tenants {
		if p.Tenant == tenant {
			return p
		}
	}
	return TenantPersona{Tenant: tenant}
}
