// Package config loads the gateway's settings from environment variables and
// a YAML defaults file, the same two-layer shape used throughout this
// codebase: env vars always win, YAML supplies defaults for anything unset.
package config

// Config is the root configuration tree for the gateway process.
type Config struct {
	LLMClient    LLMClientConfig    `yaml:"llm_client"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	DB           DBConfig           `yaml:"db"`
	Queue        QueueConfig        `yaml:"queue"`
	Priorities   PrioritiesConfig   `yaml:"priorities"`
	Session      SessionConfig      `yaml:"session"`
	Search       SearchConfig       `yaml:"search"`
	Hardware     HardwareConfig     `yaml:"hardware"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	InferenceLog InferenceLogConfig `yaml:"inference_log"`
	Server       ServerConfig       `yaml:"server"`
}

// LLMClientConfig selects and configures the active model provider plus any
// named adapters the inference worker can hot-swap between.
type LLMClientConfig struct {
	Provider  string                   `yaml:"provider"` // "openai" | "local" | "anthropic"
	OpenAI    OpenAIConfig             `yaml:"openai"`
	Anthropic AnthropicConfig          `yaml:"anthropic"`
	Adapters  map[string]AdapterConfig `yaml:"adapters"`
}

// AdapterConfig names an alternate provider configuration the worker can
// swap to via load_adapter. Provider is "openai" or "anthropic"; the
// matching sub-config supplies credentials/model.
type AdapterConfig struct {
	Provider  string          `yaml:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig configures the OpenAI-compatible provider client.
type OpenAIConfig struct {
	APIKey      string         `yaml:"api_key"`
	BaseURL     string         `yaml:"base_url"`
	Model       string         `yaml:"model"`
	ExtraParams map[string]any `yaml:"extra_params"`
	LogPayloads bool           `yaml:"log_payloads"`
}

// AnthropicConfig configures the Anthropic provider client.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	BaseURL     string                     `yaml:"base_url"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
	ExtraParams map[string]any             `yaml:"extra_params"`
}

// AnthropicPromptCacheConfig controls prompt-caching scope for Anthropic
// requests.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// EmbeddingConfig configures the HTTP embedding endpoint used by the memory
// store's Embedder.
type EmbeddingConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Path      string            `yaml:"path"`
	Model     string            `yaml:"model"`
	Timeout   int               `yaml:"timeout_seconds"`
	APIHeader string            `yaml:"api_header"`
	APIKey    string            `yaml:"api_key"`
	Headers   map[string]string `yaml:"headers"`
}

// DBConfig selects and configures the vector store and chat store backends.
type DBConfig struct {
	DefaultDSN string       `yaml:"default_dsn"`
	Vector     VectorConfig `yaml:"vector"`
	Chat       ChatConfig   `yaml:"chat"`
}

// VectorConfig selects the vector store backend: memory, postgres (pgvector)
// or qdrant.
type VectorConfig struct {
	Backend          string `yaml:"backend"`
	DSN              string `yaml:"dsn"`
	Dimensions       int    `yaml:"dimensions"`
	Metric           string `yaml:"metric"` // cosine|l2|euclidean|ip|dot
	QdrantCollection string `yaml:"qdrant_collection"`
}

// ChatConfig selects the session store backend: memory or postgres.
type ChatConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// QueueConfig configures the bounded priority queue (C1).
type QueueConfig struct {
	MaxSize              int  `yaml:"max_size"`
	StarvationPrevention bool `yaml:"starvation_prevention"`
	AgingIntervalSec     int  `yaml:"aging_interval_sec"`
	DefaultPriority      int  `yaml:"default_priority"`
}

// PrioritiesConfig names the priority levels exposed to clients and to the
// session sweeper's background submissions.
type PrioritiesConfig struct {
	UI         int `yaml:"ui"`
	Critical   int `yaml:"critical"`
	Standard   int `yaml:"standard"`
	Background int `yaml:"background"`
}

// SessionConfig configures the idle-sweep-and-summarize task (C6).
type SessionConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	IdleSeconds          int `yaml:"idle_seconds"`
}

// SearchConfig configures the quota-gated search/browse component (C7).
type SearchConfig struct {
	APIBaseURL      string `yaml:"api_base_url"`
	APIToken        string `yaml:"api_token"`
	MonthlyLimit    int    `yaml:"monthly_limit"`
	BillingDay      int    `yaml:"billing_day"`
	DailyStrategy   string `yaml:"daily_strategy"` // "even" | "unlimited"
	LimitsFilePath  string `yaml:"limits_file_path"`
	UsageFilePath   string `yaml:"usage_file_path"`
	DefaultK        int    `yaml:"default_k"`
	DefaultMaxChars int    `yaml:"default_max_chars"`
}

// HardwareConfig configures the hardware telemetry sampler (C3).
type HardwareConfig struct {
	SampleIntervalMillis int    `yaml:"sample_interval_millis"`
	TelemetryCmd         string `yaml:"telemetry_cmd"`
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// InferenceLogConfig selects the analytics sink for completed streams.
type InferenceLogConfig struct {
	Backend         string `yaml:"backend"` // "clickhouse" | "jsonl"
	ClickhouseDSN   string `yaml:"clickhouse_dsn"`
	ClickhouseTable string `yaml:"clickhouse_table"`
	JSONLPath       string `yaml:"jsonl_path"`
}

// ServerConfig configures the listener addresses for the chat and admin
// surfaces.
type ServerConfig struct {
	ChatAddr  string `yaml:"chat_addr"`
	AdminAddr string `yaml:"admin_addr"`
}
