package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally a local
// .env file) layered over settings.yaml defaults. Environment variables take
// precedence; anything left unset falls back to whatever settings.yaml (or
// the compiled-in defaults) provides.
func Load() (Config, error) {
	// Overload so a local .env wins over any pre-existing OS environment,
	// matching how this codebase expects local config to take precedence in
	// development.
	_ = godotenv.Overload()

	cfg := Config{}
	readEnv(&cfg)

	yamlPath := strings.TrimSpace(os.Getenv("SETTINGS_PATH"))
	if yamlPath == "" {
		yamlPath = "settings.yaml"
	}
	if b, err := os.ReadFile(yamlPath); err == nil {
		var fromYAML Config
		if err := yaml.Unmarshal(b, &fromYAML); err != nil {
			return Config{}, err
		}
		mergeDefaults(&cfg, fromYAML)
	}

	applyBuiltinDefaults(&cfg)
	return cfg, nil
}

func readEnv(cfg *Config) {
	cfg.LLMClient.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLMClient.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		cfg.LLMClient.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.LLMClient.OpenAI.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLMClient.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); v != "" {
		cfg.LLMClient.Anthropic.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")); v != "" {
		cfg.LLMClient.Anthropic.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_PAYLOADS")); v != "" {
		cfg.LLMClient.OpenAI.LogPayloads = truthy(v)
	}

	if v := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL")); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_PATH")); v != "" {
		cfg.Embedding.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")); v != "" {
		cfg.Embedding.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := strings.TrimSpace(os.Getenv("DB_DEFAULT_DSN")); v != "" {
		cfg.DB.DefaultDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_BACKEND")); v != "" {
		cfg.DB.Vector.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_DSN")); v != "" {
		cfg.DB.Vector.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_BACKEND")); v != "" {
		cfg.DB.Chat.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_DSN")); v != "" {
		cfg.DB.Chat.DSN = v
	}

	if v := strings.TrimSpace(os.Getenv("SEARCH_API_TOKEN")); v != "" {
		cfg.Search.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("SEARCH_API_BASE_URL")); v != "" {
		cfg.Search.APIBaseURL = v
	}

	if v := strings.TrimSpace(os.Getenv("HARDWARE_TELEMETRY_CMD")); v != "" {
		cfg.Hardware.TelemetryCmd = v
	}

	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}

	if v := strings.TrimSpace(os.Getenv("INFERENCE_LOG_BACKEND")); v != "" {
		cfg.InferenceLog.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN")); v != "" {
		cfg.InferenceLog.ClickhouseDSN = v
	}

	if v := strings.TrimSpace(os.Getenv("CHAT_ADDR")); v != "" {
		cfg.Server.ChatAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_ADDR")); v != "" {
		cfg.Server.AdminAddr = v
	}
}

// mergeDefaults copies every field from yamlCfg into cfg wherever cfg still
// holds its zero value. Env-sourced values always win.
func mergeDefaults(cfg *Config, yamlCfg Config) {
	if cfg.LLMClient.Provider == "" {
		cfg.LLMClient.Provider = yamlCfg.LLMClient.Provider
	}
	mergeOpenAI(&cfg.LLMClient.OpenAI, yamlCfg.LLMClient.OpenAI)
	mergeAnthropic(&cfg.LLMClient.Anthropic, yamlCfg.LLMClient.Anthropic)
	if cfg.LLMClient.Adapters == nil {
		cfg.LLMClient.Adapters = yamlCfg.LLMClient.Adapters
	}

	mergeEmbedding(&cfg.Embedding, yamlCfg.Embedding)

	if cfg.DB.DefaultDSN == "" {
		cfg.DB.DefaultDSN = yamlCfg.DB.DefaultDSN
	}
	if cfg.DB.Vector.Backend == "" {
		cfg.DB.Vector = yamlCfg.DB.Vector
	}
	if cfg.DB.Chat.Backend == "" {
		cfg.DB.Chat = yamlCfg.DB.Chat
	}

	if cfg.Queue == (QueueConfig{}) {
		cfg.Queue = yamlCfg.Queue
	}
	if cfg.Priorities == (PrioritiesConfig{}) {
		cfg.Priorities = yamlCfg.Priorities
	}
	if cfg.Session == (SessionConfig{}) {
		cfg.Session = yamlCfg.Session
	}

	if cfg.Search.APIBaseURL == "" {
		cfg.Search.APIBaseURL = yamlCfg.Search.APIBaseURL
	}
	if cfg.Search.APIToken == "" {
		cfg.Search.APIToken = yamlCfg.Search.APIToken
	}
	if cfg.Search.MonthlyLimit == 0 {
		cfg.Search.MonthlyLimit = yamlCfg.Search.MonthlyLimit
	}
	if cfg.Search.BillingDay == 0 {
		cfg.Search.BillingDay = yamlCfg.Search.BillingDay
	}
	if cfg.Search.DailyStrategy == "" {
		cfg.Search.DailyStrategy = yamlCfg.Search.DailyStrategy
	}
	if cfg.Search.LimitsFilePath == "" {
		cfg.Search.LimitsFilePath = yamlCfg.Search.LimitsFilePath
	}
	if cfg.Search.UsageFilePath == "" {
		cfg.Search.UsageFilePath = yamlCfg.Search.UsageFilePath
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = yamlCfg.Search.DefaultK
	}
	if cfg.Search.DefaultMaxChars == 0 {
		cfg.Search.DefaultMaxChars = yamlCfg.Search.DefaultMaxChars
	}

	if cfg.Hardware == (HardwareConfig{}) {
		cfg.Hardware = yamlCfg.Hardware
	}

	if !cfg.Telemetry.Enabled {
		cfg.Telemetry = yamlCfg.Telemetry
	}

	if cfg.InferenceLog == (InferenceLogConfig{}) {
		cfg.InferenceLog = yamlCfg.InferenceLog
	}

	if cfg.Server.ChatAddr == "" {
		cfg.Server.ChatAddr = yamlCfg.Server.ChatAddr
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = yamlCfg.Server.AdminAddr
	}
}

func mergeOpenAI(dst *OpenAIConfig, src OpenAIConfig) {
	if dst.APIKey == "" {
		dst.APIKey = src.APIKey
	}
	if dst.BaseURL == "" {
		dst.BaseURL = src.BaseURL
	}
	if dst.Model == "" {
		dst.Model = src.Model
	}
	if dst.ExtraParams == nil {
		dst.ExtraParams = src.ExtraParams
	}
	if !dst.LogPayloads {
		dst.LogPayloads = src.LogPayloads
	}
}

func mergeEmbedding(dst *EmbeddingConfig, src EmbeddingConfig) {
	if dst.BaseURL == "" {
		dst.BaseURL = src.BaseURL
	}
	if dst.Path == "" {
		dst.Path = src.Path
	}
	if dst.Model == "" {
		dst.Model = src.Model
	}
	if dst.Timeout == 0 {
		dst.Timeout = src.Timeout
	}
	if dst.APIHeader == "" {
		dst.APIHeader = src.APIHeader
	}
	if dst.APIKey == "" {
		dst.APIKey = src.APIKey
	}
	if dst.Headers == nil {
		dst.Headers = src.Headers
	}
}

func mergeAnthropic(dst *AnthropicConfig, src AnthropicConfig) {
	if dst.APIKey == "" {
		dst.APIKey = src.APIKey
	}
	if dst.BaseURL == "" {
		dst.BaseURL = src.BaseURL
	}
	if dst.Model == "" {
		dst.Model = src.Model
	}
	if dst.PromptCache == (AnthropicPromptCacheConfig{}) {
		dst.PromptCache = src.PromptCache
	}
	if dst.ExtraParams == nil {
		dst.ExtraParams = src.ExtraParams
	}
}

// applyBuiltinDefaults fills in values that are awkward to express as YAML
// zero-values (aging interval 5s, since 0 is not meaningful; sweep interval
// 1800s; idle timeout 600s).
func applyBuiltinDefaults(cfg *Config) {
	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = 256
	}
	if cfg.Queue.AgingIntervalSec == 0 {
		cfg.Queue.AgingIntervalSec = 5
	}
	if cfg.Priorities == (PrioritiesConfig{}) {
		cfg.Priorities = PrioritiesConfig{UI: 0, Critical: 1, Standard: 5, Background: 9}
	}
	if cfg.Queue.DefaultPriority == 0 {
		cfg.Queue.DefaultPriority = cfg.Priorities.Standard
	}
	if cfg.Session.SweepIntervalSeconds == 0 {
		cfg.Session.SweepIntervalSeconds = 1800
	}
	if cfg.Session.IdleSeconds == 0 {
		cfg.Session.IdleSeconds = 600
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 3
	}
	if cfg.Search.DefaultMaxChars == 0 {
		cfg.Search.DefaultMaxChars = 25000
	}
	if cfg.Search.BillingDay == 0 {
		cfg.Search.BillingDay = 1
	}
	if cfg.Search.LimitsFilePath == "" {
		cfg.Search.LimitsFilePath = "brave_search_limits.json"
	}
	if cfg.Search.UsageFilePath == "" {
		cfg.Search.UsageFilePath = "brave_search_usage.json"
	}
	if cfg.Hardware.SampleIntervalMillis == 0 {
		cfg.Hardware.SampleIntervalMillis = 500
	}
	if cfg.InferenceLog.Backend == "" {
		cfg.InferenceLog.Backend = "jsonl"
	}
	if cfg.InferenceLog.JSONLPath == "" {
		cfg.InferenceLog.JSONLPath = "inference_log.jsonl"
	}
	if cfg.InferenceLog.ClickhouseTable == "" {
		cfg.InferenceLog.ClickhouseTable = "inference_log"
	}
	if cfg.Server.ChatAddr == "" {
		cfg.Server.ChatAddr = ":8080"
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = ":8081"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "modelgate"
	}
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return strings.EqualFold(v, "yes")
	}
	return b
}
