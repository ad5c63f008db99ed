// Package config loads server configuration: defaults, then conductor.toml,
// then CONDUCTOR_* environment variables. Env wins. Provider endpoints and
// API keys only ever enter the core through this layer.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	XL          ProviderConfig    `toml:"xl"`
	Light       ProviderConfig    `toml:"light"`
	Code        ProviderConfig    `toml:"code"`
	Vision      ProviderConfig    `toml:"vision"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Rerank      RerankConfig      `toml:"rerank"`
	Search      SearchConfig      `toml:"search"`
	Retry       RetryConfig       `toml:"retry"`
	Diversity   DiversityConfig   `toml:"diversity"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Chat        ChatConfig        `toml:"chat"`
	Research    ResearchConfig    `toml:"research"`
	Database    DatabaseConfig    `toml:"database"`
	RAG         RAGConfig         `toml:"rag"`
	Observer    ObserverConfig    `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type ProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type EmbeddingConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type RerankConfig struct {
	BaseURL   string  `toml:"base_url"`
	APIKey    string  `toml:"api_key"`
	Model     string  `toml:"model"`
	Threshold float64 `toml:"threshold"`
}

type SearchConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	RPM     int    `toml:"rpm"`
}

type RetryConfig struct {
	MaxRetries     int `toml:"max_retries"`
	BackoffBaseMS  int `toml:"backoff_base_ms"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type DiversityConfig struct {
	Threshold float64 `toml:"threshold"`
}

type CoordinatorConfig struct {
	MinAgents           int `toml:"min_agents"`
	MaxAgents           int `toml:"max_agents"`
	MonitorIntervalSecs int `toml:"monitor_interval_seconds"`
	AgentTimeoutSeconds int `toml:"agent_timeout_seconds"`
	AgentMaxRetries     int `toml:"agent_max_retries"`
}

type MonitorConfig struct {
	MaxContextTokens int64 `toml:"max_context_tokens"`
	SoftHeapBytes    int64 `toml:"soft_heap_bytes"`
}

type ChatConfig struct {
	ToolIterationCap int `toml:"tool_iteration_cap"`
}

type ResearchConfig struct {
	ResultTTLHours int `toml:"result_ttl_hours"`
}

type DatabaseConfig struct {
	// Driver is "memory", "sqlite", or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type RAGConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		XL:        ProviderConfig{TimeoutSeconds: 300},
		Light:     ProviderConfig{TimeoutSeconds: 300},
		Code:      ProviderConfig{TimeoutSeconds: 1800},
		Vision:    ProviderConfig{TimeoutSeconds: 300},
		Embedding: EmbeddingConfig{Dimensions: 1024},
		Rerank:    RerankConfig{Threshold: 0.7},
		Search:    SearchConfig{RPM: 30},
		Retry:     RetryConfig{MaxRetries: 3, BackoffBaseMS: 1000, TimeoutSeconds: 300},
		Diversity: DiversityConfig{Threshold: 0.8},
		Coordinator: CoordinatorConfig{
			MinAgents:           2,
			MaxAgents:           10,
			MonitorIntervalSecs: 5,
			AgentTimeoutSeconds: 300,
			AgentMaxRetries:     2,
		},
		Monitor:  MonitorConfig{MaxContextTokens: 500_000},
		Chat:     ChatConfig{ToolIterationCap: 8},
		Research: ResearchConfig{ResultTTLHours: 24},
		Database: DatabaseConfig{Driver: "memory", Path: "conductor.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "conductor.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CONDUCTOR_XL_API_KEY"); v != "" {
		cfg.XL.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_LIGHT_API_KEY"); v != "" {
		cfg.Light.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_CODE_API_KEY"); v != "" {
		cfg.Code.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_RERANK_API_KEY"); v != "" {
		cfg.Rerank.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_SEARCH_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
		cfg.Database.Driver = "postgres"
	}
	if v := os.Getenv("CONDUCTOR_RAG_API_KEY"); v != "" {
		cfg.RAG.APIKey = v
	}

	envInt("CONDUCTOR_MAX_AGENTS", &cfg.Coordinator.MaxAgents)
	envInt("CONDUCTOR_MIN_AGENTS", &cfg.Coordinator.MinAgents)
	envInt("CONDUCTOR_AGENT_TIMEOUT_SECONDS", &cfg.Coordinator.AgentTimeoutSeconds)
	envInt("CONDUCTOR_AGENT_MAX_RETRIES", &cfg.Coordinator.AgentMaxRetries)
	envFloat("CONDUCTOR_DIVERSITY_THRESHOLD", &cfg.Diversity.Threshold)
	envFloat("CONDUCTOR_RERANK_THRESHOLD", &cfg.Rerank.Threshold)
	envInt64("CONDUCTOR_MAX_CONTEXT_TOKENS", &cfg.Monitor.MaxContextTokens)
	envInt("CONDUCTOR_PROVIDER_TIMEOUT_SECONDS", &cfg.Retry.TimeoutSeconds)
	envInt("CONDUCTOR_PROVIDER_MAX_RETRIES", &cfg.Retry.MaxRetries)
	envInt("CONDUCTOR_TOOL_ITERATION_CAP", &cfg.Chat.ToolIterationCap)
	envInt("CONDUCTOR_RESEARCH_RESULT_TTL_HOURS", &cfg.Research.ResultTTLHours)

	if os.Getenv("CONDUCTOR_OBSERVER_ENABLED") == "true" || os.Getenv("CONDUCTOR_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks: light/code/vision reuse the XL endpoint unless set.
	fillProvider(&cfg.Light, cfg.XL)
	fillProvider(&cfg.Code, cfg.XL)
	fillProvider(&cfg.Vision, cfg.XL)

	return cfg
}

func fillProvider(dst *ProviderConfig, src ProviderConfig) {
	if dst.BaseURL == "" {
		dst.BaseURL = src.BaseURL
	}
	if dst.APIKey == "" {
		dst.APIKey = src.APIKey
	}
	if dst.Model == "" {
		dst.Model = src.Model
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
