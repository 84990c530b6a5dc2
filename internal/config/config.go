// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.relay/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, chat model, router model, embedder
//   - Agent: iteration cap, retrieval limit, tool timeout
//   - Storage: PostgreSQL connection
//   - Tools: SearXNG search, web scraper, code sandbox
//   - Server: listen address, rate limiting, proxy trust
//   - Observability: OTLP trace export
//
// Security: sensitive values (passwords) are never logged; MarshalJSON masks
// them explicitly. Validation is fail-fast with sentinel errors so callers
// can use errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidMaxIterations indicates the agent iteration cap is out of range.
	ErrInvalidMaxIterations = errors.New("invalid max iterations")

	// ErrInvalidRetrievalTopK indicates the retrieval result limit is out of range.
	ErrInvalidRetrievalTopK = errors.New("invalid retrieval top k")

	// ErrInvalidToolTimeout indicates the per-tool timeout is out of range.
	ErrInvalidToolTimeout = errors.New("invalid tool timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Agent defaults and bounds.
const (
	// DefaultMaxIterations caps model-call re-entries per turn.
	DefaultMaxIterations = 10

	// MaxAllowedIterations is the absolute cap to prevent runaway loops.
	MaxAllowedIterations = 50

	// DefaultRetrievalTopK is the default knowledge-base result limit.
	DefaultRetrievalTopK = 5

	// MaxRetrievalTopK bounds the knowledge-base result limit.
	MaxRetrievalTopK = 20

	// DefaultToolTimeoutSeconds bounds a single tool invocation.
	DefaultToolTimeoutSeconds = 30
)

// SearXNGConfig holds SearXNG service configuration for the web_search tool.
type SearXNGConfig struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080)
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// WebScraperConfig holds crawler configuration for the web_scrape tool.
type WebScraperConfig struct {
	// Parallelism is max concurrent requests per domain (default: 2)
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is delay between requests in milliseconds (default: 1000)
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// SandboxConfig bounds the run_code tool's Starlark interpreter.
type SandboxConfig struct {
	// TimeoutMs is the hard wall-clock limit for one evaluation (default: 5000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// MaxSteps limits interpreter steps to bound CPU (default: 500000)
	MaxSteps uint64 `mapstructure:"max_steps" json:"max_steps"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:3400)
	Addr string `mapstructure:"addr" json:"addr"`
	// RateLimit is tokens per second per client IP (default: 5)
	RateLimit float64 `mapstructure:"rate_limit" json:"rate_limit"`
	// RateBurst is the token bucket size per client IP (default: 10)
	RateBurst int `mapstructure:"rate_burst" json:"rate_burst"`
	// TrustProxy trusts X-Real-IP/X-Forwarded-For (set behind a reverse proxy)
	TrustProxy bool `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// TracingConfig holds OTLP trace export settings.
// Traces are exported to a local collector over OTLP HTTP.
type TracingConfig struct {
	// Endpoint is the OTLP HTTP collector host:port (empty disables export)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// ServiceName tags exported spans (default: relay)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Environment tags exported spans (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`             // "gemini" (default), "ollama", "openai"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // chat model (e.g., "gemini-2.5-flash")
	RouterModel   string `mapstructure:"router_model" json:"router_model"`     // classification model (empty = ModelName)
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // embedding model for retrieval

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Agent configuration
	MaxIterations      int `mapstructure:"max_iterations" json:"max_iterations"`
	RetrievalTopK      int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	ToolTimeoutSeconds int `mapstructure:"tool_timeout_seconds" json:"tool_timeout_seconds"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tool configuration
	SearXNG    SearXNGConfig    `mapstructure:"searxng" json:"searxng"`
	WebScraper WebScraperConfig `mapstructure:"web_scraper" json:"web_scraper"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox" json:"sandbox"`

	// Server configuration
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Observability configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".relay")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing configuration file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("router_model", "")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Agent defaults
	viper.SetDefault("max_iterations", DefaultMaxIterations)
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	viper.SetDefault("tool_timeout_seconds", DefaultToolTimeoutSeconds)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "relay")
	viper.SetDefault("postgres_password", "relay_dev_password")
	viper.SetDefault("postgres_db_name", "relay")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Tool defaults
	viper.SetDefault("searxng.base_url", "http://localhost:8888")
	viper.SetDefault("web_scraper.parallelism", 2)
	viper.SetDefault("web_scraper.delay_ms", 1000)
	viper.SetDefault("web_scraper.timeout_ms", 30000)
	viper.SetDefault("sandbox.timeout_ms", 5000)
	viper.SetDefault("sandbox.max_steps", 500000)

	// Server defaults
	viper.SetDefault("server.addr", "127.0.0.1:3400")
	viper.SetDefault("server.rate_limit", 5.0)
	viper.SetDefault("server.rate_burst", 10)
	viper.SetDefault("server.trust_proxy", false)

	// Tracing defaults
	viper.SetDefault("tracing.endpoint", "")
	viper.SetDefault("tracing.service_name", "relay")
	viper.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit plugins,
// not via viper; Validate() checks their presence per provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "RELAY_PROVIDER")
	mustBind("model_name", "RELAY_MODEL_NAME")
	mustBind("router_model", "RELAY_ROUTER_MODEL")
	mustBind("embedder_model", "RELAY_EMBEDDER_MODEL")
	mustBind("ollama_host", "RELAY_OLLAMA_HOST")
	mustBind("server.addr", "RELAY_ADDR")
	mustBind("server.trust_proxy", "RELAY_TRUST_PROXY")
	mustBind("searxng.base_url", "RELAY_SEARXNG_URL")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// parseDatabaseURL overrides the postgres_* fields from DATABASE_URL when set.
// DATABASE_URL has the highest priority for PostgreSQL configuration.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port %q: %w", p, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresURL returns the postgres:// connection URL, suitable for
// golang-migrate and pgx alike.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// FullModelName returns the provider-qualified chat model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	return c.qualify(c.ModelName)
}

// FullRouterModelName returns the provider-qualified router model name.
// Falls back to the chat model when router_model is unset.
func (c *Config) FullRouterModelName() string {
	if c.RouterModel == "" {
		return c.FullModelName()
	}
	return c.qualify(c.RouterModel)
}

func (c *Config) qualify(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + model
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + model
	default:
		return ProviderGoogleAI + "/" + model
	}
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked; longer secrets keep the first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
