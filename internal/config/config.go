// Package config loads gateway configuration from the environment with an
// optional YAML file for structured overrides. Environment variables win
// over file values; defaults follow the deployment reference.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Sessions SessionConfig  `yaml:"sessions"`
	Artifact ArtifactConfig `yaml:"artifacts"`
	External ExternalConfig `yaml:"external"`
	Agent    AgentConfig    `yaml:"agent"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	// AuthSecret verifies bearer tokens. Empty disables verification and
	// trusts the request body teacherId (debug deployments only).
	AuthSecret string `yaml:"auth_secret"`

	// RatePerMinute and RateBurst shape the per-teacher token bucket.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	RateBurst     int     `yaml:"rate_burst"`

	// LockMode decides what happens when a second stream arrives for a
	// conversation with a turn in flight: "reject" (409) or "queue".
	LockMode string `yaml:"lock_mode"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ModelConfig configures LLM providers.
type ModelConfig struct {
	// Provider selects the primary vendor: "anthropic" or "openai".
	Provider string `yaml:"provider"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	// DefaultModel serves every conversation turn. FastModel, when set,
	// serves only the history summarizer.
	DefaultModel string `yaml:"default_model"`
	FastModel    string `yaml:"fast_model"`

	// FallbackProvider, when set, is tried after the primary fails.
	FallbackProvider string `yaml:"fallback_provider"`
}

// SessionConfig configures the conversation store.
type SessionConfig struct {
	// StoreType is "memory" or "remote-kv".
	StoreType string `yaml:"store_type"`

	// RedisURL backs the remote-kv store.
	RedisURL string `yaml:"redis_url"`

	// TTL is the sliding idle expiry for sessions.
	TTL time.Duration `yaml:"ttl"`

	// TokenBudget bounds history size; TriggerRatio starts truncation and
	// TargetRatio is the post-truncation goal, both as budget fractions.
	TokenBudget  int     `yaml:"token_budget"`
	TriggerRatio float64 `yaml:"trigger_ratio"`
	TargetRatio  float64 `yaml:"target_ratio"`

	// SummaryEnabled turns on progressive summarization of dropped
	// prefixes; SummaryMaxTokens caps summary length.
	SummaryEnabled   bool `yaml:"summary_enabled"`
	SummaryMaxTokens int  `yaml:"summary_max_tokens"`
}

// ArtifactConfig configures the artifact store.
type ArtifactConfig struct {
	// StoreURL is a sqlite path ("file:artifacts.db") or "memory".
	StoreURL string `yaml:"store_url"`

	// ExternalizeBytes is the payload size above which content is stored
	// by reference instead of inline.
	ExternalizeBytes int `yaml:"externalize_bytes"`
}

// ExternalConfig configures upstream collaborators.
type ExternalConfig struct {
	DataBaseURL     string        `yaml:"data_base_url"`
	DataTimeout     time.Duration `yaml:"data_timeout"`
	PlatformBaseURL string        `yaml:"platform_base_url"`
}

// AgentConfig configures the native agent runtime.
type AgentConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Debug           bool          `yaml:"debug"`
	MaxToolCalls    int           `yaml:"max_tool_calls"`
	MaxTurnDuration time.Duration `yaml:"max_turn_duration"`
	PerToolTimeout  time.Duration `yaml:"per_tool_timeout"`
	MaxInputTokens  int           `yaml:"max_input_tokens"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the reference-deployment defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              5000,
			RatePerMinute:     5,
			RateBurst:         10,
			LockMode:          "reject",
			HeartbeatInterval: 15 * time.Second,
		},
		Model: ModelConfig{
			Provider:     "anthropic",
			DefaultModel: "claude-sonnet-4-20250514",
		},
		Sessions: SessionConfig{
			StoreType:        "memory",
			TTL:              30 * time.Minute,
			TokenBudget:      24000,
			TriggerRatio:     0.80,
			TargetRatio:      0.40,
			SummaryMaxTokens: 1024,
		},
		Artifact: ArtifactConfig{
			StoreURL:         "memory",
			ExternalizeBytes: 256 << 10,
		},
		External: ExternalConfig{
			DataTimeout: 15 * time.Second,
		},
		Agent: AgentConfig{
			Enabled:         true,
			MaxToolCalls:    10,
			MaxTurnDuration: 120 * time.Second,
			PerToolTimeout:  30 * time.Second,
			MaxInputTokens:  32000,
			MaxOutputTokens: 8000,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config from defaults, an optional YAML file, then the
// environment, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("SERVICE_PORT", &c.Server.Port)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	envStr("AUTH_SECRET", &c.Server.AuthSecret)
	envFloat("RATE_PER_MINUTE", &c.Server.RatePerMinute)
	envInt("RATE_BURST", &c.Server.RateBurst)
	envStr("CONVERSATION_LOCK_MODE", &c.Server.LockMode)
	envSeconds("HEARTBEAT_INTERVAL_S", &c.Server.HeartbeatInterval)

	envStr("MODEL_PROVIDER", &c.Model.Provider)
	envStr("ANTHROPIC_API_KEY", &c.Model.AnthropicAPIKey)
	envStr("OPENAI_API_KEY", &c.Model.OpenAIAPIKey)
	envStr("DEFAULT_MODEL", &c.Model.DefaultModel)
	envStr("FAST_MODEL", &c.Model.FastModel)
	envStr("FALLBACK_PROVIDER", &c.Model.FallbackProvider)

	envStr("CONVERSATION_STORE_TYPE", &c.Sessions.StoreType)
	envStr("REDIS_URL", &c.Sessions.RedisURL)
	envSeconds("SESSION_TTL_S", &c.Sessions.TTL)
	envInt("HISTORY_TOKEN_BUDGET", &c.Sessions.TokenBudget)
	envFloat("HISTORY_TRIGGER_RATIO", &c.Sessions.TriggerRatio)
	envFloat("HISTORY_TARGET_RATIO", &c.Sessions.TargetRatio)
	envBool("SUMMARY_ENABLED", &c.Sessions.SummaryEnabled)
	envInt("SUMMARY_MAX_TOKENS", &c.Sessions.SummaryMaxTokens)

	envStr("ARTIFACT_STORE_URL", &c.Artifact.StoreURL)
	envInt("ARTIFACT_EXTERNALIZE_BYTES", &c.Artifact.ExternalizeBytes)

	envStr("EXTERNAL_DATA_BASE_URL", &c.External.DataBaseURL)
	envSeconds("EXTERNAL_DATA_TIMEOUT", &c.External.DataTimeout)
	envStr("PLATFORM_BASE_URL", &c.External.PlatformBaseURL)

	envBool("NATIVE_AGENT_ENABLED", &c.Agent.Enabled)
	envBool("DEBUG", &c.Agent.Debug)
	envInt("MAX_TOOL_CALLS", &c.Agent.MaxToolCalls)
	envSeconds("MAX_TURN_DURATION_S", &c.Agent.MaxTurnDuration)
	envSeconds("PER_TOOL_TIMEOUT_S", &c.Agent.PerToolTimeout)
	envInt("MAX_INPUT_TOKENS", &c.Agent.MaxInputTokens)
	envInt("MAX_OUTPUT_TOKENS", &c.Agent.MaxOutputTokens)

	envStr("LOG_LEVEL", &c.Log.Level)
	envStr("LOG_FORMAT", &c.Log.Format)
}

// Validate rejects configurations that cannot serve traffic.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown MODEL_PROVIDER %q", c.Model.Provider)
	}
	switch c.Sessions.StoreType {
	case "memory":
	case "remote-kv":
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("config: CONVERSATION_STORE_TYPE=remote-kv requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown CONVERSATION_STORE_TYPE %q", c.Sessions.StoreType)
	}
	switch c.Server.LockMode {
	case "reject", "queue":
	default:
		return fmt.Errorf("config: unknown CONVERSATION_LOCK_MODE %q", c.Server.LockMode)
	}
	if c.Sessions.TriggerRatio <= c.Sessions.TargetRatio {
		return fmt.Errorf("config: HISTORY_TRIGGER_RATIO must exceed HISTORY_TARGET_RATIO")
	}
	if c.Agent.MaxToolCalls <= 0 || c.Agent.PerToolTimeout <= 0 || c.Agent.MaxTurnDuration <= 0 {
		return fmt.Errorf("config: agent budgets must be positive")
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
