// Package config provides the configuration schema and loader for the
// voicegate server.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CharacterIDs is the closed set of simulated characters a voice can be
// assigned to.
var CharacterIDs = []string{"patient", "nurse", "tech", "consultant", "imaging", "parent"}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Voices      map[string]string `yaml:"voices"`
	Budget      BudgetConfig      `yaml:"budget"`
	Auth        AuthConfig        `yaml:"auth"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Chaos       ChaosConfig       `yaml:"chaos"`
}

// ServerConfig holds network, timing, and logging settings.
type ServerConfig struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Environment names the deployment environment. "production" disables
	// chaos hooks and forbids insecure auth.
	Environment string `yaml:"environment"`

	// HeartbeatMs is the per-session heartbeat interval in milliseconds.
	HeartbeatMs int `yaml:"heartbeat_ms"`

	// CommandCooldownMs throttles auto-replies per session and per user.
	// The guard applies a floor of 1000 ms regardless of this value.
	CommandCooldownMs int `yaml:"command_cooldown_ms"`

	// OrderDebounceMs suppresses duplicate same-type orders arriving within
	// the window, absorbing voice double-utterances.
	OrderDebounceMs int `yaml:"order_debounce_ms"`
}

// ProvidersConfig declares which provider implementation to use for each
// voice pipeline stage.
type ProvidersConfig struct {
	STT      ProviderEntry `yaml:"stt"`
	TTS      ProviderEntry `yaml:"tts"`
	LLM      ProviderEntry `yaml:"llm"`
	Realtime ProviderEntry `yaml:"realtime"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g. "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g.
	// "gpt-4o-mini", "tts-1", "gpt-4o-realtime-preview").
	Model string `yaml:"model"`
}

// BudgetConfig holds the per-session spending limits and the pricing model.
type BudgetConfig struct {
	// SoftUSD logs a budget event when crossed. Zero disables.
	SoftUSD float64 `yaml:"soft_usd"`

	// HardUSD degrades the session to text-only voice when crossed. Zero
	// disables.
	HardUSD float64 `yaml:"hard_usd"`

	Pricing PricingConfig `yaml:"pricing"`
}

// PricingConfig holds USD unit prices used for the spend estimate.
type PricingConfig struct {
	PerThousandInputTokens  float64 `yaml:"per_1k_input_tokens"`
	PerThousandOutputTokens float64 `yaml:"per_1k_output_tokens"`
	PerAudioSecond          float64 `yaml:"per_audio_second"`
}

// AuthConfig selects the join authentication mode.
type AuthConfig struct {
	// Mode is "secure" or "insecure". Secure requires an ID-token verifier;
	// insecure is permitted only outside production.
	Mode string `yaml:"mode"`
}

// PersistenceConfig selects the snapshot/event store backend.
type PersistenceConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps everything in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ChaosConfig injects inbound faults for resilience testing. Ignored in
// production.
type ChaosConfig struct {
	DropProbability float64 `yaml:"drop_probability"`
	LatencyMs       int     `yaml:"latency_ms"`
}

// Production reports whether the configured environment is production.
func (c *Config) Production() bool {
	return c.Server.Environment == "production"
}

// applyDefaults fills unset fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.HeartbeatMs == 0 {
		c.Server.HeartbeatMs = 1000
	}
	if c.Server.CommandCooldownMs == 0 {
		c.Server.CommandCooldownMs = 1000
	}
	if c.Server.OrderDebounceMs == 0 {
		c.Server.OrderDebounceMs = 2000
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "secure"
	}
}
