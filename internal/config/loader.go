package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"whisper"},
	"tts":      {"openai"},
	"llm":      {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"realtime": {"openai-realtime"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}
	if cfg.Server.HeartbeatMs < 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat_ms must not be negative"))
	}

	switch cfg.Auth.Mode {
	case "secure", "insecure":
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q is invalid; valid values: secure, insecure", cfg.Auth.Mode))
	}
	if cfg.Auth.Mode == "insecure" && cfg.Production() {
		errs = append(errs, fmt.Errorf("auth.mode insecure is not permitted in production"))
	}

	if cfg.Budget.SoftUSD < 0 || cfg.Budget.HardUSD < 0 {
		errs = append(errs, fmt.Errorf("budget limits must not be negative"))
	}
	if cfg.Budget.HardUSD > 0 && cfg.Budget.SoftUSD > cfg.Budget.HardUSD {
		errs = append(errs, fmt.Errorf("budget.soft_usd %.2f exceeds budget.hard_usd %.2f", cfg.Budget.SoftUSD, cfg.Budget.HardUSD))
	}

	if cfg.Chaos.DropProbability < 0 || cfg.Chaos.DropProbability > 1 {
		errs = append(errs, fmt.Errorf("chaos.drop_probability %.2f is out of range [0, 1]", cfg.Chaos.DropProbability))
	}
	if cfg.Production() && (cfg.Chaos.DropProbability > 0 || cfg.Chaos.LatencyMs > 0) {
		slog.Warn("chaos knobs are set but ignored in production")
	}

	for character := range cfg.Voices {
		if !slices.Contains(CharacterIDs, character) {
			errs = append(errs, fmt.Errorf("voices.%s is not a recognised character; valid: %v", character, CharacterIDs))
		}
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("realtime", cfg.Providers.Realtime.Name)

	if cfg.Providers.Realtime.Name == "" && cfg.Providers.STT.Name == "" {
		slog.Warn("neither a realtime nor an stt provider is configured; doctor audio will not be transcribed")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given stage.
func validateProviderName(stage, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[stage]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
