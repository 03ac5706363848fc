package app

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/clinsim/voicegate/internal/config"
	"github.com/clinsim/voicegate/internal/orchestrator"
	"github.com/clinsim/voicegate/pkg/provider/llm/anyllm"
	rtopenai "github.com/clinsim/voicegate/pkg/provider/realtime/openai"
	"github.com/clinsim/voicegate/pkg/provider/stt/whisper"
	ttsopenai "github.com/clinsim/voicegate/pkg/provider/tts/openai"
)

// buildProviders constructs the configured voice adapters. An empty provider
// name leaves that slot nil; the orchestrator degrades the corresponding path
// instead of failing startup.
func buildProviders(cfg *config.Config, deps *orchestrator.Deps) error {
	if e := cfg.Providers.STT; e.Name != "" {
		switch e.Name {
		case "whisper":
			p, err := whisper.New(e.BaseURL)
			if err != nil {
				return fmt.Errorf("app: stt provider: %w", err)
			}
			deps.STT = p
		default:
			return fmt.Errorf("app: unknown stt provider %q", e.Name)
		}
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		switch e.Name {
		case "openai":
			var opts []ttsopenai.Option
			if e.BaseURL != "" {
				opts = append(opts, ttsopenai.WithBaseURL(e.BaseURL))
			}
			p, err := ttsopenai.New(e.APIKey, e.Model, opts...)
			if err != nil {
				return fmt.Errorf("app: tts provider: %w", err)
			}
			deps.TTS = p
		default:
			return fmt.Errorf("app: unknown tts provider %q", e.Name)
		}
	}

	if e := cfg.Providers.LLM; e.Name != "" {
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		p, err := anyllm.New(e.Name, e.Model, opts...)
		if err != nil {
			return fmt.Errorf("app: llm provider: %w", err)
		}
		deps.LLM = p
	}

	if e := cfg.Providers.Realtime; e.Name != "" {
		switch e.Name {
		case "openai":
			var opts []rtopenai.Option
			if e.Model != "" {
				opts = append(opts, rtopenai.WithModel(e.Model))
			}
			if e.BaseURL != "" {
				opts = append(opts, rtopenai.WithBaseURL(e.BaseURL))
			}
			deps.Realtime = rtopenai.New(e.APIKey, opts...)
		default:
			return fmt.Errorf("app: unknown realtime provider %q", e.Name)
		}
	}
	return nil
}
