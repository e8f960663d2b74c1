package config

import (
	"github.com/entrhq/memochat/pkg/llm/openai"
	"github.com/entrhq/memochat/pkg/logging"
	"github.com/spf13/viper"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("config")
	if err != nil {
		debugLog = logging.Nop("config")
	}
}

// Environment variables consulted by Resolve.
const (
	EnvAPIKey          = "OPENAI_API_KEY"
	EnvBaseURL         = "OPENAI_BASE_URL"
	EnvModel           = "MEMOCHAT_MODEL"
	EnvCompactionModel = "MEMOCHAT_COMPACTION_MODEL"
)

func envOverrides() *viper.Viper {
	v := viper.New()
	_ = v.BindEnv("api_key", EnvAPIKey)
	_ = v.BindEnv("base_url", EnvBaseURL)
	_ = v.BindEnv("model", EnvModel)
	_ = v.BindEnv("compaction_model", EnvCompactionModel)
	return v
}

// Resolve merges LLM settings with precedence
// explicit values > environment variables > config file > defaults.
// section may be nil.
func Resolve(explicit LLMSettings, section *LLMSection) LLMSettings {
	var file LLMSettings
	if section != nil {
		file = section.Settings()
	}
	env := envOverrides()

	pick := func(explicitValue, envKey, fileValue, fallback string) string {
		for _, v := range []string{explicitValue, env.GetString(envKey), fileValue} {
			if v != "" {
				return v
			}
		}
		return fallback
	}

	return LLMSettings{
		APIKey:           pick(explicit.APIKey, "api_key", file.APIKey, ""),
		Model:            pick(explicit.Model, "model", file.Model, openai.DefaultModel),
		BaseURL:          pick(explicit.BaseURL, "base_url", file.BaseURL, openai.DefaultBaseURL),
		CompactionModel:  pick(explicit.CompactionModel, "compaction_model", file.CompactionModel, ""),
		ReasoningEnabled: explicit.ReasoningEnabled || file.ReasoningEnabled,
	}
}

// BuildProvider creates the completion provider from resolved settings. A
// missing API key is not an error; the service reports it on first use.
func BuildProvider(explicit LLMSettings, section *LLMSection) (*openai.Provider, LLMSettings, error) {
	settings := Resolve(explicit, section)
	if settings.APIKey == "" {
		debugLog.Warnf("No API key configured; set %s or api_key in the llm section", EnvAPIKey)
	}

	provider, err := openai.NewProvider(settings.APIKey,
		openai.WithModel(settings.Model),
		openai.WithBaseURL(settings.BaseURL),
	)
	if err != nil {
		return nil, settings, err
	}
	return provider, settings, nil
}
