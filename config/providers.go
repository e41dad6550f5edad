package config

import (
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/polychat/conversations"
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/aschepis/backscratcher/polychat/llm/anthropic"
	"github.com/aschepis/backscratcher/polychat/llm/mistral"
	"github.com/aschepis/backscratcher/polychat/llm/ollama"
	"github.com/aschepis/backscratcher/polychat/llm/openai"
	"github.com/aschepis/backscratcher/polychat/savedchat"
	"github.com/aschepis/backscratcher/polychat/tools"
	"github.com/rs/zerolog"
)

// FrameworkSpecs builds the framework allow-lists in FrameworkOrder.
// Frameworks absent from the config are skipped.
func (c *Config) FrameworkSpecs() []llm.FrameworkSpec {
	var specs []llm.FrameworkSpec
	for _, name := range FrameworkOrder {
		fw, ok := c.Frameworks[name]
		if !ok {
			continue
		}
		specs = append(specs, llm.FrameworkSpec{
			Name:    name,
			Models:  fw.Models,
			Aliases: fw.Aliases,
			APIKey:  c.apiKey(name),
			Keyless: name == llm.FrameworkOllama,
		})
	}
	return specs
}

func (c *Config) apiKey(framework string) string {
	switch framework {
	case llm.FrameworkOpenAI:
		return c.OpenAI.APIKey
	case llm.FrameworkAnthropic:
		return c.Anthropic.APIKey
	case llm.FrameworkMistral:
		return c.Mistral.APIKey
	case llm.FrameworkDeepSeek:
		return c.DeepSeek.APIKey
	case llm.FrameworkGoogle:
		return c.Google.APIKey
	}
	return ""
}

// NewFrameworkRegistry creates the model lookup table for the config.
func (c *Config) NewFrameworkRegistry(opts ...llm.RegistryOption) *llm.FrameworkRegistry {
	return llm.NewFrameworkRegistry(c.FrameworkSpecs(), opts...)
}

// NewAdapters creates one adapter per available framework, each wrapped with
// request logging.
func NewAdapters(cfg *Config, registry *llm.FrameworkRegistry, logger zerolog.Logger) (map[string]llm.Adapter, error) {
	adapters := make(map[string]llm.Adapter)
	for _, framework := range registry.Available() {
		adapter, err := cfg.newAdapter(framework, registry.Credential(framework))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", framework, err)
		}
		adapters[framework] = llm.WrapAdapter(adapter, llm.LoggingMiddleware(logger, framework))
		logger.Info().Str("framework", framework).Msg("Framework adapter ready")
	}
	return adapters, nil
}

func (c *Config) newAdapter(framework, apiKey string) (llm.Adapter, error) {
	switch framework {
	case llm.FrameworkOpenAI:
		return openai.NewAdapter(openai.Options{
			Framework:    framework,
			APIKey:       apiKey,
			BaseURL:      c.OpenAI.BaseURL,
			Organization: c.OpenAI.Organization,
			JSONMode:     true,
		})
	case llm.FrameworkDeepSeek:
		return openai.NewAdapter(openai.Options{
			Framework: framework,
			APIKey:    apiKey,
			BaseURL:   orDefault(c.DeepSeek.BaseURL, openai.DeepSeekBaseURL),
		})
	case llm.FrameworkGoogle:
		return openai.NewAdapter(openai.Options{
			Framework: framework,
			APIKey:    apiKey,
			BaseURL:   orDefault(c.Google.BaseURL, openai.GoogleBaseURL),
		})
	case llm.FrameworkAnthropic:
		return anthropic.NewAdapter(anthropic.Options{
			APIKey:     apiKey,
			BaseURL:    c.Anthropic.BaseURL,
			MaxTokens:  c.Anthropic.MaxTokens,
			MaxRetries: c.Anthropic.MaxRetries,
		})
	case llm.FrameworkMistral:
		return mistral.NewAdapter(mistral.Options{
			APIKey:     apiKey,
			BaseURL:    c.Mistral.BaseURL,
			MaxRetries: c.Mistral.MaxRetries,
		})
	case llm.FrameworkOllama:
		return ollama.NewAdapter(ollama.Options{Host: c.Ollama.Host})
	}
	return nil, fmt.Errorf("unknown framework %q", framework)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// NewStore opens the configured saved-chat store. The returned close func
// releases any database handle.
func NewStore(cfg *Config, logger zerolog.Logger) (savedchat.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case StorageSQLite:
		store, err := conversations.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case StorageFile, "":
		return savedchat.NewFileStore(cfg.Storage.ChatsDir, logger), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// NewToolRegistry creates a registry holding the built-in web tools.
func NewToolRegistry(cfg *Config, logger zerolog.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger)
	retries := cfg.Web.MaxRetries
	if retries < 0 {
		retries = 0
	}
	fetcher := tools.NewFetcher(
		cfg.Web.UserAgent,
		time.Duration(cfg.Web.TimeoutSeconds)*time.Second,
		uint64(retries), //nolint:gosec // G115: clamped above
		logger,
	)
	tools.NewWebTools(fetcher, cfg.Web.SearchURL, logger).Register(registry)
	return registry
}
