package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/aschepis/backscratcher/polychat/mcp"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is used when a conversation starts without one.
const DefaultSystemPrompt = "You are a helpful AI assistance named Bruno, and your task is to assist the user with all its requests in the best way possible"

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// FrameworkOrder is the order frameworks are offered in model listings.
var FrameworkOrder = []string{
	llm.FrameworkOpenAI,
	llm.FrameworkAnthropic,
	llm.FrameworkMistral,
	llm.FrameworkDeepSeek,
	llm.FrameworkGoogle,
	llm.FrameworkOllama,
}

// FrameworkConfig is the model allow-list for one framework.
type FrameworkConfig struct {
	Models  []string          `yaml:"models,omitempty" toml:"models,omitempty"`
	Aliases map[string]string `yaml:"aliases,omitempty" toml:"aliases,omitempty"` // alias -> model
}

// DefaultsConfig holds the per-turn defaults.
type DefaultsConfig struct {
	Model        string  `yaml:"model,omitempty" toml:"model,omitempty"`
	Temperature  float64 `yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	SystemPrompt string  `yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
}

// WebConfig configures the fetch-capable tools.
type WebConfig struct {
	UserAgent      string `yaml:"user_agent,omitempty" toml:"user_agent,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`
	MaxRetries     int    `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
	SearchURL      string `yaml:"search_url,omitempty" toml:"search_url,omitempty"`
}

// StorageConfig selects where saved chats live.
type StorageConfig struct {
	Backend    string `yaml:"backend,omitempty" toml:"backend,omitempty"` // "file" or "sqlite"
	ChatsDir   string `yaml:"chats_dir,omitempty" toml:"chats_dir,omitempty"`
	SQLitePath string `yaml:"sqlite_path,omitempty" toml:"sqlite_path,omitempty"`
}

// ProviderConfig holds credentials and endpoint for a hosted provider.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Organization string `yaml:"organization,omitempty" toml:"organization,omitempty"` // OpenAI only
	MaxRetries   int    `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// AnthropicConfig represents configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	MaxTokens  int64  `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// OllamaConfig represents configuration for a local Ollama server.
type OllamaConfig struct {
	Host string `yaml:"host,omitempty" toml:"host,omitempty"` // default: "http://localhost:11434"
}

// MCPServerConfig represents configuration for an MCP server.
type MCPServerConfig struct {
	Name     string   `yaml:"name,omitempty" toml:"name,omitempty"`
	Homepage string   `yaml:"homepage,omitempty" toml:"homepage,omitempty"`
	Command  string   `yaml:"command,omitempty" toml:"command,omitempty"` // For STDIO transport
	URL      string   `yaml:"url,omitempty" toml:"url,omitempty"`         // For HTTP transport
	Args     []string `yaml:"args,omitempty" toml:"args,omitempty"`       // Additional args for STDIO command
	Env      []string `yaml:"env,omitempty" toml:"env,omitempty"`         // Environment variables for STDIO
}

// ToServerConfig converts the entry into an mcp.ServerConfig. name is the
// map key, used when Name is empty.
func (c *MCPServerConfig) ToServerConfig(name string) mcp.ServerConfig {
	if c.Name != "" {
		name = c.Name
	}
	return mcp.ServerConfig{
		Name:    name,
		Command: c.Command,
		URL:     c.URL,
		Args:    c.Args,
		Env:     c.Env,
	}
}

// Config is the complete polychat configuration.
type Config struct {
	Frameworks map[string]FrameworkConfig  `yaml:"frameworks,omitempty" toml:"frameworks,omitempty"`
	Defaults   DefaultsConfig              `yaml:"defaults,omitempty" toml:"defaults,omitempty"`
	Web        WebConfig                   `yaml:"web,omitempty" toml:"web,omitempty"`
	Storage    StorageConfig               `yaml:"storage,omitempty" toml:"storage,omitempty"`
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty" toml:"mcp_servers,omitempty"`

	// LLM provider configurations
	OpenAI    ProviderConfig  `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty" toml:"anthropic,omitempty"`
	Mistral   ProviderConfig  `yaml:"mistral,omitempty" toml:"mistral,omitempty"`
	DeepSeek  ProviderConfig  `yaml:"deepseek,omitempty" toml:"deepseek,omitempty"`
	Google    ProviderConfig  `yaml:"google,omitempty" toml:"google,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty" toml:"ollama,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Frameworks: map[string]FrameworkConfig{
			llm.FrameworkOpenAI: {
				Models:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"},
				Aliases: map[string]string{"gpt4": "gpt-4o"},
			},
			llm.FrameworkAnthropic: {
				Models:  []string{"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest"},
				Aliases: map[string]string{"sonnet": "claude-3-5-sonnet-latest", "haiku": "claude-3-5-haiku-latest"},
			},
			llm.FrameworkMistral: {
				Models: []string{"mistral-large-latest", "mistral-small-latest"},
			},
			llm.FrameworkDeepSeek: {
				Models: []string{"deepseek-chat"},
			},
			llm.FrameworkGoogle: {
				Models: []string{"gemini-1.5-pro", "gemini-1.5-flash"},
			},
			llm.FrameworkOllama: {
				Models: []string{"llama3.2"},
			},
		},
		Defaults: DefaultsConfig{
			Model:        "gpt-4o-mini",
			Temperature:  0.7,
			SystemPrompt: DefaultSystemPrompt,
		},
		Web: WebConfig{
			TimeoutSeconds: 10,
			MaxRetries:     2,
			SearchURL:      "https://html.duckduckgo.com/html/",
		},
		Storage: StorageConfig{
			Backend:    StorageFile,
			ChatsDir:   "~/.polychat/chats",
			SQLitePath: "~/.polychat/chats.db",
		},
		MCPServers: make(map[string]*MCPServerConfig),
		OpenAI: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Anthropic: AnthropicConfig{
			MaxTokens: 4096,
		},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via POLYCHAT_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("POLYCHAT_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.polychat/config.yaml"
	}
	return filepath.Join(homeDir, ".polychat", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the configuration at path, merged onto Defaults, and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig Config
		if err := decode(expandedPath, data, &fileConfig); err != nil {
			return nil, err
		}

		if err := mergo.Merge(&cfg, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyEnv(&cfg, lookupEnv)

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]*MCPServerConfig)
	}
	cfg.Storage.ChatsDir = expandPath(cfg.Storage.ChatsDir)
	cfg.Storage.SQLitePath = expandPath(cfg.Storage.SQLitePath)

	return &cfg, cfg.Validate()
}

func decode(path string, data []byte, out *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) {
	override := func(dst *string, key string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	override(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	override(&cfg.OpenAI.Organization, "OPENAI_ORG_ID")
	override(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	override(&cfg.Mistral.APIKey, "MISTRAL_API_KEY")
	override(&cfg.DeepSeek.APIKey, "DEEPSEEK_API_KEY")
	override(&cfg.Google.APIKey, "GOOGLE_API_KEY")
	override(&cfg.Ollama.Host, "OLLAMA_HOST")
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	for name := range c.Frameworks {
		if !knownFramework(name) {
			return fmt.Errorf("unknown framework %q", name)
		}
	}
	for name, server := range c.MCPServers {
		if server == nil {
			return fmt.Errorf("mcp server %q has no configuration", name)
		}
	}
	return nil
}

func knownFramework(name string) bool {
	for _, f := range FrameworkOrder {
		if f == name {
			return true
		}
	}
	return false
}

// Save writes the configuration as YAML to path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MCPServerConfigs returns the configured MCP servers sorted by name.
func (c *Config) MCPServerConfigs() []mcp.ServerConfig {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]mcp.ServerConfig, 0, len(names))
	for _, name := range names {
		servers = append(servers, c.MCPServers[name].ToServerConfig(name))
	}
	return servers
}
