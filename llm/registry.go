package llm

import (
	"os"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
)

const (
	FrameworkOpenAI    = "openai"
	FrameworkAnthropic = "anthropic"
	FrameworkMistral   = "mistral"
	FrameworkDeepSeek  = "deepseek"
	FrameworkGoogle    = "google"
	FrameworkOllama    = "ollama"
)

const maxSuggestions = 3

// FrameworkSpec describes one framework's allow-list and credential.
type FrameworkSpec struct {
	Name    string
	Models  []string
	Aliases map[string]string // alias -> model name
	APIKey  string            // from config; <NAME>_API_KEY is consulted when empty
	Keyless bool              // local frameworks need no credential
}

// FrameworkRegistry maps model names to frameworks and decides which
// frameworks are available. Credential presence, not value, gates
// availability.
type FrameworkRegistry struct {
	mu        sync.RWMutex
	specs     []FrameworkSpec
	lookupEnv func(string) (string, bool)
}

// RegistryOption configures a FrameworkRegistry.
type RegistryOption func(*FrameworkRegistry)

// WithEnvLookup replaces os.LookupEnv for credential discovery.
func WithEnvLookup(lookup func(string) (string, bool)) RegistryOption {
	return func(r *FrameworkRegistry) {
		r.lookupEnv = lookup
	}
}

// NewFrameworkRegistry creates a registry from specs, keeping their order.
func NewFrameworkRegistry(specs []FrameworkSpec, opts ...RegistryOption) *FrameworkRegistry {
	r := &FrameworkRegistry{
		specs:     append([]FrameworkSpec(nil), specs...),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CredentialEnv returns the environment variable holding a framework's API key.
func CredentialEnv(framework string) string {
	return strings.ToUpper(framework) + "_API_KEY"
}

// Credential returns the API key for a framework, preferring config over env.
func (r *FrameworkRegistry) Credential(framework string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.spec(framework)
	if !ok {
		return ""
	}
	return r.credential(spec)
}

func (r *FrameworkRegistry) credential(spec FrameworkSpec) string {
	if spec.APIKey != "" {
		return spec.APIKey
	}
	if v, ok := r.lookupEnv(CredentialEnv(spec.Name)); ok {
		return v
	}
	return ""
}

func (r *FrameworkRegistry) spec(name string) (FrameworkSpec, bool) {
	return lo.Find(r.specs, func(s FrameworkSpec) bool { return s.Name == name })
}

func (r *FrameworkRegistry) available(spec FrameworkSpec) bool {
	if len(spec.Models) == 0 {
		return false
	}
	return spec.Keyless || r.credential(spec) != ""
}

// IsAvailable reports whether a framework has models and credentials.
func (r *FrameworkRegistry) IsAvailable(framework string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.spec(framework)
	return ok && r.available(spec)
}

// Configured lists every framework known to the registry.
func (r *FrameworkRegistry) Configured() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.specs, func(s FrameworkSpec, _ int) string { return s.Name })
}

// Available lists the frameworks that can serve requests, in config order.
func (r *FrameworkRegistry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FilterMap(r.specs, func(s FrameworkSpec, _ int) (string, bool) {
		return s.Name, r.available(s)
	})
}

// Models lists every model of every available framework, in config order.
func (r *FrameworkRegistry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var models []string
	for _, s := range r.specs {
		if r.available(s) {
			models = append(models, s.Models...)
		}
	}
	return models
}

// ResolveModel returns the framework serving model and the canonical model
// name (aliases are expanded). Unknown models and models whose framework is
// unavailable fail with *UnknownModelError.
func (r *FrameworkRegistry) ResolveModel(model string) (framework, canonical string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.specs {
		name := model
		if target, ok := s.Aliases[model]; ok {
			name = target
		}
		if !lo.Contains(s.Models, name) {
			continue
		}
		if !r.available(s) {
			return "", "", &UnknownModelError{Model: model, Framework: s.Name}
		}
		return s.Name, name, nil
	}

	return "", "", &UnknownModelError{Model: model, Suggestions: r.suggest(model)}
}

func (r *FrameworkRegistry) suggest(model string) []string {
	var candidates []string
	for _, s := range r.specs {
		if !r.available(s) {
			continue
		}
		candidates = append(candidates, s.Models...)
		candidates = append(candidates, lo.Keys(s.Aliases)...)
	}
	matches := fuzzy.Find(model, candidates)
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	return lo.Map(matches, func(m fuzzy.Match, _ int) string { return m.Str })
}
