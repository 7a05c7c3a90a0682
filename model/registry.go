package model

import (
	"encoding/json"
	"sync"
)

// Registry manages model selection based on tiers.
// It maps tiers to preferred endpoints with fallback chains and tracks
// per-endpoint health for circuit breaking.
type Registry struct {
	mu        sync.RWMutex
	tiers     map[Tier]*TierConfig
	endpoints map[string]*EndpointConfig
	defaults  *DefaultsConfig
	health    *healthState
}

// TierConfig defines endpoint preferences for a tier.
type TierConfig struct {
	// Description explains what this tier is for.
	Description string `json:"description"`

	// Preferred lists endpoints in order of preference.
	// The first available endpoint is used.
	Preferred []string `json:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback"`
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the model provider (openai, ollama).
	Provider string `json:"provider"`

	// URL is the API endpoint URL.
	URL string `json:"url,omitempty"`

	// Model is the actual model identifier to send to the provider.
	Model string `json:"model"`

	// MaxTokens is the context window size.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	// Endpoint is the default endpoint when no tier matches.
	Endpoint string `json:"endpoint"`
}

// NewRegistry creates a new model registry with the given configuration.
func NewRegistry(tiers map[Tier]*TierConfig, endpoints map[string]*EndpointConfig) *Registry {
	return &Registry{
		tiers:     tiers,
		endpoints: endpoints,
		defaults: &DefaultsConfig{
			Endpoint: "default",
		},
	}
}

// NewDefaultRegistry creates a registry with sensible defaults.
// Used when no configuration is provided.
func NewDefaultRegistry() *Registry {
	return &Registry{
		tiers: map[Tier]*TierConfig{
			TierQuality: {
				Description: "Difficult scans, dense literary prose",
				Preferred:   []string{"gpt-4o"},
				Fallback:    []string{"gpt-4o-mini", "mistral"},
			},
			TierBalanced: {
				Description: "Typical documents, default tradeoff",
				Preferred:   []string{"gpt-4o-mini"},
				Fallback:    []string{"mistral"},
			},
			TierSpeed: {
				Description: "Fast, cheap extraction of simple text",
				Preferred:   []string{"gpt-4o-mini"},
				Fallback:    []string{"llama3.2"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"gpt-4o": {
				Provider:  "openai",
				URL:       "https://api.openai.com/v1",
				Model:     "gpt-4o",
				MaxTokens: 128000,
			},
			"gpt-4o-mini": {
				Provider:  "openai",
				URL:       "https://api.openai.com/v1",
				Model:     "gpt-4o-mini",
				MaxTokens: 128000,
			},
			"mistral": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "mistral",
				MaxTokens: 32768,
			},
			"llama3.2": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "llama3.2",
				MaxTokens: 128000,
			},
		},
		defaults: &DefaultsConfig{
			Endpoint: "gpt-4o-mini",
		},
	}
}

// Resolve returns the preferred endpoint for a tier.
// Returns the first endpoint in the preferred list.
// Fallback handling is done by the caller on failure (lazy approach).
func (r *Registry) Resolve(tier Tier) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.tiers[tier]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaults.Endpoint
}

// GetFallbackChain returns all endpoints for a tier in order of preference.
// Used by the extraction pipeline when the primary fails.
func (r *Registry) GetFallbackChain(tier Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.tiers[tier]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		chain = append(chain, cfg.Fallback...)
		return chain
	}
	return []string{r.defaults.Endpoint}
}

// GetDegradedChain returns the fallback chain for a tier followed by the
// chains of every lower tier, deduplicated. This is the full degradation
// path: quality falls through balanced to speed before giving up.
func (r *Registry) GetDegradedChain(tier Tier) []string {
	seen := make(map[string]bool)
	var chain []string
	appendChain := func(names []string) {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				chain = append(chain, name)
			}
		}
	}
	appendChain(r.GetFallbackChain(tier))
	for _, lower := range tier.Below() {
		appendChain(r.GetFallbackChain(lower))
	}
	return chain
}

// GetEndpoint returns the endpoint configuration for an endpoint name.
// Returns nil if the endpoint is not configured.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[name]
}

// SetTier updates or adds a tier configuration.
func (r *Registry) SetTier(tier Tier, cfg *TierConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tiers == nil {
		r.tiers = make(map[Tier]*TierConfig)
	}
	r.tiers[tier] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	r.endpoints[name] = cfg
}

// SetDefault sets the default endpoint.
func (r *Registry) SetDefault(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaults == nil {
		r.defaults = &DefaultsConfig{}
	}
	r.defaults.Endpoint = endpoint
}

// ListTiers returns all configured tiers.
func (r *Registry) ListTiers() []Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tiers := make([]Tier, 0, len(r.tiers))
	for tier := range r.tiers {
		tiers = append(tiers, tier)
	}
	return tiers
}

// ListEndpoints returns all configured endpoint names.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}

// MarshalJSON implements json.Marshaler for the registry.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return json.Marshal(struct {
		Tiers     map[Tier]*TierConfig       `json:"tiers"`
		Endpoints map[string]*EndpointConfig `json:"endpoints"`
		Defaults  *DefaultsConfig            `json:"defaults,omitempty"`
	}{
		Tiers:     r.tiers,
		Endpoints: r.endpoints,
		Defaults:  r.defaults,
	})
}

// UnmarshalJSON implements json.Unmarshaler for the registry.
func (r *Registry) UnmarshalJSON(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tmp struct {
		Tiers     map[Tier]*TierConfig       `json:"tiers"`
		Endpoints map[string]*EndpointConfig `json:"endpoints"`
		Defaults  *DefaultsConfig            `json:"defaults,omitempty"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	r.tiers = tmp.Tiers
	r.endpoints = tmp.Endpoints
	r.defaults = tmp.Defaults
	return nil
}
