package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// RegistryConfig represents the JSON configuration structure for the
// model registry, used under the "model_registry" key.
type RegistryConfig struct {
	Tiers     map[string]*TierConfig     `json:"tiers"`
	Endpoints map[string]*EndpointConfig `json:"endpoints"`
	Defaults  *DefaultsConfig            `json:"defaults,omitempty"`
}

// LoadFromFile loads a registry configuration from a JSON file.
// The file may contain a "model_registry" key with the configuration.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromJSON(data)
}

// LoadFromJSON loads a registry from JSON data.
// Accepts either a full config with "model_registry" key or just the registry config.
func LoadFromJSON(data []byte) (*Registry, error) {
	var fullConfig struct {
		ModelRegistry *RegistryConfig `json:"model_registry"`
	}
	if err := json.Unmarshal(data, &fullConfig); err == nil && fullConfig.ModelRegistry != nil {
		return registryFromConfig(fullConfig.ModelRegistry), nil
	}

	var regConfig RegistryConfig
	if err := json.Unmarshal(data, &regConfig); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}

	return registryFromConfig(&regConfig), nil
}

// registryFromConfig converts a RegistryConfig to a Registry.
func registryFromConfig(cfg *RegistryConfig) *Registry {
	tiers := make(map[Tier]*TierConfig, len(cfg.Tiers))
	for k, v := range cfg.Tiers {
		tiers[Tier(k)] = v
	}

	defaults := cfg.Defaults
	if defaults == nil {
		defaults = &DefaultsConfig{Endpoint: "default"}
	}

	return &Registry{
		tiers:     tiers,
		endpoints: cfg.Endpoints,
		defaults:  defaults,
	}
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tiers := make(map[string]*TierConfig, len(r.tiers))
	for k, v := range r.tiers {
		tiers[string(k)] = v
	}

	return &RegistryConfig{
		Tiers:     tiers,
		Endpoints: r.endpoints,
		Defaults:  r.defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range cfg.Tiers {
		r.tiers[Tier(k)] = v
	}

	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}

	if cfg.Defaults != nil {
		r.defaults = cfg.Defaults
	}
}
