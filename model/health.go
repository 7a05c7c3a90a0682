package model

import (
	"sync"
	"time"
)

// EndpointHealth is a snapshot of one endpoint's circuit state.
type EndpointHealth struct {
	// Available indicates if the endpoint is currently usable.
	Available bool `json:"available"`

	// LastSuccess is the time of the last successful request.
	LastSuccess time.Time `json:"last_success,omitempty"`

	// LastFailure is the time of the last failed request.
	LastFailure time.Time `json:"last_failure,omitempty"`

	// FailureCount is the number of consecutive failures.
	FailureCount int `json:"failure_count"`

	// CircuitOpen indicates if the circuit breaker has tripped.
	CircuitOpen bool `json:"circuit_open"`

	// CircuitOpenedAt is when the circuit was opened.
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitempty"`
}

// HealthConfig tunes the per-endpoint circuit breaker.
type HealthConfig struct {
	// FailureThreshold is how many consecutive exhausted calls open the
	// circuit. A failure here is a whole retry budget spent, not a
	// single bad request.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit keeps the endpoint
	// out of the chain before one probe request is let through.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig is tuned for extraction backends: a model server
// that burns through several chunk retry budgets in a row tends to stay
// bad for a while (cold model reload, saturated GPU), so the cascade
// moves down the tier chain and only probes the endpoint again after a
// full minute.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	}
}

// healthState is the circuit breaker shared by a registry's endpoints.
// It is what turns GetAvailableFallbackChain into a health-aware view
// of the tier chain instead of a static list.
type healthState struct {
	mu       sync.Mutex
	config   HealthConfig
	statuses map[string]*EndpointHealth
}

func newHealthState(cfg HealthConfig) *healthState {
	return &healthState{
		config:   cfg,
		statuses: make(map[string]*EndpointHealth),
	}
}

func (h *healthState) markSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.locked(name)
	status.LastSuccess = time.Now()
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
}

func (h *healthState) markFailure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.locked(name)
	status.LastFailure = time.Now()
	status.FailureCount++
	if status.FailureCount >= h.config.FailureThreshold {
		status.CircuitOpen = true
		status.CircuitOpenedAt = time.Now()
		status.Available = false
	}
}

// available reports whether the endpoint should receive requests. An
// open circuit past its recovery timeout admits one probe request.
func (h *healthState) available(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[name]
	if !ok || !status.CircuitOpen {
		return true
	}
	return time.Since(status.CircuitOpenedAt) > h.config.RecoveryTimeout
}

func (h *healthState) snapshot(name string) *EndpointHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[name]
	if !ok {
		return nil
	}
	copied := *status
	return &copied
}

func (h *healthState) reset(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.statuses, name)
}

// locked returns the status entry for name; h.mu must be held.
func (h *healthState) locked(name string) *EndpointHealth {
	status, ok := h.statuses[name]
	if !ok {
		status = &EndpointHealth{Available: true}
		h.statuses[name] = status
	}
	return status
}

// healthTracker returns the registry's circuit breaker, creating it
// with defaults on first use.
func (r *Registry) healthTracker() *healthState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.health == nil {
		r.health = newHealthState(DefaultHealthConfig())
	}
	return r.health
}

// MarkEndpointSuccess closes the endpoint's circuit.
func (r *Registry) MarkEndpointSuccess(name string) {
	r.healthTracker().markSuccess(name)
}

// MarkEndpointFailure records one exhausted retry budget against the
// endpoint; reaching the failure threshold opens its circuit.
func (r *Registry) MarkEndpointFailure(name string) {
	r.healthTracker().markFailure(name)
}

// IsEndpointAvailable reports whether the endpoint should be tried. A
// registry that never recorded anything treats every endpoint as up.
func (r *Registry) IsEndpointAvailable(name string) bool {
	r.mu.RLock()
	health := r.health
	r.mu.RUnlock()

	if health == nil {
		return true
	}
	return health.available(name)
}

// GetEndpointHealth returns a copy of the endpoint's circuit state, or
// nil when nothing has been recorded for it.
func (r *Registry) GetEndpointHealth(name string) *EndpointHealth {
	r.mu.RLock()
	health := r.health
	r.mu.RUnlock()

	if health == nil {
		return nil
	}
	return health.snapshot(name)
}

// GetAvailableFallbackChain is the tier's fallback chain with open
// circuits skipped. When the whole chain is down it returns the chain
// unfiltered: probing a dead endpoint beats refusing the chunk outright.
func (r *Registry) GetAvailableFallbackChain(tier Tier) []string {
	chain := r.GetFallbackChain(tier)
	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.IsEndpointAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}

// SetHealthConfig replaces the circuit breaker tuning.
func (r *Registry) SetHealthConfig(cfg HealthConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.health == nil {
		r.health = newHealthState(cfg)
		return
	}
	r.health.mu.Lock()
	r.health.config = cfg
	r.health.mu.Unlock()
}

// ResetEndpointHealth forgets the endpoint's recorded state.
func (r *Registry) ResetEndpointHealth(name string) {
	r.mu.RLock()
	health := r.health
	r.mu.RUnlock()

	if health != nil {
		health.reset(name)
	}
}
