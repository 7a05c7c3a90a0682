package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterThreshold(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})

	assert.True(t, r.IsEndpointAvailable("gpt-4o"))

	r.MarkEndpointFailure("gpt-4o")
	r.MarkEndpointFailure("gpt-4o")
	assert.True(t, r.IsEndpointAvailable("gpt-4o"))

	r.MarkEndpointFailure("gpt-4o")
	assert.False(t, r.IsEndpointAvailable("gpt-4o"))

	health := r.GetEndpointHealth("gpt-4o")
	require.NotNil(t, health)
	assert.True(t, health.CircuitOpen)
	assert.Equal(t, 3, health.FailureCount)
}

func TestSuccessClosesCircuit(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	r.MarkEndpointFailure("gpt-4o")
	assert.False(t, r.IsEndpointAvailable("gpt-4o"))

	r.MarkEndpointSuccess("gpt-4o")
	assert.True(t, r.IsEndpointAvailable("gpt-4o"))

	health := r.GetEndpointHealth("gpt-4o")
	require.NotNil(t, health)
	assert.Equal(t, 0, health.FailureCount)
	assert.False(t, health.CircuitOpen)
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	r.MarkEndpointFailure("gpt-4o")
	assert.False(t, r.IsEndpointAvailable("gpt-4o"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.IsEndpointAvailable("gpt-4o"))
}

func TestAvailableFallbackChainSkipsOpenCircuits(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	r.MarkEndpointFailure("gpt-4o")

	chain := r.GetAvailableFallbackChain(TierQuality)
	assert.NotContains(t, chain, "gpt-4o")
	assert.Contains(t, chain, "gpt-4o-mini")
}

func TestAvailableFallbackChainFallsBackToFullChain(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	for _, name := range r.GetFallbackChain(TierSpeed) {
		r.MarkEndpointFailure(name)
	}

	// Everything down: better to try something than nothing.
	chain := r.GetAvailableFallbackChain(TierSpeed)
	assert.Equal(t, r.GetFallbackChain(TierSpeed), chain)
}

func TestResetEndpointHealth(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	r.MarkEndpointFailure("mistral")
	assert.False(t, r.IsEndpointAvailable("mistral"))

	r.ResetEndpointHealth("mistral")
	assert.True(t, r.IsEndpointAvailable("mistral"))
	assert.Nil(t, r.GetEndpointHealth("mistral"))
}
