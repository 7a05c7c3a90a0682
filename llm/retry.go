package llm

import "time"

// RetryConfig bounds how hard the client leans on a single endpoint
// before moving down the tier's fallback chain.
type RetryConfig struct {
	// MaxAttempts is the number of tries against one endpoint. Attempts
	// beyond it are better spent on the next endpoint in the chain.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the delay on each further retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryConfig is tuned for page-range extraction calls. A chunk
// prompt carries up to twenty pages of text, so a single call routinely
// runs tens of seconds: two attempts per endpoint keep the chunk's
// wall-clock budget intact, and the backoff starts high enough not to
// hammer a model server that is merely loaded.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       5 * time.Second,
		BackoffMultiplier: 3.0,
		MaxBackoff:        45 * time.Second,
	}
}
