package webhook

import (
	"fmt"
	"time"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

const (
	defaultMaxBodyBytes    = 256 * 1024
	defaultRateLimit       = 100
	defaultRateLimitWindow = time.Minute
)

// Config holds configuration for the webhook handler
type Config struct {
	// Manager processes decoded events (required)
	Manager *trialtrack.Manager

	// Secret, when set, requires an exact bearer-token match on the
	// Authorization header. When empty, authentication is disabled.
	Secret string

	// MaxBodyBytes caps the request body size (default: 256KB)
	MaxBodyBytes int64

	// RateLimit is the per-IP request budget per RateLimitWindow
	// (default: 100 per minute)
	RateLimit int

	// RateLimitWindow is the rate limiting window (default: 1 minute)
	RateLimitWindow time.Duration

	// Logger is used for structured logging (default: NoopLogger)
	Logger trialtrack.Logger

	// Metrics records webhook outcomes (default: NoopMetrics)
	Metrics trialtrack.Metrics
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	return nil
}
