package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// Config holds configuration for the report API handler
type Config struct {
	// Manager is the trial tracking manager instance (required)
	Manager *trialtrack.Manager

	// GetAppSlug extracts the app slug from an HTTP request (required)
	GetAppSlug func(*http.Request) string

	// GetUserID extracts the user ID for user lookup requests.
	// Only required when the GetUser endpoint is mounted.
	GetUserID func(*http.Request) string

	// OnError handles errors (unknown app, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger trialtrack.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.GetAppSlug == nil {
		return fmt.Errorf("getAppSlug is required")
	}
	return nil
}

// NewHandler creates a new report API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = &trialtrack.NoopLogger{}
	}
	return &Handler{
		config: config,
		logger: logger,
	}, nil
}

// Helper functions for common slug / user ID extraction patterns

// FromURLParam returns an extractor that reads a chi route parameter
func FromURLParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// FromQuery returns an extractor that reads a query string parameter
func FromQuery(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}
