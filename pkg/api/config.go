// Package api provides HTTP endpoints for inspecting a user's
// subscription and feature usage.
package api

import (
	"fmt"
	"net/http"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Config holds configuration for the entitlement API handler.
type Config struct {
	// Service is the entitlement service instance (required).
	Service *entitle.Service

	// GetUserID extracts the user id from an HTTP request (required).
	GetUserID func(*http.Request) string

	// FeatureFilter optionally restricts which features appear in the
	// usage response. If nil, all catalog features are included.
	FeatureFilter func([]string) []string

	// OnError handles errors (auth, internal, etc). If nil, errors are
	// returned as a JSON object with an "error" key.
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates an API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{config: config}, nil
}

// FromHeader returns a GetUserID function that reads a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that reads the request
// context, for use behind authentication middleware.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
