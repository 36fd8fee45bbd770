// Package http provides HTTP middleware for feature gating.
package http

import (
	"fmt"
	"net/http"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// FeatureExtractor extracts the feature name from an HTTP request.
// For example: "ai_recipe_parsing", "menu_suggestions".
type FeatureExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Service is the entitlement service instance (required).
	Service *entitle.Service

	// GetUserID extracts the user id from the request (required).
	GetUserID UserIDExtractor

	// GetFeature extracts the feature name from the request (required).
	GetFeature FeatureExtractor

	// RecordOnAllow, when positive, records that many usage units
	// after an allowed decision, before control passes downstream. A
	// zero value gates access without touching the usage counters.
	RecordOnAllow int

	// OnDenied is called when access is denied.
	// If nil, a status derived from the denial kind is returned:
	// 429 for exhausted quotas, 402 for anything an upgrade or payment
	// would fix, 403 otherwise.
	OnDenied func(w http.ResponseWriter, r *http.Request, decision entitle.Decision)

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that gates requests on feature
// access. The evaluation fails closed: a store error denies the
// request rather than letting it through unmetered.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			feature := config.GetFeature(r)
			ctx := r.Context()

			decision, err := config.Service.CanUseFeature(ctx, userID, feature)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !decision.Allowed {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
				} else {
					msg := fmt.Sprintf("%s: %s", feature, decision.Reason)
					http.Error(w, msg, statusForDenial(decision.Kind))
				}
				return
			}

			if config.RecordOnAllow > 0 {
				if err := config.Service.RecordUsage(ctx, userID, feature, config.RecordOnAllow); err != nil {
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates the same middleware for http.HandlerFunc chains.
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func statusForDenial(kind entitle.DenialKind) int {
	switch kind {
	case entitle.DenyQuotaExhausted:
		return http.StatusTooManyRequests
	case entitle.DenyUpgradeRequired, entitle.DenyPaymentRequired, entitle.DenyNotInPlan:
		return http.StatusPaymentRequired
	default:
		return http.StatusForbidden
	}
}

// Common extractors for convenience.

// UserIDFromHeader extracts the user id from a header.
func UserIDFromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FixedFeature always gates on the same feature.
func FixedFeature(feature string) FeatureExtractor {
	return func(r *http.Request) string {
		return feature
	}
}
