package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pantryplan/entitle/pkg/entitle"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for subscription and usage inspection.
type Handler struct {
	config Config
}

// GetSubscription returns the caller's subscription view. Users with
// no row yet are reported on the free tier rather than as an error.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	sub, err := h.config.Service.GetSubscription(r.Context(), userID)
	if err != nil && !errors.Is(err, entitle.ErrSubscriptionNotFound) {
		h.handleError(w, r, fmt.Errorf("failed to get subscription: %w", err), http.StatusInternalServerError)
		return
	}

	resp := SubscriptionResponse{
		UserID: userID,
		Tier:   string(entitle.TierFree),
		Status: string(entitle.StatusActive),
		Active: true,
	}
	if sub != nil {
		resp.Tier = string(sub.Tier)
		resp.Status = string(sub.Status)
		resp.Active = sub.Status.Grants()
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		resp.TrialEndsAt = sub.TrialEndsAt
		resp.PeriodEnd = sub.PeriodEnd
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUsage returns per-feature usage against the caller's tier limits
// for the current monthly period.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	tier := entitle.TierFree
	sub, err := h.config.Service.GetSubscription(ctx, userID)
	if err != nil && !errors.Is(err, entitle.ErrSubscriptionNotFound) {
		h.handleError(w, r, fmt.Errorf("failed to get subscription: %w", err), http.StatusInternalServerError)
		return
	}
	if sub != nil && sub.Status.Grants() {
		tier = sub.Tier
	}

	features := h.config.Service.Catalog().Features(tier)
	if h.config.FeatureFilter != nil {
		features = h.config.FeatureFilter(features)
	}

	now := time.Now().UTC()
	usage := make(map[string]FeatureUsage, len(features))
	for _, feature := range features {
		var (
			used     int
			limit    entitle.Limit
			included bool
		)
		if sub == nil {
			// No row yet: report catalog limits with zero usage.
			limit, included = h.config.Service.Catalog().LimitFor(tier, feature)
		} else {
			used, limit, included, err = h.config.Service.FeatureUsage(ctx, userID, feature)
			if err != nil {
				// One feature failing should not blank the whole response.
				continue
			}
		}

		fu := FeatureUsage{
			Limit:    int(limit),
			Used:     used,
			Included: included && limit != 0,
		}
		switch {
		case limit == entitle.LimitUnlimited:
			fu.Remaining = -1
		case int(limit) > used:
			fu.Remaining = int(limit) - used
		default:
			fu.Remaining = 0
		}
		usage[feature] = fu
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		UserID:   userID,
		Tier:     string(tier),
		Period:   entitle.BucketKey(now),
		ResetAt:  entitle.BucketEnd(now),
		Features: usage,
	})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already sent; nothing left to do.
		return
	}
}
