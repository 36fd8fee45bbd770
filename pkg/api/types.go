package api

import "time"

// SubscriptionResponse is the external view of a subscription row.
// Provider identifiers stay internal; clients only need the shape of
// their plan.
type SubscriptionResponse struct {
	UserID            string     `json:"user_id"`
	Tier              string     `json:"tier"`
	Status            string     `json:"status"`
	Active            bool       `json:"active"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
}

// UsageResponse represents current usage across catalog features.
type UsageResponse struct {
	UserID   string                  `json:"user_id"`
	Tier     string                  `json:"tier"`
	Period   string                  `json:"period"`
	ResetAt  time.Time               `json:"reset_at"`
	Features map[string]FeatureUsage `json:"features"`
}

// FeatureUsage is one feature's standing within the current period.
// Limit is -1 for unlimited and 0 for features the tier does not
// include; Remaining mirrors Limit's sentinel values.
type FeatureUsage struct {
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Included  bool `json:"included"`
}
