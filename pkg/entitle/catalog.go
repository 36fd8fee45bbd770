package entitle

import "sort"

// Catalog is the immutable tier -> feature -> limit table. It is built
// once at startup and never mutated afterwards.
type Catalog struct {
	plans map[Tier]map[string]Limit
}

// NewCatalog builds a catalog from a plan table. The input maps are
// copied so later mutation of the argument has no effect.
func NewCatalog(plans map[Tier]map[string]Limit) *Catalog {
	copied := make(map[Tier]map[string]Limit, len(plans))
	for tier, features := range plans {
		entry := make(map[string]Limit, len(features))
		for feature, limit := range features {
			entry[feature] = limit
		}
		copied[tier] = entry
	}
	return &Catalog{plans: copied}
}

// DefaultCatalog returns the built-in plan table for the meal-planning
// feature set.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[Tier]map[string]Limit{
		TierFree: {
			FeatureRecipeParsing:    5,
			FeatureMenuSuggestions:  0,
			FeatureShoppingListSync: 1,
			FeaturePantryTracking:   1,
		},
		TierFamily: {
			FeatureRecipeParsing:     50,
			FeatureMenuSuggestions:   20,
			FeatureShoppingListSync:  1,
			FeaturePantryTracking:    1,
			FeatureHouseholdSharing:  1,
			FeatureNutritionInsights: 0,
		},
		TierPremium: {
			FeatureRecipeParsing:     LimitUnlimited,
			FeatureMenuSuggestions:   200,
			FeatureShoppingListSync:  1,
			FeaturePantryTracking:    1,
			FeatureHouseholdSharing:  1,
			FeatureNutritionInsights: 1,
		},
		TierLifetime: {
			FeatureRecipeParsing:     LimitUnlimited,
			FeatureMenuSuggestions:   LimitUnlimited,
			FeatureShoppingListSync:  1,
			FeaturePantryTracking:    1,
			FeatureHouseholdSharing:  1,
			FeatureNutritionInsights: 1,
		},
	})
}

// Feature names used by the default catalog.
const (
	FeatureRecipeParsing     = "ai_recipe_parsing"
	FeatureMenuSuggestions   = "ai_menu_suggestions"
	FeatureShoppingListSync  = "shopping_list_sync"
	FeaturePantryTracking    = "pantry_tracking"
	FeatureHouseholdSharing  = "household_sharing"
	FeatureNutritionInsights = "nutrition_insights"
)

// LimitFor returns the limit for a (tier, feature) pair. The second
// return is false when the tier does not offer the feature at all,
// which is distinct from an explicit limit of zero.
func (c *Catalog) LimitFor(tier Tier, feature string) (Limit, bool) {
	features, ok := c.plans[tier]
	if !ok {
		return 0, false
	}
	limit, ok := features[feature]
	return limit, ok
}

// HasTier reports whether the catalog defines the given tier.
func (c *Catalog) HasTier(tier Tier) bool {
	_, ok := c.plans[tier]
	return ok
}

// Features returns the sorted feature names offered by a tier.
func (c *Catalog) Features(tier Tier) []string {
	features := c.plans[tier]
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
