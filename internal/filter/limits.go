package filter

import (
	"fmt"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// Limits caps the filters a tier may configure. A negative value means
// unlimited.
type Limits struct {
	Total      int `json:"total"`
	Categories int `json:"categories"`
	Stores     int `json:"stores"`
}

// tierLimits is keyed by storage.Tier.
var tierLimits = map[storage.Tier]Limits{
	storage.TierBasic: {Total: 1, Categories: 1, Stores: 1},
	storage.TierPlus:  {Total: 7, Categories: 3, Stores: 3},
	storage.TierPro:   {Total: -1, Categories: -1, Stores: -1},
}

// LimitsFor returns the limits of tier. ok is false for a non-qualifying tier.
func LimitsFor(tier storage.Tier) (Limits, bool) {
	l, ok := tierLimits[tier]
	return l, ok
}

// LimitError describes which tier limit a preference set exceeds.
type LimitError struct {
	Tier      storage.Tier
	Dimension string
	Count     int
	Max       int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tier %d allows at most %d %s, got %d", e.Tier, e.Max, e.Dimension, e.Count)
}

// ValidateLimits checks prefs against the limits of prefs.Tier.
func ValidateLimits(prefs storage.Preferences) error {
	l, ok := LimitsFor(prefs.Tier)
	if !ok {
		return fmt.Errorf("tier %d is not a qualifying tier", prefs.Tier)
	}
	if exceeds(l.Categories, len(prefs.CategoryAllowlist)) {
		return &LimitError{Tier: prefs.Tier, Dimension: "categories", Count: len(prefs.CategoryAllowlist), Max: l.Categories}
	}
	if exceeds(l.Stores, len(prefs.StoreAllowlist)) {
		return &LimitError{Tier: prefs.Tier, Dimension: "stores", Count: len(prefs.StoreAllowlist), Max: l.Stores}
	}
	if total := prefs.ActiveFilterCount(); exceeds(l.Total, total) {
		return &LimitError{Tier: prefs.Tier, Dimension: "filters", Count: total, Max: l.Total}
	}
	return nil
}

func exceeds(limit, n int) bool {
	return limit >= 0 && n > limit
}
