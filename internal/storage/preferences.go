package storage

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Discount threshold bounds accepted for Preferences.MinDiscount.
const (
	MinDiscountFloor = 10
	MinDiscountCeil  = 90
	MinDiscountStep  = 5
)

// ValidMinDiscount reports whether v is an allowed discount threshold.
func ValidMinDiscount(v int) bool {
	return v >= MinDiscountFloor && v <= MinDiscountCeil && v%MinDiscountStep == 0
}

// DecodePreferences parses a stored preferences document. It never fails:
// malformed or legacy shapes normalize to safe defaults so that one bad row
// cannot break matching for everybody else.
func DecodePreferences(raw string, tier Tier) Preferences {
	p := Preferences{Tier: tier}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return p
	}

	p.NotificationsEnabled = decodeBool(fields["notifications_enabled"])
	p.Channels = decodeChannels(fields["channels"])
	p.CategoryAllowlist = decodeIDSet(fields["category_allowlist"])
	p.StoreAllowlist = decodeIDSet(fields["store_allowlist"])
	if v, ok := decodeInt(fields["min_discount"]); ok && ValidMinDiscount(v) {
		p.MinDiscount = &v
	}
	return p
}

// EncodePreferences serializes p for storage. Tier is not part of the
// document.
func EncodePreferences(p Preferences) (string, error) {
	if p.Channels == nil {
		p.Channels = []Channel{}
	}
	if p.CategoryAllowlist == nil {
		p.CategoryAllowlist = []int64{}
	}
	if p.StoreAllowlist == nil {
		p.StoreAllowlist = []int64{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding preferences: %w", err)
	}
	return string(b), nil
}

func decodeBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	if v, ok := decodeInt(raw); ok {
		return v != 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

// decodeInt accepts a JSON number or a numeric string.
func decodeInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil {
			return v, true
		}
	}
	return 0, false
}

// decodeIDSet reads an array of positive ids given as numbers or numeric
// strings. Anything that is not an array yields an empty set.
func decodeIDSet(raw json.RawMessage) []int64 {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []int64{}
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		v, ok := decodeInt(item)
		if !ok || v <= 0 {
			continue
		}
		out = append(out, int64(v))
	}
	return NormalizeIDs(out)
}

func decodeChannels(raw json.RawMessage) []Channel {
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return []Channel{}
	}
	out := make([]Channel, 0, len(items))
	for _, item := range items {
		c, err := ParseChannel(item)
		if err != nil || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// NormalizeIDs drops non-positive ids, sorts and de-duplicates.
func NormalizeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
