package dispatch

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// StatusPublished is the only content status that triggers notifications.
const StatusPublished = "published"

// Taxonomies recognized on content terms.
const (
	TaxonomyCategory = "category"
	TaxonomyStore    = "store"
)

// MetaDiscountPercent is the metadata key holding an explicit discount.
const MetaDiscountPercent = "discount_percent"

// Term is a taxonomy term attached to a content item.
type Term struct {
	ID       int64  `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Slug     string `json:"slug"`
	Name     string `json:"name,omitempty"`
}

// ContentItem is a published content record as delivered by the host system.
type ContentItem struct {
	ID      int64             `json:"id"`
	Status  string            `json:"status"`
	Title   string            `json:"title"`
	URL     string            `json:"url"`
	Excerpt string            `json:"excerpt"`
	Body    string            `json:"body"`
	Terms   []Term            `json:"terms"`
	Meta    map[string]string `json:"meta"`
}

// Classifier decides whether a content item is a deal.
type Classifier func(item *ContentItem) bool

// CategoryClassifier treats an item as a deal when it carries the category
// with slug categorySlug, or when its flagMeta metadata value is truthy.
// Either argument may be empty to disable that rule.
func CategoryClassifier(categorySlug, flagMeta string) Classifier {
	return func(item *ContentItem) bool {
		if flagMeta != "" && truthy(item.Meta[flagMeta]) {
			return true
		}
		if categorySlug == "" {
			return false
		}
		for _, t := range item.Terms {
			if t.Taxonomy == TaxonomyCategory && strings.EqualFold(t.Slug, categorySlug) {
				return true
			}
		}
		return false
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

var (
	percentRe = regexp.MustCompile(`\b(\d{1,3})\s*%`)
	tagRe     = regexp.MustCompile(`<[^>]*>`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

const excerptLength = 280

// ExtractDeal builds the deal snapshot used for matching.
func ExtractDeal(item *ContentItem, now time.Time) *storage.Deal {
	deal := &storage.Deal{
		ID:              item.ID,
		Title:           strings.TrimSpace(item.Title),
		URL:             strings.TrimSpace(item.URL),
		Excerpt:         excerptOf(item),
		DiscountPercent: discountOf(item),
		Categories:      []int64{},
		Stores:          []int64{},
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	for _, t := range item.Terms {
		switch t.Taxonomy {
		case TaxonomyCategory:
			deal.Categories = append(deal.Categories, t.ID)
		case TaxonomyStore:
			deal.Stores = append(deal.Stores, t.ID)
		}
	}
	deal.Categories = storage.NormalizeIDs(deal.Categories)
	deal.Stores = storage.NormalizeIDs(deal.Stores)
	return deal
}

// discountOf prefers explicit metadata and falls back to the first
// percentage mentioned in the title or body.
func discountOf(item *ContentItem) int {
	if raw, ok := item.Meta[MetaDiscountPercent]; ok {
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "%"), 64)
		if err == nil {
			return clampPercent(int(v))
		}
	}
	m := percentRe.FindStringSubmatch(item.Title + " " + stripTags(item.Body))
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return clampPercent(v)
}

func clampPercent(v int) int {
	return max(0, min(100, v))
}

func excerptOf(item *ContentItem) string {
	s := strings.TrimSpace(item.Excerpt)
	if s == "" {
		s = stripTags(item.Body)
	}
	if utf8.RuneCountInString(s) <= excerptLength {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:excerptLength])) + "…"
}

func stripTags(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
