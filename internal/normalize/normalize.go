package normalize

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/raine/sherlockcombs/internal/shopping"
)

// UnparsablePrice is the value given to offers whose price cannot be read.
// It is larger than any real price so such offers sort last.
const UnparsablePrice = 999999

const (
	dataImagePrefix = "data:image/"
	defaultSource   = "Store"
)

var (
	hexEscapeRegex    = regexp.MustCompile(`\\x([0-9A-Fa-f]{2})`)
	nonPriceRegex     = regexp.MustCompile(`[^0-9.]`)
	leadingFloatRegex = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)
)

// DecodeThumbnail rewrites literal \xNN escapes in a thumbnail into the
// characters they stand for. It reports false when the thumbnail is missing
// or does not decode to an inline image, in which case a placeholder should
// be shown instead.
func DecodeThumbnail(thumbnail *string) (src string, ok bool) {
	if thumbnail == nil || *thumbnail == "" {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			src, ok = "", false
		}
	}()

	decoded := hexEscapeRegex.ReplaceAllStringFunc(*thumbnail, func(m string) string {
		b, err := strconv.ParseUint(m[2:], 16, 8)
		if err != nil {
			return m
		}
		return string(rune(b))
	})
	if !strings.HasPrefix(decoded, dataImagePrefix) {
		return "", false
	}
	return decoded, true
}

// Price returns the numeric value offers are compared by: the extracted price
// when the API sent one, otherwise the display price stripped down to digits
// and dots. Unreadable prices become UnparsablePrice.
func Price(r shopping.Result) float64 {
	if r.ExtractedPrice.Valid && !math.IsNaN(r.ExtractedPrice.Value) && !math.IsInf(r.ExtractedPrice.Value, 0) {
		return r.ExtractedPrice.Value
	}
	digits := nonPriceRegex.ReplaceAllString(r.Price, "")
	m := leadingFloatRegex.FindString(digits)
	if m == "" {
		return UnparsablePrice
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return UnparsablePrice
	}
	return v
}

// SortByPrice returns a copy of results ordered by ascending Price. Offers
// with equal prices keep their original order.
func SortByPrice(results []shopping.Result) []shopping.Result {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b shopping.Result) int {
		pa, pb := Price(a), Price(b)
		switch {
		case pa < pb:
			return -1
		case pa > pb:
			return 1
		}
		return 0
	})
	return sorted
}

// CleanPrice removes encoding artifacts from a display price: the stray "Â"
// left by a mis-decoded non-breaking space, and non-breaking spaces
// themselves.
func CleanPrice(price string) string {
	price = strings.ReplaceAll(price, "Â", "")
	price = strings.ReplaceAll(price, "\u00a0", " ")
	return strings.TrimSpace(price)
}

// Offer is the display form of a shopping result.
type Offer struct {
	Title       string  `json:"title"`
	Price       string  `json:"price"`               // Cleaned display price
	Value       float64 `json:"value"`               // Numeric price used for ordering
	Thumbnail   string  `json:"thumbnail,omitempty"` // Decoded data URI, empty when a placeholder is shown
	Rating      string  `json:"rating"`
	Source      string  `json:"source"`
	ProductLink string  `json:"productLink"`
	Best        bool    `json:"best"` // Lowest-priced offer
}

// HasThumbnail reports whether the offer has an image to show.
func (o Offer) HasThumbnail() bool {
	return o.Thumbnail != ""
}

// Offers returns the display form of results, cheapest first.
func Offers(results []shopping.Result) []Offer {
	sorted := SortByPrice(results)
	offers := make([]Offer, 0, len(sorted))
	for i, r := range sorted {
		thumb, _ := DecodeThumbnail(r.Thumbnail)
		source := defaultSource
		if r.Source != nil && *r.Source != "" {
			source = *r.Source
		}
		offers = append(offers, Offer{
			Title:       r.Title,
			Price:       CleanPrice(r.Price),
			Value:       Price(r),
			Thumbnail:   thumb,
			Rating:      string(r.Rating),
			Source:      source,
			ProductLink: r.ProductLink,
			Best:        i == 0,
		})
	}
	return offers
}

// LowestPrice returns the cleaned display price of the cheapest offer, or
// false when there are no results.
func LowestPrice(results []shopping.Result) (string, bool) {
	if len(results) == 0 {
		return "", false
	}
	return CleanPrice(SortByPrice(results)[0].Price), true
}
