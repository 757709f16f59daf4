package shopping

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Item is a clothing item detected in an image.
type Item struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Color is a dominant color detected in an image.
type Color struct {
	Color      string  `json:"color"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Style is an overall style label detected in an image.
type Style struct {
	Style      string  `json:"style"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Analysis is the response of the analysis endpoint. Items, colors and styles
// are ordered by confidence, highest first.
type Analysis struct {
	Success bool    `json:"success"`
	Items   []Item  `json:"items"`
	Colors  []Color `json:"colors"`
	Styles  []Style `json:"styles"`
	Message string  `json:"message,omitempty"`
}

// FirstStyle returns the top style label, or "" when there is none.
func (a *Analysis) FirstStyle() string {
	if a == nil || len(a.Styles) == 0 {
		return ""
	}
	return a.Styles[0].Style
}

// Result is one offer returned by the shopping endpoint. It is kept exactly
// as received; display values are derived elsewhere.
type Result struct {
	Title          string  `json:"title"`
	Price          string  `json:"price"`
	ExtractedPrice Number  `json:"extracted_price"`
	Thumbnail      *string `json:"thumbnail,omitempty"`
	Rating         Rating  `json:"rating"`
	Reviews        Number  `json:"reviews"`
	Source         *string `json:"source,omitempty"`
	ProductLink    string  `json:"product_link"`
}

// SearchResponse is the body of the shopping endpoint.
type SearchResponse struct {
	ShoppingResults []Result `json:"shopping_results"`
}

// Health is the body of the backend health endpoint.
type Health struct {
	Status       string `json:"status"`
	FashionModel string `json:"fashion_model"`
	CaptionModel string `json:"caption_model"`
}

// OK reports whether the backend says it is healthy.
func (h *Health) OK() bool {
	return h != nil && h.Status == "healthy"
}

// Categories is the vocabulary the analysis backend classifies into.
type Categories struct {
	Items  []string `json:"items"`
	Colors []string `json:"colors"`
	Styles []string `json:"styles"`
}

// Number is an optional JSON number. Values that are missing, null or not a
// number leave it invalid.
type Number struct {
	Value float64
	Valid bool
}

// NewNumber returns a valid Number.
func NewNumber(v float64) Number {
	return Number{Value: v, Valid: true}
}

func (n *Number) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = Number{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*n = Number{}
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Rating is a rating that the API sends either as a number or as a string.
type Rating string

func (r *Rating) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Rating(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Rating(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}
