package llm

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/shopping"
)

// Analyzer detects clothing items, colors and styles in an image.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte, mimeType string) (*shopping.Analysis, error)
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Vocabulary is the set of labels the analysis may answer with.
type Vocabulary struct {
	Items  []string
	Colors []string
	Styles []string
}

// DefaultVocabulary matches the labels of the fashion analysis backend.
var DefaultVocabulary = Vocabulary{
	Items: []string{
		"short sleeve top", "long sleeve top", "t-shirt", "shirt", "blouse",
		"jacket", "coat", "hoodie", "cardigan", "blazer",
		"pants", "jeans", "trousers", "shorts", "skirt",
		"dress", "short sleeve dress", "long sleeve dress", "maxi dress",
		"bag", "handbag", "backpack", "shoes", "sneakers", "boots",
		"hat", "cap", "sunglasses", "watch", "belt",
		"sweater", "vest", "scarf", "tie",
	},
	Colors: []string{
		"red", "blue", "green", "black", "white",
		"yellow", "pink", "purple", "brown", "gray",
		"orange", "navy", "beige",
	},
	Styles: []string{
		"casual", "formal", "sporty", "elegant",
		"vintage", "modern", "streetwear",
	},
}

// CategorySource serves the backend's label vocabulary.
type CategorySource interface {
	Categories(ctx context.Context) (*shopping.Categories, error)
}

// LoadVocabulary asks the backend for its labels, using DefaultVocabulary
// for any list it cannot provide.
func LoadVocabulary(ctx context.Context, src CategorySource) Vocabulary {
	vocab := DefaultVocabulary
	if src == nil {
		return vocab
	}

	categories, err := src.Categories(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load backend categories, using built-in vocabulary")
		return vocab
	}
	if len(categories.Items) > 0 {
		vocab.Items = categories.Items
	}
	if len(categories.Colors) > 0 {
		vocab.Colors = categories.Colors
	}
	if len(categories.Styles) > 0 {
		vocab.Styles = categories.Styles
	}
	return vocab
}
