package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/raine/sherlockcombs/internal/shopping"
)

func TestParseAnalysis(t *testing.T) {
	text := "```json\n" + `{
		"items": [
			{"name": "Shirt", "confidence": 0.4},
			{"name": "tie", "confidence": 0.9},
			{"name": "cape", "confidence": 0.95}
		],
		"colors": [{"color": "red", "confidence": 0.7}, {"color": "teal", "confidence": 0.8}],
		"styles": [{"style": "formal", "confidence": 0.5}, {"style": "casual", "confidence": 0.6}]
	}` + "\n```"

	analysis, err := parseAnalysis(text, DefaultVocabulary)
	require.NoError(t, err)

	assert.True(t, analysis.Success)
	assert.Equal(t, []shopping.Item{{Name: "tie", Confidence: 0.9}, {Name: "shirt", Confidence: 0.4}}, analysis.Items)
	assert.Equal(t, []shopping.Color{{Color: "red", Confidence: 0.7}}, analysis.Colors)
	assert.Equal(t, "casual", analysis.FirstStyle())
}

func TestParseAnalysis_Invalid(t *testing.T) {
	_, err := parseAnalysis("I can't see any clothes", DefaultVocabulary)
	assert.Error(t, err)

	_, err = parseAnalysis(`{"items": "shirt"}`, DefaultVocabulary)
	assert.Error(t, err)
}

func TestParseAnalysis_NothingKnown(t *testing.T) {
	analysis, err := parseAnalysis(`{"items": [{"name": "cape", "confidence": 1}], "colors": [], "styles": []}`, DefaultVocabulary)
	require.NoError(t, err)
	assert.Empty(t, analysis.Items)
	assert.Empty(t, analysis.Colors)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(Vocabulary{Items: []string{"coat", "scarf"}, Colors: []string{"red"}, Styles: []string{"vintage"}})

	assert.Contains(t, prompt, "Items: coat, scarf\n")
	assert.Contains(t, prompt, "Colors: red\n")
	assert.Contains(t, prompt, "Styles: vintage\n")
}

func TestBuildAnalysisSchema(t *testing.T) {
	schema := buildAnalysisSchema(DefaultVocabulary)

	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"items", "colors", "styles"}, schema.Required)

	items := schema.Properties["items"]
	require.NotNil(t, items)
	assert.Equal(t, genai.TypeArray, items.Type)
	assert.Equal(t, DefaultVocabulary.Items, items.Items.Properties["name"].Enum)
	assert.Equal(t, DefaultVocabulary.Colors, schema.Properties["colors"].Items.Properties["color"].Enum)
	assert.Equal(t, DefaultVocabulary.Styles, schema.Properties["styles"].Items.Properties["style"].Enum)
}

func TestCalculateGeminiCost(t *testing.T) {
	assert.InDelta(t, 0.3+2.5, calculateGeminiCost(1_000_000, 1_000_000, geminiInputPricePerMillion, geminiOutputPricePerMillion), 1e-9)
	assert.Equal(t, 0.0, calculateGeminiCost(0, 0, geminiInputPricePerMillion, geminiOutputPricePerMillion))
}

type mockCategorySource struct {
	mock.Mock
}

func (m *mockCategorySource) Categories(ctx context.Context) (*shopping.Categories, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shopping.Categories), args.Error(1)
}

func TestLoadVocabulary(t *testing.T) {
	t.Run("backend labels override", func(t *testing.T) {
		src := new(mockCategorySource)
		src.On("Categories", mock.Anything).Return(&shopping.Categories{
			Items:  []string{"kimono"},
			Colors: []string{"teal"},
		}, nil)

		vocab := LoadVocabulary(context.Background(), src)

		assert.Equal(t, []string{"kimono"}, vocab.Items)
		assert.Equal(t, []string{"teal"}, vocab.Colors)
		assert.Equal(t, DefaultVocabulary.Styles, vocab.Styles)
	})

	t.Run("backend error falls back", func(t *testing.T) {
		src := new(mockCategorySource)
		src.On("Categories", mock.Anything).Return(nil, errors.New("connection refused"))

		assert.Equal(t, DefaultVocabulary, LoadVocabulary(context.Background(), src))
	})

	t.Run("no source", func(t *testing.T) {
		assert.Equal(t, DefaultVocabulary, LoadVocabulary(context.Background(), nil))
	})
}
