package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/raine/sherlockcombs/internal/shopping"
)

const geminiModel = "gemini-2.5-flash"

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.30
	geminiOutputPricePerMillion = 2.50
)

const fashionPrompt = `Analyze the outfit in this image for a shopping search.

List the clothing items you can see, the dominant colors and the overall style.
Use ONLY labels from these lists:

Items: %s
Colors: %s
Styles: %s

Order every list by confidence, highest first, and give each entry a confidence between 0 and 1.
Include at most 10 items, 5 colors and 5 styles.

Example response:
{"items": [{"name": "blazer", "confidence": 0.82}, {"name": "shirt", "confidence": 0.64}], "colors": [{"color": "navy", "confidence": 0.71}], "styles": [{"style": "formal", "confidence": 0.77}]}

Respond ONLY with the JSON object, no markdown or other text.`

// GeminiAnalyzer detects clothing with Gemini vision, answering in the same
// shape as the analysis endpoint.
type GeminiAnalyzer struct {
	client *genai.Client
	vocab  Vocabulary
}

// NewGeminiAnalyzer creates a Gemini-based analyzer restricted to vocab.
func NewGeminiAnalyzer(ctx context.Context, apiKey string, vocab Vocabulary) (*GeminiAnalyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAnalyzer{client: client, vocab: vocab}, nil
}

// Analyze implements the Analyzer interface using Gemini.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, imageData []byte, mimeType string) (*shopping.Analysis, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("no image data provided")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	parts := []*genai.Part{
		genai.NewPartFromText(buildPrompt(g.vocab)),
		{InlineData: &genai.Blob{Data: imageData, MIMEType: mimeType}},
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   buildAnalysisSchema(g.vocab),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini")
	}

	analysis, err := parseAnalysis(result.Text(), g.vocab)
	if err != nil {
		return nil, err
	}

	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens, geminiInputPricePerMillion, geminiOutputPricePerMillion)
	}

	log.Info().
		Str("model", geminiModel).
		Int("items", len(analysis.Items)).
		Int("colors", len(analysis.Colors)).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("vision llm call")

	return analysis, nil
}

func buildPrompt(vocab Vocabulary) string {
	return fmt.Sprintf(fashionPrompt,
		strings.Join(vocab.Items, ", "),
		strings.Join(vocab.Colors, ", "),
		strings.Join(vocab.Styles, ", "),
	)
}

// buildAnalysisSchema creates the JSON schema of the analysis response with
// every label restricted to the vocabulary.
func buildAnalysisSchema(vocab Vocabulary) *genai.Schema {
	labelList := func(key string, labels []string) *genai.Schema {
		return &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					key:          {Type: genai.TypeString, Enum: labels},
					"confidence": {Type: genai.TypeNumber},
				},
				Required:         []string{key, "confidence"},
				PropertyOrdering: []string{key, "confidence"},
			},
		}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"items":  labelList("name", vocab.Items),
			"colors": labelList("color", vocab.Colors),
			"styles": labelList("style", vocab.Styles),
		},
		Required:         []string{"items", "colors", "styles"},
		PropertyOrdering: []string{"items", "colors", "styles"},
	}
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}

// extractJSONObject extracts a JSON object from text that may contain markdown
// code blocks or other formatting. Returns the extracted JSON string or an error.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

// parseAnalysis decodes a model response, drops labels outside the
// vocabulary and orders each list by confidence.
func parseAnalysis(text string, vocab Vocabulary) (*shopping.Analysis, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	var raw shopping.Analysis
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w (response: %s)", err, jsonStr)
	}

	analysis := &shopping.Analysis{Success: true}
	for _, item := range raw.Items {
		if label, ok := knownLabel(item.Name, vocab.Items); ok {
			analysis.Items = append(analysis.Items, shopping.Item{Name: label, Confidence: item.Confidence})
		} else {
			log.Debug().Str("item", item.Name).Msg("dropping item outside vocabulary")
		}
	}
	for _, color := range raw.Colors {
		if label, ok := knownLabel(color.Color, vocab.Colors); ok {
			analysis.Colors = append(analysis.Colors, shopping.Color{Color: label, Confidence: color.Confidence})
		}
	}
	for _, style := range raw.Styles {
		if label, ok := knownLabel(style.Style, vocab.Styles); ok {
			analysis.Styles = append(analysis.Styles, shopping.Style{Style: label, Confidence: style.Confidence})
		}
	}

	slices.SortStableFunc(analysis.Items, func(a, b shopping.Item) int { return compareConfidence(a.Confidence, b.Confidence) })
	slices.SortStableFunc(analysis.Colors, func(a, b shopping.Color) int { return compareConfidence(a.Confidence, b.Confidence) })
	slices.SortStableFunc(analysis.Styles, func(a, b shopping.Style) int { return compareConfidence(a.Confidence, b.Confidence) })

	return analysis, nil
}

// knownLabel matches a label case-insensitively and returns the vocabulary's
// spelling.
func knownLabel(label string, vocab []string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, v := range vocab {
		if strings.EqualFold(v, label) {
			return v, true
		}
	}
	return "", false
}

// compareConfidence orders higher confidence first.
func compareConfidence(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
