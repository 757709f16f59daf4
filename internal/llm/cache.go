package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/shopping"
)

// CachedAnalyzer wraps an Analyzer with an in-memory cache keyed by image
// content, so the same picture served from different URLs is analyzed once.
type CachedAnalyzer struct {
	inner Analyzer

	mu      sync.Mutex
	entries map[string]*shopping.Analysis
}

// NewCachedAnalyzer creates a cached analyzer.
func NewCachedAnalyzer(inner Analyzer) *CachedAnalyzer {
	return &CachedAnalyzer{inner: inner, entries: make(map[string]*shopping.Analysis)}
}

// hashImage creates a SHA256 hash from image data.
func hashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Analyze implements the Analyzer interface with caching.
func (c *CachedAnalyzer) Analyze(ctx context.Context, imageData []byte, mimeType string) (*shopping.Analysis, error) {
	hash := hashImage(imageData)

	c.mu.Lock()
	cached, ok := c.entries[hash]
	c.mu.Unlock()
	if ok {
		log.Debug().Str("hash", hash[:16]).Msg("vision cache hit")
		return cached, nil
	}

	result, err := c.inner.Analyze(ctx, imageData, mimeType)
	if err != nil {
		return nil, err
	}

	// Failed analyses are not worth keeping
	if len(result.Items) > 0 && len(result.Colors) > 0 {
		c.mu.Lock()
		c.entries[hash] = result
		c.mu.Unlock()
		log.Debug().Str("hash", hash[:16]).Msg("cached vision result")
	}

	return result, nil
}

// GetGeminiAnalyzer extracts GeminiAnalyzer from an Analyzer.
// Recursively unwraps CachedAnalyzer wrappers to find the underlying GeminiAnalyzer.
func GetGeminiAnalyzer(a Analyzer) *GeminiAnalyzer {
	curr := a
	for {
		switch t := curr.(type) {
		case *GeminiAnalyzer:
			return t
		case *CachedAnalyzer:
			curr = t.inner
		default:
			return nil
		}
	}
}
