package shopping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds every call to the analysis backend.
	DefaultTimeout = 30 * time.Second

	uploadFileName = "image.jpg"
)

type ClientOpts struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the analysis backend: /analyze, /get_shopping, /health and
// /categories.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

func NewClient(opts ClientOpts) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	c := Client{baseURL: baseURL}
	c.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeaders(
			map[string]string{
				"Accept":     "application/json",
				"User-Agent": "sherlockcombs/1.0",
			},
		)

	return &c
}

// BaseURL returns the backend address the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.httpClient.NewRequest().SetContext(ctx)
}

// Analyze uploads image bytes as the multipart field "file" and returns the
// detected items, colors and styles.
func (c *Client) Analyze(ctx context.Context, imageData []byte, mimeType string) (*Analysis, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	res, err := c.req(ctx).
		SetMultipartField("file", uploadFileName, mimeType, bytes.NewReader(imageData)).
		Post("/analyze")
	if res, err = handleError("analyze", res, err); err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal(res.Body(), &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}

	log.Debug().
		Int("items", len(analysis.Items)).
		Int("colors", len(analysis.Colors)).
		Int("styles", len(analysis.Styles)).
		Msg("analysis response")

	return &analysis, nil
}

// Search asks the shopping endpoint for offers matching a free text query.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	res, err := c.req(ctx).Get("/get_shopping?query=" + EncodeQuery(query))
	if res, err = handleError("shopping", res, err); err != nil {
		return nil, err
	}

	var body SearchResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode shopping response: %w", err)
	}

	log.Debug().Str("query", query).Int("results", len(body.ShoppingResults)).Msg("shopping response")

	return body.ShoppingResults, nil
}

// Health reports whether the backend is up and its models are loaded.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	res, err := c.req(ctx).Get("/health")
	if res, err = handleError("health", res, err); err != nil {
		return nil, err
	}

	var health Health
	if err := json.Unmarshal(res.Body(), &health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// Categories returns the item, color and style vocabularies of the backend.
func (c *Client) Categories(ctx context.Context) (*Categories, error) {
	res, err := c.req(ctx).Get("/categories")
	if res, err = handleError("categories", res, err); err != nil {
		return nil, err
	}

	var categories Categories
	if err := json.Unmarshal(res.Body(), &categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories response: %w", err)
	}
	return &categories, nil
}

// EncodeQuery percent-encodes a query for use as a URL query value. Spaces
// become %20 rather than '+'.
func EncodeQuery(query string) string {
	return strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
}
