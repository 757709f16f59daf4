package shopping

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultDownloadTimeout is the default timeout for image downloads
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxImageSize is the default maximum image size (10MB)
	DefaultMaxImageSize = 10 * 1024 * 1024
)

// Image is a downloaded source image.
type Image struct {
	Data     []byte
	MimeType string
}

// ImageDownloader fetches source images and pages over HTTP.
type ImageDownloader struct {
	client  *resty.Client
	maxSize int64
}

// NewImageDownloader creates a new ImageDownloader with default settings.
func NewImageDownloader() *ImageDownloader {
	return &ImageDownloader{
		client:  resty.New().SetDebug(false).SetTimeout(DefaultDownloadTimeout),
		maxSize: DefaultMaxImageSize,
	}
}

// WithTimeout sets a custom timeout for downloads.
func (d *ImageDownloader) WithTimeout(timeout time.Duration) *ImageDownloader {
	d.client.SetTimeout(timeout)
	return d
}

// WithMaxSize sets a custom maximum file size.
func (d *ImageDownloader) WithMaxSize(maxSize int64) *ImageDownloader {
	d.maxSize = maxSize
	return d
}

// FetchImage downloads image data from a URL. Any non-success status is a
// failure, as is a response that is not an image or exceeds the size limit.
func (d *ImageDownloader) FetchImage(ctx context.Context, imageURL string) (*Image, error) {
	data, contentType, err := d.fetch(ctx, "image", imageURL)
	if err != nil {
		return nil, err
	}

	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("invalid content type: expected image/*, got %s", contentType)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Image{Data: data, MimeType: contentType}, nil
}

// FetchPage downloads an HTML page, bounded by the same size limit.
func (d *ImageDownloader) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	data, _, err := d.fetch(ctx, "page", pageURL)
	return data, err
}

func (d *ImageDownloader) fetch(ctx context.Context, op, rawURL string) ([]byte, string, error) {
	res, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	res, err = handleError(op, res, err)
	if res != nil && res.RawBody() != nil {
		defer res.RawBody().Close()
	}
	if err != nil {
		return nil, "", err
	}

	// Check Content-Length if available
	if res.RawResponse.ContentLength > d.maxSize {
		return nil, "", fmt.Errorf("%s too large: %d bytes exceeds limit of %d bytes", op, res.RawResponse.ContentLength, d.maxSize)
	}

	// Use LimitReader to enforce size limit even if Content-Length is missing or wrong
	data, err := io.ReadAll(io.LimitReader(res.RawBody(), d.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s data: %w", op, err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, "", fmt.Errorf("%s too large: exceeds limit of %d bytes", op, d.maxSize)
	}

	contentType := res.Header().Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return data, contentType, nil
}
