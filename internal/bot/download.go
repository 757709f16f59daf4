package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/pipeline"
	"github.com/raine/sherlockcombs/internal/shopping"
)

// fileScheme prefixes the image URLs of photos sent to the bot. The direct
// download URL embeds the bot token, so it is resolved only when fetching.
const fileScheme = "tg-file:"

var errFileDownload = errors.New("telegram file download failed")

func fileURL(fileID string) string {
	return fileScheme + fileID
}

// FileFetcher fetches images for the pipeline, resolving tg-file: URLs
// through the Bot API first. Other URLs go straight to next.
type FileFetcher struct {
	getFileDirectURL func(fileID string) (string, error)
	next             pipeline.ImageFetcher
}

func NewFileFetcher(tg BotAPI, next pipeline.ImageFetcher) *FileFetcher {
	return &FileFetcher{getFileDirectURL: tg.GetFileDirectURL, next: next}
}

func (f *FileFetcher) FetchImage(ctx context.Context, imageURL string) (*shopping.Image, error) {
	fileID, ok := strings.CutPrefix(imageURL, fileScheme)
	if !ok {
		return f.next.FetchImage(ctx, imageURL)
	}

	log.Info().Str("fileID", fileID).Msg("downloading file id")
	direct, err := f.getFileDirectURL(fileID)
	if err != nil {
		return nil, &shopping.FetchError{Op: "image", URL: imageURL, Err: fmt.Errorf("failed to resolve file: %w", err)}
	}

	img, err := f.next.FetchImage(ctx, direct)
	if err != nil {
		return nil, redactFetchError(err, imageURL)
	}
	return img, nil
}

// redactFetchError replaces the direct download URL in err with the tg-file:
// URL so the token never reaches logs or panels.
func redactFetchError(err error, imageURL string) error {
	var fe *shopping.FetchError
	if !errors.As(err, &fe) {
		return err
	}

	redacted := &shopping.FetchError{Op: fe.Op, URL: imageURL, Status: fe.Status}
	switch {
	case errors.Is(fe.Err, context.Canceled):
		redacted.Err = context.Canceled
	case errors.Is(fe.Err, context.DeadlineExceeded):
		redacted.Err = context.DeadlineExceeded
	case fe.Err != nil:
		redacted.Err = errFileDownload
	}
	return redacted
}
