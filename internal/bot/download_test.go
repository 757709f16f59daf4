package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/sherlockcombs/internal/shopping"
)

func TestFileFetcher_ResolvesFileID(t *testing.T) {
	var handlerCalled bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/botTOKEN/foo.jpeg" {
			handlerCalled = true
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("123"))
		} else {
			t.Errorf("invalid request to test server: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	tg := new(botApiMock)
	tg.On("GetFileDirectURL", "foo").Return(ts.URL+"/botTOKEN/foo.jpeg", nil)

	f := NewFileFetcher(tg, shopping.NewImageDownloader())
	img, err := f.FetchImage(context.Background(), fileURL("foo"))
	require.NoError(t, err)

	assert.Equal(t, []byte("123"), img.Data)
	assert.Equal(t, "image/jpeg", img.MimeType)
	assert.True(t, handlerCalled)
}

func TestFileFetcher_PassesThroughPlainURLs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	}))
	defer ts.Close()

	tg := new(botApiMock)
	f := NewFileFetcher(tg, shopping.NewImageDownloader())

	img, err := f.FetchImage(context.Background(), ts.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img.Data)
	tg.AssertNotCalled(t, "GetFileDirectURL", "a.png")
}

func TestFileFetcher_RedactsDirectURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	tg := new(botApiMock)
	tg.On("GetFileDirectURL", "foo").Return(ts.URL+"/botSECRET/foo.jpeg", nil)

	f := NewFileFetcher(tg, shopping.NewImageDownloader())
	_, err := f.FetchImage(context.Background(), fileURL("foo"))
	require.Error(t, err)

	assert.True(t, errors.Is(err, shopping.ErrFetchFailure))
	assert.NotContains(t, err.Error(), "SECRET")
	assert.Contains(t, err.Error(), "tg-file:foo")
	assert.Contains(t, err.Error(), "status: 404")
}

func TestFileFetcher_ResolveFailure(t *testing.T) {
	tg := new(botApiMock)
	tg.On("GetFileDirectURL", "foo").Return("", fmt.Errorf("file is too big"))

	f := NewFileFetcher(tg, shopping.NewImageDownloader())
	_, err := f.FetchImage(context.Background(), fileURL("foo"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, shopping.ErrFetchFailure))
	assert.Contains(t, err.Error(), "file is too big")
}
