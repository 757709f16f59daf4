package shopping

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ErrFetchFailure matches every FetchError with errors.Is.
var ErrFetchFailure = errors.New("fetch failure")

// FetchError is a network error or a non-success status from one of the
// remote calls.
type FetchError struct {
	Op     string // "image", "analyze", "shopping", ...
	URL    string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s request failed: %s (status: %d)", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("%s request failed: %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailure }

// handleError turns transport errors and >399 responses into a FetchError.
// Without this, failing responses would have nil error.
func handleError(op string, res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		url := ""
		if res != nil && res.Request != nil {
			url = res.Request.URL
		}
		return res, &FetchError{Op: op, URL: url, Err: err}
	}
	if res.IsError() {
		return res, &FetchError{Op: op, URL: res.Request.URL, Status: res.StatusCode()}
	}
	return res, nil
}
