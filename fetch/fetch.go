// Package fetch downloads remote media files into a local, content-addressed
// store and hands back file records that the derivative generator can read.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is returned when a file could not be retrieved.
	ErrFetchFailed = errors.New("fetch: failed")

	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("fetch: invalid url")

	// ErrTooLarge is returned when a response body exceeds the size cap.
	ErrTooLarge = errors.New("fetch: content too large")
)

// File is a downloaded media file on local disk.
type File struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Name         string `json:"name"`
	Ext          string `json:"ext"` // lowercase, without the dot
	AbsolutePath string `json:"absolutePath"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	Hash         string `json:"hash"` // BLAKE3 of the file contents
}

// Fetcher retrieves a URL into local storage.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*File, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*File, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*File, error) {
	return f(ctx, url)
}

// FetchWithFallback fetches clean first and, if that fails, original once.
// Some hosts only serve the resized variant, so the original src is the
// last resort. The returned error wraps ErrFetchFailed and both causes.
func FetchWithFallback(ctx context.Context, f Fetcher, clean, original string) (*File, error) {
	file, err := f.Fetch(ctx, clean)
	if err == nil && file != nil {
		return file, nil
	}
	if err == nil {
		err = fmt.Errorf("no file for %s", clean)
	}
	if original == "" || original == clean {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, clean, err)
	}

	file, err2 := f.Fetch(ctx, original)
	if err2 == nil && file != nil {
		return file, nil
	}
	if err2 == nil {
		err2 = fmt.Errorf("no file for %s", original)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, original, errors.Join(err, err2))
}
