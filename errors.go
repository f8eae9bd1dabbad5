package inlineimages

import "errors"

var (
	// ErrInvalidConfig is returned by New and LoadOptions for bad options.
	ErrInvalidConfig = errors.New("inlineimages: invalid config")

	// ErrUnsupportedFormat marks images skipped by extension (gif, svg).
	ErrUnsupportedFormat = errors.New("inlineimages: unsupported format")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("inlineimages: record not found")

	// ErrSource wraps failures of the content source; they abort a run.
	ErrSource = errors.New("inlineimages: content source failed")
)
