// Package derive generates responsive derivative sets (several widths, a
// placeholder and a srcset) from a downloaded image.
package derive

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/HugoSmits86/nativewebp"

	"github.com/eringen/inlineimages/fetch"
)

const (
	DefaultMaxWidth = 650
	DefaultQuality  = 80
)

var (
	// ErrUnprocessable is returned when the file cannot be turned into
	// derivatives, for example because it does not decode as an image.
	ErrUnprocessable = errors.New("derive: unprocessable image")

	// ErrNoEncoder is returned when no encoder is registered for the
	// requested output format.
	ErrNoEncoder = errors.New("derive: no encoder for format")
)

// Args are the per-request generation options.
type Args struct {
	MaxWidth        int
	ToFormat        string // output format; empty keeps the source format
	BackgroundColor string // used to flatten transparency for opaque formats
	Quality         int
}

// Set is a generated derivative set.
type Set struct {
	Src                string  `json:"src"`
	SrcSet             string  `json:"srcSet"`
	SrcSetType         string  `json:"srcSetType"`
	Sizes              string  `json:"sizes"`
	Base64             string  `json:"base64"`
	AspectRatio        float64 `json:"aspectRatio"`
	PresentationWidth  int     `json:"presentationWidth"`
	PresentationHeight int     `json:"presentationHeight"`
	OriginalImg        string  `json:"originalImg"`

	// Alternate format, merged in by the caller.
	AltSrcSet     string `json:"altSrcSet,omitempty"`
	AltSrcSetType string `json:"altSrcSetType,omitempty"`
}

// Generator produces derivative sets.
type Generator interface {
	Generate(ctx context.Context, file *fetch.File, args Args) (*Set, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, file *fetch.File, args Args) (*Set, error)

// Generate calls f(ctx, file, args).
func (f GeneratorFunc) Generate(ctx context.Context, file *fetch.File, args Args) (*Set, error) {
	return f(ctx, file, args)
}

// Encoder writes an image in one output format.
type Encoder struct {
	MIMEType string
	Ext      string
	// Opaque formats get transparency flattened onto the background color.
	Opaque bool
	Encode func(w io.Writer, img image.Image, quality int) error
}

var (
	encodersMu sync.RWMutex
	encoders   = map[string]Encoder{
		"jpeg": {
			MIMEType: "image/jpeg",
			Ext:      "jpg",
			Opaque:   true,
			Encode: func(w io.Writer, img image.Image, quality int) error {
				return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
			},
		},
		"png": {
			MIMEType: "image/png",
			Ext:      "png",
			Encode: func(w io.Writer, img image.Image, _ int) error {
				enc := png.Encoder{CompressionLevel: png.BestCompression}
				return enc.Encode(w, img)
			},
		},
		// Lossless VP8L; quality does not apply.
		"webp": {
			MIMEType: "image/webp",
			Ext:      "webp",
			Encode: func(w io.Writer, img image.Image, _ int) error {
				return nativewebp.Encode(w, img, nil)
			},
		},
	}
)

// RegisterEncoder makes format available as an output format. It replaces
// any encoder already registered under the same name.
func RegisterEncoder(format string, enc Encoder) {
	encodersMu.Lock()
	encoders[NormalizeFormat(format)] = enc
	encodersMu.Unlock()
}

// LookupEncoder returns the encoder for format.
func LookupEncoder(format string) (Encoder, bool) {
	encodersMu.RLock()
	defer encodersMu.RUnlock()
	enc, ok := encoders[NormalizeFormat(format)]
	return enc, ok
}

// Formats lists the registered output formats in sorted order.
func Formats() []string {
	encodersMu.RLock()
	defer encodersMu.RUnlock()
	out := make([]string, 0, len(encoders))
	for f := range encoders {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// NormalizeFormat maps format and extension spellings to one name.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	switch f {
	case "jpg", "jpe":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return f
}
