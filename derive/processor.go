package derive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/eringen/inlineimages/fetch"
)

const placeholderWidth = 20

// widthFactors are the srcset breakpoints relative to the max width.
var widthFactors = []float64{0.25, 0.5, 1, 1.5, 2}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Processor generates derivatives with x/image and writes them under
// OutputDir. URLs in the returned Set are rooted at PublicPath.
type Processor struct {
	OutputDir  string
	PublicPath string
}

// NewProcessor creates a Processor writing to outputDir and linking files
// under publicPath (for example "/static").
func NewProcessor(outputDir, publicPath string) *Processor {
	return &Processor{OutputDir: outputDir, PublicPath: publicPath}
}

// Generate decodes file, writes every derivative width plus a copy of the
// original, and returns the derivative set. Files already on disk are reused.
func (p *Processor) Generate(ctx context.Context, file *fetch.File, args Args) (*Set, error) {
	if file == nil || file.AbsolutePath == "" {
		return nil, fmt.Errorf("%w: no local file", ErrUnprocessable)
	}
	if args.MaxWidth <= 0 {
		args.MaxWidth = DefaultMaxWidth
	}
	if args.Quality <= 0 {
		args.Quality = DefaultQuality
	}

	format := NormalizeFormat(args.ToFormat)
	if format == "" {
		format = defaultFormat(file.Ext)
	}
	enc, ok := LookupEncoder(format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEncoder, format)
	}

	src, err := os.ReadFile(file.AbsolutePath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnprocessable, file.Name, err)
	}
	bounds := img.Bounds()
	ow, oh := bounds.Dx(), bounds.Dy()
	if ow == 0 || oh == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnprocessable)
	}

	bg := ParseColor(args.BackgroundColor)
	key := derivativeKey(file, src, format, args, bg)
	dir := filepath.Join(p.OutputDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	name := baseName(file)

	presentationWidth := min(args.MaxWidth, ow)
	presentationHeight := int(math.Round(float64(presentationWidth) * float64(oh) / float64(ow)))

	var srcSet []string
	var fallback string
	for _, w := range breakpoints(args.MaxWidth, ow) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileName := fmt.Sprintf("%s-%d.%s", name, w, enc.Ext)
		target := filepath.Join(dir, fileName)
		if _, err := os.Stat(target); err != nil {
			var buf bytes.Buffer
			if err := enc.Encode(&buf, resize(img, w, enc.Opaque, bg), args.Quality); err != nil {
				return nil, fmt.Errorf("encode %s: %w", format, err)
			}
			if err := writeAtomic(target, buf.Bytes()); err != nil {
				return nil, err
			}
		}
		url := p.url(key, fileName)
		srcSet = append(srcSet, fmt.Sprintf("%s %dw", url, w))
		if w == presentationWidth {
			fallback = url
		}
	}

	placeholder, err := p.placeholder(img, enc, bg, args.Quality)
	if err != nil {
		return nil, err
	}

	origName := name
	if file.Ext != "" {
		origName += "." + file.Ext
	}
	origPath := filepath.Join(dir, origName)
	if _, err := os.Stat(origPath); err != nil {
		if err := writeAtomic(origPath, src); err != nil {
			return nil, err
		}
	}

	return &Set{
		Src:                fallback,
		SrcSet:             strings.Join(srcSet, ",\n"),
		SrcSetType:         enc.MIMEType,
		Sizes:              fmt.Sprintf("(max-width: %dpx) 100vw, %dpx", presentationWidth, presentationWidth),
		Base64:             placeholder,
		AspectRatio:        float64(ow) / float64(oh),
		PresentationWidth:  presentationWidth,
		PresentationHeight: presentationHeight,
		OriginalImg:        p.url(key, origName),
	}, nil
}

func (p *Processor) url(key, fileName string) string {
	return path.Join("/", p.PublicPath, key, fileName)
}

func (p *Processor) placeholder(img image.Image, enc Encoder, bg color.Color, quality int) (string, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, resize(img, placeholderWidth, enc.Opaque, bg), quality); err != nil {
		return "", fmt.Errorf("encode placeholder: %w", err)
	}
	return "data:" + enc.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// breakpoints returns the ascending derivative widths for maxWidth. Widths
// above the original are dropped and replaced by the original width, so an
// image is never upscaled.
func breakpoints(maxWidth, original int) []int {
	seen := make(map[int]bool)
	var out []int
	capped := false
	for _, f := range widthFactors {
		w := int(math.Round(float64(maxWidth) * f))
		if w < 1 {
			continue
		}
		if w >= original {
			capped = true
			continue
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	if capped && !seen[original] {
		out = append(out, original)
	}
	return out
}

// resize scales img to width w keeping the aspect ratio. Opaque targets are
// drawn onto bg first.
func resize(img image.Image, w int, opaque bool, bg color.Color) image.Image {
	b := img.Bounds()
	h := int(math.Round(float64(b.Dy()) * float64(w) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if opaque {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func defaultFormat(ext string) string {
	switch NormalizeFormat(ext) {
	case "png":
		return "png"
	default:
		return "jpeg"
	}
}

func baseName(file *fetch.File) string {
	name := unsafeName.ReplaceAllString(file.Name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "image"
	}
	return name
}

// derivativeKey names the output directory. It changes with the source
// content and with every option that affects the encoded bytes.
func derivativeKey(file *fetch.File, src []byte, format string, args Args, bg color.Color) string {
	h := blake3.New()
	if file.Hash != "" {
		io.WriteString(h, file.Hash)
	} else {
		h.Write(src)
	}
	r, g, b, a := bg.RGBA()
	fmt.Fprintf(h, "|%s|%d|%d,%d,%d,%d", format, args.Quality, r, g, b, a)
	return hex.EncodeToString(h.Sum(nil)[:12])
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

var namedColors = map[string]color.RGBA{
	"white":       {255, 255, 255, 255},
	"black":       {0, 0, 0, 255},
	"transparent": {0, 0, 0, 0},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"silver":      {192, 192, 192, 255},
}

// ParseColor parses a CSS named color (a common subset) or a #rgb/#rrggbb
// hex color. Anything else is white.
func ParseColor(s string) color.Color {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c
	}
	if !strings.HasPrefix(s, "#") {
		return namedColors["white"]
	}
	hexDigits := s[1:]
	if len(hexDigits) == 3 {
		hexDigits = string([]byte{hexDigits[0], hexDigits[0], hexDigits[1], hexDigits[1], hexDigits[2], hexDigits[2]})
	}
	if len(hexDigits) != 6 {
		return namedColors["white"]
	}
	v, err := strconv.ParseUint(hexDigits, 16, 32)
	if err != nil {
		return namedColors["white"]
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
}
