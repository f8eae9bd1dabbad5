package derive

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/webp"

	"github.com/eringen/inlineimages/fetch"
)

func writePNG(t *testing.T, w, h int) *fetch.File {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 100, 200})
		}
	}
	p := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()
	return &fetch.File{Name: "photo", Ext: "png", AbsolutePath: p}
}

func TestProcessorGenerate(t *testing.T) {
	file := writePNG(t, 1000, 500)
	out := t.TempDir()
	p := NewProcessor(out, "/static")

	set, err := p.Generate(context.Background(), file, Args{MaxWidth: 400})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if set.PresentationWidth != 400 || set.PresentationHeight != 200 {
		t.Errorf("presentation = %dx%d, want 400x200", set.PresentationWidth, set.PresentationHeight)
	}
	if set.AspectRatio != 2 {
		t.Errorf("AspectRatio = %v, want 2", set.AspectRatio)
	}
	if set.SrcSetType != "image/png" {
		t.Errorf("SrcSetType = %q, want image/png", set.SrcSetType)
	}
	if set.Sizes != "(max-width: 400px) 100vw, 400px" {
		t.Errorf("Sizes = %q", set.Sizes)
	}
	if !strings.HasPrefix(set.Base64, "data:image/png;base64,") {
		t.Errorf("Base64 = %.40q", set.Base64)
	}
	if !strings.HasSuffix(set.Src, "/photo-400.png") || !strings.HasPrefix(set.Src, "/static/") {
		t.Errorf("Src = %q", set.Src)
	}
	if !strings.HasSuffix(set.OriginalImg, "/photo.png") {
		t.Errorf("OriginalImg = %q", set.OriginalImg)
	}

	entries := strings.Split(set.SrcSet, ",\n")
	if len(entries) != 5 {
		t.Fatalf("srcset has %d entries, want 5: %q", len(entries), set.SrcSet)
	}
	for _, e := range entries {
		url := strings.Fields(e)[0]
		local := filepath.Join(out, strings.TrimPrefix(url, "/static/"))
		if _, err := os.Stat(local); err != nil {
			t.Errorf("derivative %s not written: %v", local, err)
		}
	}
}

func TestProcessorNeverUpscales(t *testing.T) {
	file := writePNG(t, 300, 150)
	p := NewProcessor(t.TempDir(), "/static")

	set, err := p.Generate(context.Background(), file, Args{MaxWidth: 650, ToFormat: "jpg", BackgroundColor: "#000"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if set.PresentationWidth != 300 {
		t.Errorf("PresentationWidth = %d, want 300", set.PresentationWidth)
	}
	if set.SrcSetType != "image/jpeg" {
		t.Errorf("SrcSetType = %q", set.SrcSetType)
	}
	if !strings.HasSuffix(set.SrcSet, " 300w") || strings.Contains(set.SrcSet, "650w") {
		t.Errorf("SrcSet = %q", set.SrcSet)
	}
}

func TestProcessorGeneratesWebP(t *testing.T) {
	file := writePNG(t, 800, 400)
	out := t.TempDir()
	p := NewProcessor(out, "/static")

	set, err := p.Generate(context.Background(), file, Args{MaxWidth: 400, ToFormat: "webp"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if set.SrcSetType != "image/webp" {
		t.Errorf("SrcSetType = %q, want image/webp", set.SrcSetType)
	}
	if !strings.HasPrefix(set.Base64, "data:image/webp;base64,") {
		t.Errorf("Base64 = %.40q", set.Base64)
	}
	if !strings.HasSuffix(set.Src, "/photo-400.webp") {
		t.Fatalf("Src = %q", set.Src)
	}

	f, err := os.Open(filepath.Join(out, strings.TrimPrefix(set.Src, "/static/")))
	if err != nil {
		t.Fatalf("open derivative: %v", err)
	}
	defer f.Close()
	img, err := webp.Decode(f)
	if err != nil {
		t.Fatalf("decode webp derivative: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 200 {
		t.Errorf("derivative is %dx%d, want 400x200", b.Dx(), b.Dy())
	}
}

func TestProcessorErrors(t *testing.T) {
	p := NewProcessor(t.TempDir(), "/static")

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	os.WriteFile(bad, []byte("not an image"), 0o644)
	_, err := p.Generate(context.Background(), &fetch.File{Name: "bad", Ext: "jpg", AbsolutePath: bad}, Args{})
	if !errors.Is(err, ErrUnprocessable) {
		t.Errorf("undecodable: got %v, want ErrUnprocessable", err)
	}

	_, err = p.Generate(context.Background(), nil, Args{})
	if !errors.Is(err, ErrUnprocessable) {
		t.Errorf("nil file: got %v, want ErrUnprocessable", err)
	}

	file := writePNG(t, 10, 10)
	_, err = p.Generate(context.Background(), file, Args{ToFormat: "avif"})
	if !errors.Is(err, ErrNoEncoder) {
		t.Errorf("avif: got %v, want ErrNoEncoder", err)
	}
}

func TestBreakpoints(t *testing.T) {
	tests := []struct {
		max, orig int
		want      []int
	}{
		{650, 2000, []int{163, 325, 650, 975, 1300}},
		{650, 1000, []int{163, 325, 650, 975, 1000}},
		{650, 650, []int{163, 325, 650}},
		{650, 100, []int{100}},
	}
	for _, tt := range tests {
		if got := breakpoints(tt.max, tt.orig); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("breakpoints(%d, %d) = %v, want %v", tt.max, tt.orig, got, tt.want)
		}
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"white", color.RGBA{255, 255, 255, 255}},
		{" Black ", color.RGBA{0, 0, 0, 255}},
		{"#f00", color.RGBA{255, 0, 0, 255}},
		{"#336699", color.RGBA{0x33, 0x66, 0x99, 255}},
		{"#zzzzzz", color.RGBA{255, 255, 255, 255}},
		{"hsl(0, 0%, 0%)", color.RGBA{255, 255, 255, 255}},
	}
	for _, tt := range tests {
		if got := ParseColor(tt.in); got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegisterEncoder(t *testing.T) {
	if _, ok := LookupEncoder("jpg"); !ok {
		t.Fatalf("jpeg encoder should be registered under jpg")
	}
	RegisterEncoder("test-gray", Encoder{
		MIMEType: "image/png",
		Ext:      "gray.png",
		Encode: func(w io.Writer, img image.Image, _ int) error {
			return png.Encode(w, img)
		},
	})
	found := false
	for _, f := range Formats() {
		if f == "test-gray" {
			found = true
		}
	}
	if !found {
		t.Errorf("Formats() = %v, missing test-gray", Formats())
	}
}

func TestCacheMemoizes(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(ctx context.Context, f *fetch.File, a Args) (*Set, error) {
		calls++
		if a.ToFormat == "fail" {
			return nil, ErrUnprocessable
		}
		return &Set{Src: f.Hash, PresentationWidth: a.MaxWidth}, nil
	})
	c := NewCache(gen, time.Minute)
	file := &fetch.File{Hash: "abc"}

	for i := 0; i < 3; i++ {
		set, err := c.Generate(context.Background(), file, Args{MaxWidth: 300})
		if err != nil || set.PresentationWidth != 300 {
			t.Fatalf("Generate: %v %+v", err, set)
		}
		set.Src = "mutated"
	}
	if calls != 1 {
		t.Errorf("generator called %d times, want 1", calls)
	}

	c.Generate(context.Background(), file, Args{MaxWidth: 400})
	if calls != 2 {
		t.Errorf("different args should miss the cache")
	}

	for i := 0; i < 2; i++ {
		c.Generate(context.Background(), file, Args{ToFormat: "fail"})
	}
	if calls != 4 {
		t.Errorf("errors should not be cached, calls = %d", calls)
	}

	set, _ := c.Generate(context.Background(), file, Args{MaxWidth: 300})
	if set.Src != "abc" {
		t.Errorf("cached set was mutated through a returned copy: %q", set.Src)
	}

	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("Len after Invalidate = %d", c.Len())
	}
}

func TestCacheExpires(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(ctx context.Context, f *fetch.File, a Args) (*Set, error) {
		calls++
		return &Set{}, nil
	})
	c := NewCache(gen, 20*time.Millisecond)
	file := &fetch.File{AbsolutePath: "/tmp/x.png"}
	c.Generate(context.Background(), file, Args{})
	time.Sleep(40 * time.Millisecond)
	c.Generate(context.Background(), file, Args{})
	if calls != 2 {
		t.Errorf("calls = %d, want 2 after expiry", calls)
	}
}
