package inlineimages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/eringen/inlineimages/derive"
	"github.com/eringen/inlineimages/document"
	"github.com/eringen/inlineimages/fetch"
	"github.com/eringen/inlineimages/views"
	"github.com/eringen/inlineimages/wpurl"
)

// Extensions left as they are: gif can be animated, svg is already scalable.
var skipExtensions = map[string]bool{"gif": true, "svg": true}

func newImageRef(n *html.Node) ImageRef {
	src, _ := document.Attr(n, "src")
	ref := ImageRef{Src: strings.TrimSpace(src)}
	if class, ok := document.Attr(n, "class"); ok {
		ref.Classes = strings.Fields(class)
	}
	ref.Title, _ = document.Attr(n, "title")
	ref.Alt, ref.HasAlt = document.Attr(n, "alt")
	if u := wpurl.Parse(ref.Src); u.HasSize {
		ref.Width, ref.Height = u.Width, u.Height
	}
	return ref
}

// replaceImage runs the whole pipeline for one image and, on success, swaps
// the node for the responsive markup. Any failure leaves the node untouched.
func (p *Plugin) replaceImage(ctx context.Context, doc *document.Document, node *html.Node, ref ImageRef, log *slog.Logger) Outcome {
	log = log.With("src", ref.Src)
	u := wpurl.Parse(ref.Src)

	file, err := fetch.FetchWithFallback(ctx, p.fetcher, u.CleanURL, u.OriginalURL)
	if err != nil {
		log.Warn("fetch failed, leaving image", "error", err)
		return failed(ref.Src, "fetch", err)
	}

	ext := strings.ToLower(file.Ext)
	if skipExtensions[ext] {
		log.Debug("skipping image", "ext", ext)
		return skipped(ref.Src, "unsupported format", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext))
	}

	args := derive.Args{MaxWidth: p.opts.MaxWidth, BackgroundColor: p.opts.BackgroundColor}
	if ref.Width > 0 {
		args.MaxWidth = ref.Width
	}
	set, err := p.generator.Generate(ctx, file, args)
	switch {
	case errors.Is(err, derive.ErrUnprocessable), err == nil && set == nil:
		log.Debug("image unprocessable", "error", err)
		return skipped(ref.Src, "unprocessable", err)
	case err != nil:
		log.Warn("derivative generation failed", "error", err)
		return failed(ref.Src, "generate", err)
	}
	primary := *set

	if p.opts.UseAlternateFormat {
		altArgs := args
		altArgs.ToFormat = p.opts.AlternateFormat
		alt, err := p.generator.Generate(ctx, file, altArgs)
		if err == nil && alt != nil && alt.SrcSet != "" {
			primary.AltSrcSet = alt.SrcSet
			primary.AltSrcSetType = alt.SrcSetType
		} else {
			log.Debug("alternate format unavailable", "format", p.opts.AlternateFormat, "error", err)
		}
	}

	markup, err := p.renderer.Render(ctx, p.descriptor(ref, primary))
	if err != nil {
		log.Warn("render failed", "error", err)
		return failed(ref.Src, "render", err)
	}

	err = doc.Edit(func(tx *document.Tx) error {
		if err := tx.ReplaceNode(node, markup); err != nil {
			return err
		}
		if primary.OriginalImg == "" {
			return nil
		}
		for _, a := range tx.FindAll("a", document.HasAttr("href")) {
			href, _ := document.Attr(a, "href")
			if wpurl.Strip(strings.TrimSpace(href)) == u.CleanURL {
				tx.SetAttr(a, "href", primary.OriginalImg)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn("replace failed", "error", err)
		return failed(ref.Src, "replace", err)
	}
	log.Debug("image replaced", "width", primary.PresentationWidth)
	return replaced(ref.Src)
}

func (p *Plugin) descriptor(ref ImageRef, set derive.Set) views.Descriptor {
	alt := ref.Alt
	if !ref.HasAlt {
		alt = defaultAlt(generatedName(set))
	}
	return views.Descriptor{
		Src:               set.Src,
		SrcSet:            set.SrcSet,
		SrcSetType:        set.SrcSetType,
		Sizes:             set.Sizes,
		AltSrcSet:         set.AltSrcSet,
		AltSrcSetType:     set.AltSrcSetType,
		Base64:            set.Base64,
		AspectRatio:       set.AspectRatio,
		PresentationWidth: set.PresentationWidth,
		Alt:               alt,
		Title:             ref.Title,
		Classes:           unionClasses(ref.Classes, views.ImageClass),
		Width:             ref.Width,
		Height:            ref.Height,
		WrapperStyle:      p.opts.WrapperStyle,
		BackgroundColor:   p.opts.BackgroundColor,
	}
}

// generatedName is the plain name of the generated file: the full-size copy
// when there is one, otherwise Src without the width suffix of its variant.
func generatedName(set derive.Set) string {
	if set.OriginalImg != "" {
		return set.OriginalImg
	}
	src := set.Src
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	if set.PresentationWidth > 0 {
		ext := path.Ext(src)
		suffix := "-" + strconv.Itoa(set.PresentationWidth) + ext
		if strings.HasSuffix(src, suffix) {
			return strings.TrimSuffix(src, suffix) + ext
		}
	}
	return src
}

// defaultAlt derives alt text from the base name of src, with every
// character that is not a letter or digit turned into a space.
func defaultAlt(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	base := path.Base(src)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return ' '
	}, base)
}

func unionClasses(classes []string, extra ...string) []string {
	seen := make(map[string]bool, len(classes)+len(extra))
	out := make([]string, 0, len(classes)+len(extra))
	for _, c := range append(append([]string(nil), classes...), extra...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
