package views

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

// ErrIncompleteDescriptor is returned when a descriptor lacks the fields the
// markup cannot do without.
var ErrIncompleteDescriptor = errors.New("views: descriptor needs src and srcset")

// ResponsiveImage renders the responsive block for d: a positioned wrapper,
// a placeholder layer holding the base64 image and the aspect-ratio padding,
// and the <img>, inside a <picture> when an alternate format is present.
func ResponsiveImage(d Descriptor) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if d.Src == "" || d.SrcSet == "" {
			return ErrIncompleteDescriptor
		}
		var b strings.Builder
		writeResponsiveImage(&b, d)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeResponsiveImage(b *strings.Builder, d Descriptor) {
	b.WriteString(`<span class="` + WrapperClass + `" style="`)
	b.WriteString(attr(wrapperStyle(d)))
	b.WriteString(`">`)

	b.WriteString(`<span class="` + BackgroundClass + `" style="`)
	b.WriteString(attr(backgroundStyle(d)))
	b.WriteString(`"></span>`)

	picture := d.AltSrcSet != ""
	if picture {
		b.WriteString(`<picture>`)
		writeSource(b, d.AltSrcSetType, d.AltSrcSet, d.Sizes)
		writeSource(b, d.SrcSetType, d.SrcSet, d.Sizes)
	}

	b.WriteString(`<img class="`)
	b.WriteString(attr(strings.Join(d.Classes, " ")))
	b.WriteString(`" alt="`)
	b.WriteString(attr(d.Alt))
	b.WriteString(`" title="`)
	b.WriteString(attr(d.Title))
	b.WriteString(`" src="`)
	b.WriteString(attr(d.Src))
	b.WriteString(`" srcset="`)
	b.WriteString(attr(d.SrcSet))
	b.WriteString(`" sizes="`)
	b.WriteString(attr(d.Sizes))
	b.WriteString(`" style="`)
	b.WriteString(attr(imageStyle(d)))
	b.WriteString(`"`)
	if d.Width > 0 {
		b.WriteString(` width="` + strconv.Itoa(d.Width) + `"`)
	}
	if d.Height > 0 {
		b.WriteString(` height="` + strconv.Itoa(d.Height) + `"`)
	}
	b.WriteString(` loading="lazy"/>`)

	if picture {
		b.WriteString(`</picture>`)
	}
	b.WriteString(`</span>`)
}

func writeSource(b *strings.Builder, typ, srcSet, sizes string) {
	b.WriteString(`<source`)
	if typ != "" {
		b.WriteString(` type="` + attr(typ) + `"`)
	}
	b.WriteString(` srcset="` + attr(srcSet) + `" sizes="` + attr(sizes) + `"/>`)
}

func wrapperStyle(d Descriptor) string {
	var s strings.Builder
	s.WriteString("position: relative; display: block; ")
	if ws := strings.TrimSpace(d.WrapperStyle); ws != "" {
		s.WriteString(ws)
		if !strings.HasSuffix(ws, ";") {
			s.WriteString(";")
		}
		s.WriteString(" ")
	}
	if d.PresentationWidth > 0 {
		s.WriteString("max-width: " + strconv.Itoa(d.PresentationWidth) + "px; ")
	}
	s.WriteString("margin-left: auto; margin-right: auto;")
	if d.Width > 0 {
		s.WriteString(" width: " + strconv.Itoa(d.Width) + "px;")
	}
	if d.Height > 0 {
		s.WriteString(" height: " + strconv.Itoa(d.Height) + "px;")
	}
	return s.String()
}

func backgroundStyle(d Descriptor) string {
	ratio := d.AspectRatio
	if ratio <= 0 {
		ratio = 1
	}
	padding := strconv.FormatFloat(100/ratio, 'f', -1, 64)
	s := "padding-bottom: " + padding + "%; position: relative; bottom: 0; left: 0;"
	if d.Base64 != "" {
		s += " background-image: url('" + d.Base64 + "'); background-size: cover;"
	}
	return s + " display: block;"
}

func imageStyle(d Descriptor) string {
	bg := d.BackgroundColor
	if bg == "" {
		bg = "white"
	}
	return "width: 100%; height: 100%; margin: 0; vertical-align: middle; position: absolute; top: 0; left: 0; box-shadow: inset 0px 0px 0px 400px " + bg + ";"
}

func attr(s string) string {
	return templ.EscapeString(s)
}
