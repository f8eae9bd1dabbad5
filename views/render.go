package views

import (
	"context"
	"strings"
)

// Renderer turns a descriptor into markup.
type Renderer interface {
	Render(ctx context.Context, d Descriptor) (string, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, d Descriptor) (string, error)

// Render calls f(ctx, d).
func (f RendererFunc) Render(ctx context.Context, d Descriptor) (string, error) {
	return f(ctx, d)
}

// TemplRenderer renders descriptors with ResponsiveImage.
type TemplRenderer struct{}

// Render returns the ResponsiveImage markup for d.
func (TemplRenderer) Render(ctx context.Context, d Descriptor) (string, error) {
	var b strings.Builder
	if err := ResponsiveImage(d).Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
