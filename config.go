package inlineimages

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eringen/inlineimages/derive"
	"github.com/eringen/inlineimages/views"
)

// Options holds the generation options for a run.
type Options struct {
	MaxWidth               int      // Derivative width cap in px (default 650)
	WrapperStyle           string   // Extra inline style on the outer wrapper
	BackgroundColor        string   // Placeholder background (default "white")
	PostTypes              []string // Record types to process (default post, page)
	UseAlternateFormat     bool     // Also generate AlternateFormat derivatives
	AlternateFormat        string   // Second output format (default "webp")
	IncludeAuxiliaryFields bool     // Walk the auxiliary sub-object too

	SourceOwner string // Provenance tag records must carry (default "wordpress")
	Concurrency int    // Records processed at once (default 4)
	MaxDepth    int    // Nesting bound for auxiliary fields (default 64)
}

var alternateFormats = map[string]bool{"webp": true, "png": true, "jpeg": true}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	o.setDefaults()
	return o
}

func (o *Options) setDefaults() {
	if o.MaxWidth == 0 {
		o.MaxWidth = 650
	}
	if o.BackgroundColor == "" {
		o.BackgroundColor = "white"
	}
	if o.PostTypes == nil {
		o.PostTypes = []string{"post", "page"}
	}
	if o.AlternateFormat == "" {
		o.AlternateFormat = "webp"
	}
	if o.SourceOwner == "" {
		o.SourceOwner = "wordpress"
	}
	if o.Concurrency == 0 {
		o.Concurrency = 4
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = 64
	}
}

// Validate reports every invalid option, each wrapped in ErrInvalidConfig.
func (o Options) Validate() error {
	var errs []error
	if o.MaxWidth <= 0 {
		errs = append(errs, fmt.Errorf("maxWidth must be positive, got %d", o.MaxWidth))
	}
	if len(o.PostTypes) == 0 {
		errs = append(errs, errors.New("postTypes must not be empty"))
	}
	for _, t := range o.PostTypes {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, errors.New("postTypes must not contain empty names"))
			break
		}
	}
	if !alternateFormats[derive.NormalizeFormat(o.AlternateFormat)] {
		errs = append(errs, fmt.Errorf("alternateFormat must be one of webp, png, jpeg, got %q", o.AlternateFormat))
	}
	if strings.TrimSpace(o.BackgroundColor) == "" {
		errs = append(errs, errors.New("backgroundColor must not be blank"))
	}
	if o.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", o.Concurrency))
	}
	if o.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("maxDepth must be positive, got %d", o.MaxDepth))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (o Options) hasType(t string) bool {
	for _, pt := range o.PostTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// fileOptions is the YAML shape of Options. Pointers tell an explicit zero
// apart from an absent key.
type fileOptions struct {
	MaxWidth               *int      `yaml:"maxWidth"`
	WrapperStyle           *string   `yaml:"wrapperStyle"`
	BackgroundColor        *string   `yaml:"backgroundColor"`
	PostTypes              *[]string `yaml:"postTypes"`
	UseAlternateFormat     *bool     `yaml:"useAlternateFormat"`
	AlternateFormat        *string   `yaml:"alternateFormat"`
	IncludeAuxiliaryFields *bool     `yaml:"includeAuxiliaryFields"`
	SourceOwner            *string   `yaml:"sourceOwner"`
	Concurrency            *int      `yaml:"concurrency"`
	MaxDepth               *int      `yaml:"maxDepth"`
}

// LoadOptions reads Options from a YAML file. Unknown keys are rejected.
func LoadOptions(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("open options: %w", err)
	}
	defer f.Close()
	return DecodeOptions(f)
}

// DecodeOptions reads Options from YAML. Absent keys take their defaults and
// the result is validated.
func DecodeOptions(r io.Reader) (Options, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Options{}, fmt.Errorf("read options: %w", err)
	}
	var fo fileOptions
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fo); err != nil && !errors.Is(err, io.EOF) {
			return Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	o := DefaultOptions()
	if fo.MaxWidth != nil {
		o.MaxWidth = *fo.MaxWidth
	}
	if fo.WrapperStyle != nil {
		o.WrapperStyle = *fo.WrapperStyle
	}
	if fo.BackgroundColor != nil {
		o.BackgroundColor = *fo.BackgroundColor
	}
	if fo.PostTypes != nil {
		o.PostTypes = *fo.PostTypes
		if o.PostTypes == nil {
			o.PostTypes = []string{}
		}
	}
	if fo.UseAlternateFormat != nil {
		o.UseAlternateFormat = *fo.UseAlternateFormat
	}
	if fo.AlternateFormat != nil {
		o.AlternateFormat = *fo.AlternateFormat
	}
	if fo.IncludeAuxiliaryFields != nil {
		o.IncludeAuxiliaryFields = *fo.IncludeAuxiliaryFields
	}
	if fo.SourceOwner != nil {
		o.SourceOwner = *fo.SourceOwner
	}
	if fo.Concurrency != nil {
		o.Concurrency = *fo.Concurrency
	}
	if fo.MaxDepth != nil {
		o.MaxDepth = *fo.MaxDepth
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Option configures additional Plugin behavior.
type Option func(*Plugin)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = l
	}
}

// WithRenderer sets the markup renderer (default views.TemplRenderer).
func WithRenderer(r views.Renderer) Option {
	return func(p *Plugin) {
		p.renderer = r
	}
}

// WithMetrics records run metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Plugin) {
		p.metrics = m
	}
}
