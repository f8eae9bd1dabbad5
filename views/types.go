package views

// Marker classes added to every generated block.
const (
	WrapperClass    = "inline-image-wrapper"
	BackgroundClass = "inline-image-background"
	ImageClass      = "inline-image"
)

// Descriptor is everything the responsive image markup needs.
type Descriptor struct {
	Src        string
	SrcSet     string
	SrcSetType string
	Sizes      string

	// Alternate format sources; empty when unavailable.
	AltSrcSet     string
	AltSrcSetType string

	Base64            string // placeholder data URI
	AspectRatio       float64
	PresentationWidth int

	Alt     string
	Title   string
	Classes []string // classes for the <img>, marker class included

	// Explicit dimensions recovered from the source URL; zero when unknown.
	Width  int
	Height int

	WrapperStyle    string
	BackgroundColor string
}

// RecordSummary is one row of the preview index.
type RecordSummary struct {
	ID        string
	Type      string
	Owner     string
	UpdatedAt string
	Images    int
}

// RecordDetail is a record as shown by the preview page.
type RecordDetail struct {
	ID        string
	Type      string
	Owner     string
	UpdatedAt string
	Content   string // rewritten HTML, written unescaped
	Auxiliary string // indented JSON
}
