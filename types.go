package inlineimages

import (
	"fmt"
	"time"

	"github.com/eringen/inlineimages/traverse"
)

// ContentRecord is one record of the content source. Content is the primary
// HTML field and Auxiliary holds the optional nested extra fields.
type ContentRecord struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Owner     string         `json:"owner"`
	Content   string         `json:"content"`
	Auxiliary map[string]any `json:"auxiliary,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt,omitzero"`
}

// ImageRef is an <img> found in a field. It lives for one rewrite pass.
type ImageRef struct {
	Src     string
	Classes []string
	Title   string
	Alt     string
	HasAlt  bool
	Width   int // from the URL size suffix, 0 when absent
	Height  int
}

// Status is the result kind of one image.
type Status int

const (
	Replaced Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Replaced:
		return "replaced"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is what happened to one image.
type Outcome struct {
	Src    string
	Status Status
	Reason string
	Err    error
}

func replaced(src string) Outcome {
	return Outcome{Src: src, Status: Replaced}
}

func skipped(src, reason string, err error) Outcome {
	return Outcome{Src: src, Status: Skipped, Reason: reason, Err: err}
}

func failed(src, reason string, err error) Outcome {
	return Outcome{Src: src, Status: Failed, Reason: reason, Err: err}
}

// FieldReport covers one rewritten field. Err is set when the field was left
// unchanged as a whole, for example because it could not be parsed.
type FieldReport struct {
	Path     string
	Outcomes []Outcome
	Changed  bool
	Err      error
}

// Count returns the number of outcomes with status s.
func (f FieldReport) Count(s Status) int {
	n := 0
	for _, o := range f.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// RecordReport covers one record.
type RecordReport struct {
	ID     string
	Fields []FieldReport
	Issues []traverse.Issue
	Saved  bool
	Err    error // save failure
}

// Changed reports whether any field of the record was rewritten.
func (r RecordReport) Changed() bool {
	for _, f := range r.Fields {
		if f.Changed {
			return true
		}
	}
	return false
}

// Report summarises a run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Records  []RecordReport

	Replaced int
	Skipped  int
	Failed   int
	Saved    int
}

func (r *Report) add(rec RecordReport) {
	r.Records = append(r.Records, rec)
	for _, f := range rec.Fields {
		r.Replaced += f.Count(Replaced)
		r.Skipped += f.Count(Skipped)
		r.Failed += f.Count(Failed)
	}
	if rec.Saved {
		r.Saved++
	}
}
