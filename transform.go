package inlineimages

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eringen/inlineimages/document"
	"github.com/eringen/inlineimages/traverse"
)

// ProcessRecord rewrites the images of rec in place: the auxiliary fields
// first when enabled, then the primary content field.
func (p *Plugin) ProcessRecord(ctx context.Context, rec *ContentRecord) RecordReport {
	rr := RecordReport{ID: rec.ID}
	log := p.logger.With("record", rec.ID)

	if p.opts.IncludeAuxiliaryFields && rec.Auxiliary != nil {
		walker := traverse.Walker{MaxDepth: p.opts.MaxDepth}
		issues, err := walker.Walk(ctx, rec.Auxiliary, func(ctx context.Context, path traverse.Path, value string) (string, bool) {
			fr, out := p.rewriteField(ctx, "auxiliary."+path.String(), value, log)
			if fr == nil {
				return value, false
			}
			rr.Fields = append(rr.Fields, *fr)
			return out, fr.Changed
		})
		for _, issue := range issues {
			log.Warn("skipped auxiliary subtree", "path", issue.Path.String(), "error", issue.Err)
		}
		rr.Issues = issues
		if err != nil {
			return rr
		}
	}

	if fr, out := p.rewriteField(ctx, "content", rec.Content, log); fr != nil {
		rr.Fields = append(rr.Fields, *fr)
		if fr.Changed {
			rec.Content = out
		}
	}
	return rr
}

// rewriteField parses value once, runs every image concurrently and renders
// once after all of them settle. The report is nil when value cannot hold an
// image. Unless at least one image was replaced, value is returned as is.
func (p *Plugin) rewriteField(ctx context.Context, fieldPath, value string, log *slog.Logger) (*FieldReport, string) {
	if !document.MayContain(value, "img") {
		return nil, value
	}
	log = log.With("field", fieldPath)
	fr := &FieldReport{Path: fieldPath}

	doc, err := document.Parse(value)
	if err != nil {
		log.Warn("leaving field unchanged", "error", err)
		fr.Err = err
		return fr, value
	}

	nodes := doc.FindAll("img", document.HasAttr("src"))
	if len(nodes) == 0 {
		return fr, value
	}
	refs := make([]ImageRef, len(nodes))
	for i, n := range nodes {
		refs[i] = newImageRef(n)
	}

	fr.Outcomes = make([]Outcome, len(nodes))
	var wg sync.WaitGroup
	for i := range nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			o := p.replaceImage(ctx, doc, nodes[i], refs[i], log)
			p.metrics.observeImage(o, time.Since(start))
			fr.Outcomes[i] = o
		}(i)
	}
	wg.Wait()

	if fr.Count(Replaced) == 0 {
		return fr, value
	}
	out, err := doc.Render()
	if err != nil {
		log.Warn("leaving field unchanged", "error", err)
		fr.Err = err
		return fr, value
	}
	fr.Changed = true
	return fr, out
}
