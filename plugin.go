// Package inlineimages rewrites inline <img> tags in WordPress content into
// responsive image markup.
//
// A run reads records from a Source, finds every image in the primary content
// field (and optionally in the nested auxiliary fields), fetches the full-size
// asset behind each WordPress size variant, generates responsive derivatives
// and replaces the original tag with a self-contained block carrying a
// placeholder, a srcset and the aspect ratio. Images that cannot be processed
// are left as they are.
package inlineimages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eringen/inlineimages/derive"
	"github.com/eringen/inlineimages/fetch"
	"github.com/eringen/inlineimages/views"
)

// Source is where records come from and where rewritten records go back to.
type Source interface {
	Records(ctx context.Context) ([]*ContentRecord, error)
	Save(ctx context.Context, rec *ContentRecord) error
}

// Plugin wires the options and the collaborators of a run.
type Plugin struct {
	opts      Options
	source    Source
	fetcher   fetch.Fetcher
	generator derive.Generator
	renderer  views.Renderer
	logger    *slog.Logger
	metrics   *Metrics
}

// New validates opts and returns a Plugin. Zero option values take their
// defaults; invalid ones fail with ErrInvalidConfig before any work starts.
func New(opts Options, source Source, fetcher fetch.Fetcher, generator derive.Generator, options ...Option) (*Plugin, error) {
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if source == nil || fetcher == nil || generator == nil {
		return nil, fmt.Errorf("%w: source, fetcher and generator are required", ErrInvalidConfig)
	}

	p := &Plugin{
		opts:      opts,
		source:    source,
		fetcher:   fetcher,
		generator: generator,
		renderer:  views.TemplRenderer{},
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Run processes every matching record and saves the ones that changed.
// Per-image and per-field failures are recorded in the report; only a
// failing Source aborts the run.
func (p *Plugin) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), Started: time.Now()}
	log := p.logger.With("run", report.RunID)

	all, err := p.source.Records(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list records: %w", ErrSource, err)
	}
	var entities []*ContentRecord
	for _, rec := range all {
		if rec != nil && rec.Owner == p.opts.SourceOwner && p.opts.hasType(rec.Type) {
			entities = append(entities, rec)
		}
	}
	log.Info("processing records", "matched", len(entities), "total", len(all))

	results := make([]RecordReport, len(entities))
	done := make([]bool, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, rec := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rr := p.ProcessRecord(gctx, rec)
			if rr.Changed() {
				if err := p.source.Save(gctx, rec); err != nil {
					rr.Err = err
					results[i], done[i] = rr, true
					return fmt.Errorf("%w: save %s: %w", ErrSource, rec.ID, err)
				}
				rr.Saved = true
			}
			results[i], done[i] = rr, true
			return nil
		})
	}
	err = g.Wait()

	for i, rr := range results {
		if !done[i] {
			continue
		}
		report.add(rr)
		p.metrics.observeRecord(rr)
	}
	report.Finished = time.Now()
	p.metrics.observeRun()

	if err == nil {
		err = ctx.Err()
	}
	if err != nil && !errors.Is(err, ErrSource) {
		log.Warn("run interrupted", "error", err)
	}
	log.Info("run finished",
		"replaced", report.Replaced,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"saved", report.Saved,
		"elapsed", report.Finished.Sub(report.Started))
	return report, err
}
