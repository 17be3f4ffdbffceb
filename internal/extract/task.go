package extract

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// task is one engine call over one image.
type task struct {
	engine  engine.Engine
	variant normalize.Variant
	image   image.Image
	opts    engine.Options
	// region tasks run on a crop; tokens are shifted by offset and tagged.
	region string
	offset image.Point
}

var regionWhitelists = map[string]string{
	invoice.ClassIdentifier:    "0123456789",
	invoice.ClassInvoiceNumber: "0123456789-",
	invoice.ClassDate:          "0123456789/-.",
}

// buildTasks creates engine x variant page tasks followed by engine x
// detection region tasks, engines in ID order.
func (x *Extractor) buildTasks(variants map[normalize.Variant]image.Image, detections []invoice.Detection) []task {
	order := x.cfg.Variants
	if len(order) == 0 {
		order = normalize.AllVariants
	}
	var tasks []task
	for _, eng := range x.registry.Engines() {
		floor := x.cfg.Floor(eng.ID())
		for _, v := range order {
			img, ok := variants[v]
			if !ok || img == nil {
				continue
			}
			tasks = append(tasks, task{
				engine:  eng,
				variant: v,
				image:   img,
				opts: engine.Options{
					MinConfidence: floor,
					Language:      x.cfg.Language,
					PageSegMode:   engine.SegAuto,
					Variant:       string(v),
				},
			})
		}
	}

	gray := variants[normalize.VariantGrayscale]
	if gray == nil {
		return tasks
	}
	bounds := gray.Bounds()
	page := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	pad := float64(x.cfg.RegionPadding)
	for _, eng := range x.registry.Engines() {
		floor := x.cfg.Floor(eng.ID())
		for _, det := range detections {
			if !slices.Contains(x.cfg.RegionClasses, det.Class) {
				continue
			}
			b := det.BBox
			rect := invoice.NewBBox(b.XMin-pad, b.YMin-pad, b.XMax+pad, b.YMax+pad, page).Rect(page)
			if rect.Dx() < 2 || rect.Dy() < 2 {
				continue
			}
			crop := utils.CropImageRect(gray, rect.Add(bounds.Min))
			tasks = append(tasks, task{
				engine:  eng,
				variant: normalize.VariantGrayscale,
				image:   normalize.EnhanceRegion(crop, det.Class),
				opts: engine.Options{
					MinConfidence: floor,
					Language:      x.cfg.Language,
					PageSegMode:   engine.SegSingleLine,
					Whitelist:     regionWhitelists[det.Class],
					Variant:       string(normalize.VariantGrayscale),
					Region:        det.Class,
				},
				region: det.Class,
				offset: rect.Min,
			})
		}
	}
	return tasks
}

// run executes tasks on min(len(tasks), MaxWorkers) workers. Cancelling
// ctx stops queueing; tasks never queued leave no outcome.
func (x *Extractor) run(ctx context.Context, tasks []task, col *Collector) {
	workers := min(len(tasks), x.cfg.MaxWorkers)
	jobs := make(chan task)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				x.execute(ctx, t, col)
			}
		}()
	}

queue:
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- t:
		case <-ctx.Done():
			break queue
		}
	}
	close(jobs)
	wg.Wait()
}

type taskResult struct {
	tokens []invoice.Token
	err    error
}

// execute runs one task under its own timeout. In-flight tasks are
// detached from caller cancellation and end when the engine returns or the
// timeout fires; an engine that ignores its context is abandoned.
func (x *Extractor) execute(parent context.Context, t task, col *Collector) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), x.cfg.TaskTimeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskResult{err: invoice.NewPanicError(invoice.StageExtract, r)}
			}
		}()
		toks, err := t.engine.Recognize(ctx, t.image, t.opts)
		done <- taskResult{tokens: toks, err: err}
	}()

	var res taskResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = taskResult{err: ctx.Err()}
	}

	id := t.engine.ID()
	outcome := invoice.TaskOutcome{
		Engine:   id,
		Variant:  string(t.variant),
		Region:   t.region,
		Duration: time.Since(start),
	}
	if res.err != nil {
		outcome.Err = classify(id, string(t.variant), res.err)
		outcome.Error = outcome.Err.Error()
		slog.Warn("OCR task failed", "engine", id, "variant", t.variant, "region", t.region, "error", outcome.Err)
		col.Add(outcome, nil)
		return
	}

	kept := x.keep(t, res.tokens)
	outcome.Tokens = len(kept)
	col.Add(outcome, kept)
}

func classify(engineID, variant string, err error) error {
	if _, ok := invoice.CodeOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return invoice.NewTaskTimeoutError(engineID, variant, err)
	}
	return invoice.NewEngineFailedError(engineID, variant, err)
}

// keep applies the engine floor, shifts region tokens back to page
// coordinates and stamps provenance.
func (x *Extractor) keep(t task, tokens []invoice.Token) []invoice.Token {
	floor := x.cfg.Floor(t.engine.ID())
	out := make([]invoice.Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Confidence < floor || !tok.BBox.Valid() || tok.Text == "" {
			continue
		}
		tok.EngineID = t.engine.ID()
		tok.VariantID = string(t.variant)
		if t.region != "" {
			tok.BBox = tok.BBox.Offset(float64(t.offset.X), float64(t.offset.Y))
			tok.SourceClass = t.region
		}
		out = append(out, tok)
	}
	return out
}
