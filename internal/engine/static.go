package engine

import (
	"context"
	"image"
	"slices"
	"time"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// AnyVariant keys tokens returned for every variant.
const AnyVariant = "*"

// Static replays scripted tokens. It serves tests and offline replays of
// recorded OCR output.
type Static struct {
	Name string
	// Pages maps a variant (or AnyVariant) to full-page tokens.
	Pages map[string][]invoice.Token
	// Regions maps a detection class to tokens in crop coordinates.
	Regions map[string][]invoice.Token
	// Err, Delay and Panic simulate failing, slow and crashing engines.
	Err   error
	Delay time.Duration
	Panic bool
}

// NewStatic returns an engine that yields tokens for every page variant.
func NewStatic(id string, tokens []invoice.Token) *Static {
	return &Static{Name: id, Pages: map[string][]invoice.Token{AnyVariant: tokens}}
}

// ID returns the engine name.
func (s *Static) ID() string { return s.Name }

// Recognize returns the scripted tokens for the task.
func (s *Static) Recognize(ctx context.Context, _ image.Image, opts Options) ([]invoice.Token, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if s.Panic {
		panic("static engine " + s.Name + " crashed")
	}
	if s.Err != nil {
		return nil, s.Err
	}

	var src []invoice.Token
	if opts.Region != "" {
		src = s.Regions[opts.Region]
	} else if toks, ok := s.Pages[opts.Variant]; ok {
		src = toks
	} else {
		src = s.Pages[AnyVariant]
	}

	out := slices.Clone(src)
	for i := range out {
		out[i].EngineID = s.Name
	}
	return out, nil
}
