// Package engine defines the OCR engine contract and an injectable registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"sync"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// ErrUnknownEngine is returned when a registry lookup fails.
var ErrUnknownEngine = errors.New("unknown OCR engine")

// ErrNoBackend is returned by engines whose native backend is not linked.
var ErrNoBackend = errors.New("engine: no OCR backend linked; build with -tags=tesseract")

// Page segmentation modes understood by the engines.
const (
	SegAuto       = "auto"
	SegSingleLine = "single_line"
	SegSparse     = "sparse"
)

// Options tune a single recognition call.
type Options struct {
	MinConfidence float64
	Language      string
	PageSegMode   string
	Whitelist     string
	// Variant and Region identify the task; engines may ignore them.
	Variant string
	Region  string
}

// Engine recognizes words on an image. Token boxes are in the coordinates
// of img with its origin at (0, 0). Implementations must be safe for
// concurrent use.
type Engine interface {
	ID() string
	Recognize(ctx context.Context, img image.Image, opts Options) ([]invoice.Token, error)
}

// Closer is implemented by engines holding native resources.
type Closer interface {
	Close() error
}

// Registry holds the engines taking part in a run. It is constructed and
// owned by the caller.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates a registry with the given engines.
func NewRegistry(engines ...Engine) (*Registry, error) {
	r := &Registry{engines: make(map[string]Engine)}
	for _, e := range engines {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds e. IDs must be unique and non-empty.
func (r *Registry) Register(e Engine) error {
	if e == nil {
		return errors.New("nil engine")
	}
	id := e.ID()
	if strings.TrimSpace(id) == "" {
		return errors.New("engine ID must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[id]; ok {
		return fmt.Errorf("engine %q already registered", id)
	}
	r.engines[id] = e
	return nil
}

// Get returns the engine with the given ID.
func (r *Registry) Get(id string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, id)
	}
	return e, nil
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Engines returns the registered engines sorted by ID.
func (r *Registry) Engines() []Engine {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Engine, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.engines[id])
	}
	return out
}

// Len returns the number of registered engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// Close closes every engine that holds resources and joins their errors.
func (r *Registry) Close() error {
	var errs []error
	for _, e := range r.Engines() {
		if c, ok := e.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", e.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
