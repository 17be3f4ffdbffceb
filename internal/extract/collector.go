package extract

import (
	"slices"
	"sync"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
)

// Collector accumulates task results from concurrent workers. It only
// appends; readers get sorted copies so completion order never shows.
type Collector struct {
	mu       sync.Mutex
	tokens   []invoice.Token
	outcomes []invoice.TaskOutcome
}

// NewCollector creates an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Add records one task outcome and its kept tokens.
func (c *Collector) Add(outcome invoice.TaskOutcome, tokens []invoice.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
	c.tokens = append(c.tokens, tokens...)
}

// Tokens returns the collected tokens in canonical order.
func (c *Collector) Tokens() []invoice.Token {
	c.mu.Lock()
	out := slices.Clone(c.tokens)
	c.mu.Unlock()
	slices.SortStableFunc(out, compareCanonical)
	return out
}

// Outcomes returns the outcomes sorted by engine, variant and region.
func (c *Collector) Outcomes() []invoice.TaskOutcome {
	c.mu.Lock()
	out := slices.Clone(c.outcomes)
	c.mu.Unlock()
	invoice.SortTaskOutcomes(out)
	return out
}
