package invoice

import (
	"sort"
	"sync"
)

// Pipeline stage names used in trace entries.
const (
	StageNormalize = "normalize"
	StageDetect    = "detect"
	StageExtract   = "extract"
	StageGroup     = "group"
	StagePatterns  = "patterns"
	StageFusion    = "fusion"
	StageValidate  = "validate"
)

// TraceEntry records one decision taken by a stage.
type TraceEntry struct {
	Stage    string            `json:"stage" yaml:"stage"`
	Decision string            `json:"decision" yaml:"decision"`
	Evidence map[string]string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Tracer is an append-only, goroutine-safe trace collector.
// A nil Tracer discards entries.
type Tracer struct {
	mu      sync.Mutex
	entries []TraceEntry
}

// NewTracer creates an empty tracer.
func NewTracer() *Tracer { return &Tracer{} }

// Record appends an entry. Evidence is given as key/value pairs.
func (t *Tracer) Record(stage, decision string, kv ...string) {
	if t == nil {
		return
	}
	var ev map[string]string
	if len(kv) > 0 {
		ev = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ev[kv[i]] = kv[i+1]
		}
	}
	t.mu.Lock()
	t.entries = append(t.entries, TraceEntry{Stage: stage, Decision: decision, Evidence: ev})
	t.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (t *Tracer) Entries() []TraceEntry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// SortTaskOutcomes orders outcomes by engine, variant and region so that
// completion order never leaks into results.
func SortTaskOutcomes(outcomes []TaskOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if a.Engine != b.Engine {
			return a.Engine < b.Engine
		}
		if a.Variant != b.Variant {
			return a.Variant < b.Variant
		}
		return a.Region < b.Region
	})
}
