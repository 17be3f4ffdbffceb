package invoice

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBBox_ClipsAndOrders(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)

	tests := []struct {
		name           string
		x1, y1, x2, y2 float64
		want           BBox
		valid          bool
	}{
		{"inside", 10, 10, 20, 20, BBox{10, 10, 20, 20}, true},
		{"swapped corners", 20, 20, 10, 10, BBox{10, 10, 20, 20}, true},
		{"overflow", -5, -5, 150, 80, BBox{0, 0, 100, 50}, true},
		{"fully outside", 120, 60, 130, 70, BBox{100, 50, 100, 50}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBBox(tt.x1, tt.y1, tt.x2, tt.y2, bounds)
			assert.Equal(t, tt.want, b)
			assert.Equal(t, tt.valid, b.Valid())
		})
	}
}

func TestBBox_IoU(t *testing.T) {
	a := BBox{0, 0, 10, 10}
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 0.0, a.IoU(BBox{20, 20, 30, 30}), 1e-9)
	// half overlap: inter 50, union 150
	assert.InDelta(t, 50.0/150.0, a.IoU(BBox{5, 0, 15, 10}), 1e-9)
}

func TestBBox_Geometry(t *testing.T) {
	b := BBox{10, 20, 30, 60}
	cx, cy := b.Center()
	assert.Equal(t, 20.0, cx)
	assert.Equal(t, 40.0, cy)
	assert.Equal(t, 800.0, b.Area())
	assert.True(t, b.Contains(15, 25))
	assert.False(t, b.Contains(5, 25))
	assert.Equal(t, BBox{11, 22, 31, 62}, b.Offset(1, 2))
	assert.Equal(t, BBox{20, 40, 60, 120}, b.Scale(2))
	assert.Equal(t, image.Rect(10, 20, 30, 50), b.Rect(image.Rect(0, 0, 100, 50)))
}

func TestSourcePriority(t *testing.T) {
	assert.Greater(t, SourcePattern.Priority(), SourceDetector.Priority())
	assert.Greater(t, SourceDetector.Priority(), SourceStructural.Priority())
	assert.Equal(t, 0, Source("other").Priority())
}

func TestClassVocabulary(t *testing.T) {
	f, ok := FieldForClass(ClassIdentifier)
	require.True(t, ok)
	assert.Equal(t, FieldRUC, f)

	f, ok = FieldForClass(ClassTax)
	require.True(t, ok)
	assert.Equal(t, FieldTax, f)

	_, ok = FieldForClass(ClassDescription)
	assert.False(t, ok)

	assert.True(t, IsLineItemClass(ClassTotalPrice))
	assert.False(t, IsLineItemClass(ClassDate))
	assert.True(t, IsHeaderClass(ClassInvoiceNumber))
	assert.True(t, IsKnownClass(ClassQuantity))
	assert.False(t, IsKnownClass("signature"))
	assert.True(t, IsMoneyField(FieldTotal))
	assert.False(t, IsMoneyField(FieldDate))
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("boom")
	err := NewEngineFailedError("tesseract", "binarized", cause)

	assert.Contains(t, err.Error(), "ENGINE_FAILED")
	assert.Contains(t, err.Error(), "boom")
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("task: %w", err)
	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrorEngineFailed, code)

	insufficient := NewInsufficientTextError(3, 20)
	assert.ErrorIs(t, insufficient, ErrInsufficientText)
	assert.ErrorIs(t, fmt.Errorf("run: %w", insufficient), &ProcessingError{Code: ErrorInsufficientText})

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestTracer_ConcurrentAppend(t *testing.T) {
	tr := NewTracer()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Record(StageExtract, "task done", "index", fmt.Sprint(i))
		}(i)
	}
	wg.Wait()

	entries := tr.Entries()
	assert.Len(t, entries, 50)
	for _, e := range entries {
		assert.Equal(t, StageExtract, e.Stage)
		assert.Contains(t, e.Evidence, "index")
	}

	var nilTracer *Tracer
	nilTracer.Record(StageFusion, "ignored")
	assert.Nil(t, nilTracer.Entries())
}

func TestSortTaskOutcomes(t *testing.T) {
	outcomes := []TaskOutcome{
		{Engine: "b", Variant: "gray"},
		{Engine: "a", Variant: "gray", Region: "2"},
		{Engine: "a", Variant: "gray", Region: "1"},
		{Engine: "a", Variant: "binarized"},
	}
	SortTaskOutcomes(outcomes)
	assert.Equal(t, "binarized", outcomes[0].Variant)
	assert.Equal(t, "1", outcomes[1].Region)
	assert.Equal(t, "2", outcomes[2].Region)
	assert.Equal(t, "b", outcomes[3].Engine)
}

func TestResultValue(t *testing.T) {
	var r *Result
	assert.Empty(t, r.Value(FieldTotal))
	r = &Result{Fields: map[string]FieldValue{FieldTotal: {Value: "$1.00"}}}
	assert.Equal(t, "$1.00", r.Value(FieldTotal))
}
