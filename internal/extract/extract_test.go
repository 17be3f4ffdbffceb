package extract

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
)

func box(x1, y1, x2, y2 float64) invoice.BBox {
	return invoice.BBox{XMin: x1, YMin: y1, XMax: x2, YMax: y2}
}

func tok(text string, conf float64, b invoice.BBox) invoice.Token {
	return invoice.Token{Text: text, Confidence: conf, BBox: b}
}

func pageVariants() map[normalize.Variant]image.Image {
	out := make(map[normalize.Variant]image.Image)
	for _, v := range normalize.AllVariants {
		out[v] = image.NewGray(image.Rect(0, 0, 400, 300))
	}
	return out
}

func newExtractor(t *testing.T, cfg Config, engines ...engine.Engine) *Extractor {
	t.Helper()
	reg, err := engine.NewRegistry(engines...)
	require.NoError(t, err)
	x, err := New(reg, cfg)
	require.NoError(t, err)
	return x
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)

	empty, err := engine.NewRegistry()
	require.NoError(t, err)
	_, err = New(empty, Config{})
	require.Error(t, err)

	reg, err := engine.NewRegistry(engine.NewStatic("a", nil))
	require.NoError(t, err)

	x, err := New(reg, Config{MaxWorkers: 16})
	require.NoError(t, err)
	assert.Equal(t, MaxWorkersCap, x.Config().MaxWorkers)
	assert.Equal(t, DefaultTaskTimeout, x.Config().TaskTimeout)

	_, err = New(reg, Config{TaskTimeout: time.Second})
	require.Error(t, err)
	code, ok := invoice.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, invoice.ErrorInvalidConfig, code)

	_, err = New(reg, Config{RegionClasses: []string{"barcode"}})
	require.Error(t, err)
	_, err = New(reg, Config{EngineFloors: map[string]float64{"a": 1.5}})
	require.Error(t, err)
}

func TestConfig_Floor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EngineFloors = map[string]float64{"tesseract": 0.5}
	assert.InDelta(t, 0.5, cfg.Floor("tesseract"), 1e-9)
	assert.InDelta(t, DefaultEngineFloor, cfg.Floor("onnxocr"), 1e-9)
}

func TestExtract_TwoEnginesFuseToStrongerReading(t *testing.T) {
	b := box(10, 10, 60, 24)
	weak := engine.NewStatic("alpha", []invoice.Token{tok("T0TAL", 0.6, b)})
	strong := engine.NewStatic("beta", []invoice.Token{tok("TOTAL", 0.9, b)})
	x := newExtractor(t, Config{Variants: []normalize.Variant{normalize.VariantOriginal}}, weak, strong)

	out, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	require.Len(t, out.Tokens, 1)
	assert.Equal(t, "TOTAL", out.Tokens[0].Text)
	assert.InDelta(t, 0.9, out.Tokens[0].Confidence, 1e-9)
	assert.Equal(t, "beta", out.Tokens[0].EngineID)
	assert.Len(t, out.Raw, 2)
	assert.Len(t, out.Outcomes, 2)
	assert.Zero(t, out.Failed())
}

func TestExtract_TaskPerEngineAndVariant(t *testing.T) {
	a := engine.NewStatic("a", []invoice.Token{tok("x", 0.9, box(0, 0, 5, 5))})
	b := engine.NewStatic("b", nil)
	x := newExtractor(t, Config{}, a, b)

	out, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	require.Len(t, out.Outcomes, 2*len(normalize.AllVariants))
	assert.Equal(t, "a", out.Outcomes[0].Engine)
	assert.Equal(t, "b", out.Outcomes[len(out.Outcomes)-1].Engine)
	assert.Len(t, out.Raw, len(normalize.AllVariants))
	assert.Len(t, out.Tokens, 1)
}

func TestExtract_FloorDropsWeakTokens(t *testing.T) {
	e := engine.NewStatic("e", []invoice.Token{
		tok("keep", 0.45, box(0, 0, 10, 10)),
		tok("drop", 0.35, box(20, 0, 30, 10)),
	})
	x := newExtractor(t, Config{
		Variants:     []normalize.Variant{normalize.VariantGrayscale},
		EngineFloors: map[string]float64{"e": 0.4},
	}, e)

	out, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	require.Len(t, out.Tokens, 1)
	assert.Equal(t, "keep", out.Tokens[0].Text)
	assert.Equal(t, 1, out.Outcomes[0].Tokens)
}

func TestExtract_FailuresAreRecorded(t *testing.T) {
	good := engine.NewStatic("good", []invoice.Token{tok("RUC", 0.9, box(0, 0, 30, 10))})
	failing := &engine.Static{Name: "failing", Err: errors.New("library missing")}
	crashing := &engine.Static{Name: "crashing", Panic: true}
	x := newExtractor(t, Config{Variants: []normalize.Variant{normalize.VariantOriginal}}, good, failing, crashing)

	out, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	require.Len(t, out.Tokens, 1)
	assert.Equal(t, 2, out.Failed())

	byEngine := map[string]invoice.TaskOutcome{}
	for _, o := range out.Outcomes {
		byEngine[o.Engine] = o
	}
	code, _ := invoice.CodeOf(byEngine["failing"].Err)
	assert.Equal(t, invoice.ErrorEngineFailed, code)
	assert.Contains(t, byEngine["failing"].Error, "library missing")
	code, _ = invoice.CodeOf(byEngine["crashing"].Err)
	assert.Equal(t, invoice.ErrorTaskPanic, code)
	assert.True(t, byEngine["good"].OK())
}

func TestExtract_NoBackendIsFailedTask(t *testing.T) {
	x := newExtractor(t, Config{Variants: []normalize.Variant{normalize.VariantOriginal}},
		engine.NewClassical(engine.ClassicalConfig{}),
		engine.NewStatic("stub", []invoice.Token{tok("ok", 0.9, box(0, 0, 5, 5))}))
	if engine.NewClassical(engine.ClassicalConfig{}).Available() {
		t.Skip("tesseract backend linked")
	}

	out, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed())
	assert.ErrorIs(t, out.Outcomes[1].Err, engine.ErrNoBackend)
	assert.Len(t, out.Tokens, 1)
}

// stuckEngine ignores its context until released.
type stuckEngine struct{ release chan struct{} }

func (s *stuckEngine) ID() string { return "stuck" }
func (s *stuckEngine) Recognize(context.Context, image.Image, engine.Options) ([]invoice.Token, error) {
	<-s.release
	return nil, nil
}

func TestExtract_Timeouts(t *testing.T) {
	slow := &engine.Static{Name: "slow", Delay: time.Minute}
	stuck := &stuckEngine{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })

	x := newExtractor(t, Config{Variants: []normalize.Variant{normalize.VariantOriginal}}, slow, stuck)
	x.cfg.TaskTimeout = 50 * time.Millisecond

	start := time.Now()
	out, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, out.Outcomes, 2)
	for _, o := range out.Outcomes {
		code, ok := invoice.CodeOf(o.Err)
		require.True(t, ok, o.Engine)
		assert.Equal(t, invoice.ErrorTaskTimeout, code, o.Engine)
	}
	assert.Empty(t, out.Tokens)
}

// countingEngine tracks the peak number of concurrent calls.
type countingEngine struct {
	name    string
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	holdFor time.Duration
}

func (c *countingEngine) ID() string { return c.name }
func (c *countingEngine) Recognize(context.Context, image.Image, engine.Options) ([]invoice.Token, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	c.calls.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(c.holdFor)
	return nil, nil
}

func TestExtract_PoolIsBounded(t *testing.T) {
	c := &countingEngine{name: "count", holdFor: 20 * time.Millisecond}
	x := newExtractor(t, Config{MaxWorkers: 2}, c)

	_, err := x.Extract(context.Background(), pageVariants(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(len(normalize.AllVariants)), c.calls.Load())
	assert.LessOrEqual(t, c.peak.Load(), int32(2))
}

func TestExtract_CancelledContextStopsQueueing(t *testing.T) {
	c := &countingEngine{name: "count"}
	x := newExtractor(t, Config{}, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := x.Extract(ctx, pageVariants(), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.Outcomes)
	assert.Zero(t, c.calls.Load())
}

func TestExtract_RegionTasks(t *testing.T) {
	e := &engine.Static{
		Name: "e",
		Regions: map[string][]invoice.Token{
			invoice.ClassDate:       {tok("15/03/2024", 0.8, box(2, 2, 50, 20))},
			invoice.ClassIdentifier: {tok("1791354400001", 0.95, box(1, 1, 80, 18))},
		},
	}
	dets := []invoice.Detection{
		{Class: invoice.ClassDate, Confidence: 0.9, BBox: box(100, 50, 200, 70)},
		{Class: invoice.ClassIdentifier, Confidence: 0.9, BBox: box(10, 10, 120, 30)},
		{Class: invoice.ClassDescription, Confidence: 0.9, BBox: box(10, 100, 300, 120)},
	}
	x := newExtractor(t, Config{Variants: []normalize.Variant{normalize.VariantOriginal}}, e)

	out, err := x.Extract(context.Background(), pageVariants(), dets)
	require.NoError(t, err)
	// one page task plus two specialized regions; description is not specialized
	require.Len(t, out.Outcomes, 3)

	var date invoice.Token
	for _, tk := range out.Tokens {
		if tk.Text == "15/03/2024" {
			date = tk
		}
	}
	require.NotEmpty(t, date.Text)
	assert.Equal(t, invoice.ClassDate, date.SourceClass)
	assert.Equal(t, box(98, 48, 146, 66), date.BBox)
	assert.Equal(t, string(normalize.VariantGrayscale), date.VariantID)
}

func TestAssignClasses(t *testing.T) {
	tokens := []invoice.Token{
		tok("inside", 0.9, box(12, 12, 20, 20)),
		tok("outside", 0.9, box(200, 200, 210, 210)),
		{Text: "tagged", Confidence: 0.9, BBox: box(12, 12, 20, 20), SourceClass: invoice.ClassDate},
	}
	dets := []invoice.Detection{
		{Class: invoice.ClassCompanyName, Confidence: 0.5, BBox: box(0, 0, 100, 40)},
		{Class: invoice.ClassIdentifier, Confidence: 0.8, BBox: box(10, 10, 30, 30)},
	}
	AssignClasses(tokens, dets)
	assert.Equal(t, invoice.ClassIdentifier, tokens[0].SourceClass)
	assert.Empty(t, tokens[1].SourceClass)
	assert.Equal(t, invoice.ClassDate, tokens[2].SourceClass)
}

func TestMergeTokens(t *testing.T) {
	b := box(0, 0, 40, 10)
	tokens := []invoice.Token{
		{Text: "12.00", Confidence: 0.7, BBox: b, EngineID: "b"},
		{Text: "12.0", Confidence: 0.7, BBox: b, EngineID: "a"},
		{Text: "far", Confidence: 0.5, BBox: box(0, 50, 20, 60), EngineID: "a"},
		{Text: "left", Confidence: 0.5, BBox: box(0, 20, 20, 30), EngineID: "a", SourceClass: invoice.ClassTax},
		{Text: "right", Confidence: 0.9, BBox: box(50, 20, 70, 30), EngineID: "a"},
	}
	got := MergeTokens(tokens, 0.5)
	require.Len(t, got, 4)
	// equal confidence: longer text wins
	assert.Equal(t, "12.00", got[0].Text)
	assert.Equal(t, []string{"12.00", "left", "right", "far"}, []string{got[0].Text, got[1].Text, got[2].Text, got[3].Text})
	assert.Equal(t, invoice.ClassTax, got[1].SourceClass)

	assert.Nil(t, MergeTokens(nil, 0.5))
}

func TestMergeTokens_InheritsClassFromSuppressed(t *testing.T) {
	b := box(0, 0, 40, 10)
	got := MergeTokens([]invoice.Token{
		{Text: "001-002-000123456", Confidence: 0.9, BBox: b, EngineID: "page"},
		{Text: "001-002-000123456", Confidence: 0.8, BBox: b, EngineID: "region", SourceClass: invoice.ClassInvoiceNumber},
	}, 0.5)
	require.Len(t, got, 1)
	assert.Equal(t, "page", got[0].EngineID)
	assert.Equal(t, invoice.ClassInvoiceNumber, got[0].SourceClass)
}

func genToken() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
		gen.Float64Range(0.3, 1.0),
		gen.OneConstOf("a", "b", "c"),
		gen.OneConstOf("1", "12", "123"),
	).Map(func(vals []any) invoice.Token {
		x := float64(vals[0].(int) * 15)
		y := float64(vals[1].(int) * 12)
		return invoice.Token{
			Text:       vals[4].(string),
			Confidence: vals[2].(float64),
			BBox:       box(x, y, x+20, y+10),
			EngineID:   vals[3].(string),
		}
	})
}

func TestMergeTokens_OrderIndependent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("shuffling input never changes the merge", prop.ForAll(
		func(tokens []invoice.Token, seed int64) bool {
			want := MergeTokens(tokens, 0.5)
			shuffled := append([]invoice.Token(nil), tokens...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			got := MergeTokens(shuffled, 0.5)
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, genToken()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// shuffledEngine returns its tokens after a random delay so that task
// completion order varies between runs.
type shuffledEngine struct {
	name   string
	tokens []invoice.Token
	mu     sync.Mutex
	rng    *rand.Rand
}

func (s *shuffledEngine) ID() string { return s.name }
func (s *shuffledEngine) Recognize(context.Context, image.Image, engine.Options) ([]invoice.Token, error) {
	s.mu.Lock()
	d := time.Duration(s.rng.Intn(5)) * time.Millisecond
	s.mu.Unlock()
	time.Sleep(d)
	return append([]invoice.Token(nil), s.tokens...), nil
}

func TestExtract_CompletionOrderDoesNotMatter(t *testing.T) {
	a := []invoice.Token{tok("Total", 0.8, box(10, 10, 50, 20)), tok("$112.00", 0.7, box(60, 10, 110, 20))}
	b := []invoice.Token{tok("Tota1", 0.8, box(10, 10, 50, 20)), tok("$112.00", 0.9, box(61, 10, 111, 20))}

	var first []invoice.Token
	for i := range 5 {
		x := newExtractor(t, Config{},
			&shuffledEngine{name: "a", tokens: a, rng: rand.New(rand.NewSource(int64(i)))},
			&shuffledEngine{name: "b", tokens: b, rng: rand.New(rand.NewSource(int64(100 + i)))})
		out, err := x.Extract(context.Background(), pageVariants(), nil)
		require.NoError(t, err)
		if first == nil {
			first = out.Tokens
			continue
		}
		assert.Equal(t, first, out.Tokens)
	}
	require.Len(t, first, 2)
	assert.Equal(t, "Total", first[0].Text)
	assert.Equal(t, "a", first[0].EngineID)
	assert.InDelta(t, 0.9, first[1].Confidence, 1e-9)
}
