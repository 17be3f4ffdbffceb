package onnxocr

import (
	"context"
	"image"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/models"
	"github.com/MeKo-Tech/invoxtract/internal/onnx"
	"github.com/MeKo-Tech/invoxtract/internal/testutil"
)

func testCharset() *Charset {
	return &Charset{Tokens: []string{"A", "B", "1", "2", "$", "."}}
}

// logits builds a [1, T, C] output from per-step class choices with a
// dominant probability of p.
func logits(classes int, steps []int, p float32) ([]float32, []int64) {
	data := make([]float32, len(steps)*classes)
	rest := (1 - p) / float32(classes-1)
	for t, c := range steps {
		for k := range classes {
			data[t*classes+k] = rest
		}
		data[t*classes+c] = p
	}
	return data, []int64{1, int64(len(steps)), int64(classes)}
}

func TestParseCharset(t *testing.T) {
	cs, err := ParseCharset(strings.NewReader("\uFEFFa\n\n b \nc\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cs.Tokens)
	assert.Equal(t, 5, cs.Classes())
	assert.Equal(t, "", cs.Lookup(0))
	assert.Equal(t, "a", cs.Lookup(1))
	assert.Equal(t, "c", cs.Lookup(3))
	assert.Equal(t, " ", cs.Lookup(4))
	assert.Equal(t, "", cs.Lookup(9))

	_, err = ParseCharset(strings.NewReader("\n \n"))
	require.Error(t, err)
}

func TestLoadCharset(t *testing.T) {
	_, err := LoadCharset("")
	require.Error(t, err)

	path := testutil.WriteFile(t, t.TempDir(), "keys.txt", "x\ny\n")
	cs, err := LoadCharset(path)
	require.NoError(t, err)
	assert.Len(t, cs.Tokens, 2)
}

func TestDecodeCTCGreedy_CollapsesRepeatsAndBlanks(t *testing.T) {
	cs := testCharset()
	// A A _ A B B
	data, shape := logits(cs.Classes(), []int{1, 1, 0, 1, 2, 2}, 0.9)
	line, err := decodeCTCGreedy(data, shape, 0)
	require.NoError(t, err)
	require.Len(t, line.chars, 3)
	assert.Equal(t, 6, line.steps)
	assert.Equal(t, []int{0, 3, 4}, []int{line.chars[0].step, line.chars[1].step, line.chars[2].step})
	assert.InDelta(t, 0.9, line.chars[0].prob, 1e-6)
}

func TestDecodeCTCGreedy_BadShape(t *testing.T) {
	_, err := decodeCTCGreedy([]float32{1, 2}, []int64{2}, 0)
	require.Error(t, err)
	_, err = decodeCTCGreedy([]float32{1, 2}, []int64{1, 2, 3}, 0)
	require.Error(t, err)
}

func TestProbabilityOf_Softmax(t *testing.T) {
	p := probabilityOf([]float32{2, 0, 0}, 0)
	assert.InDelta(t, 0.7870, p, 1e-3)
	assert.InDelta(t, 0.25, probabilityOf([]float32{0.25, 0.75}, 0), 1e-9)
}

func TestSplitWords(t *testing.T) {
	cs := testCharset()
	space := cs.Classes() - 1
	// "AB" space "$12.1" -> two words
	steps := []int{1, 0, 2, space, 0, 5, 3, 0, 4, 6, 3}
	data, shape := logits(cs.Classes(), steps, 0.8)
	line, err := decodeCTCGreedy(data, shape, 0)
	require.NoError(t, err)

	words := splitWords(line, cs)
	require.Len(t, words, 2)
	assert.Equal(t, "AB", words[0].text)
	assert.Equal(t, "$12.1", words[1].text)
	assert.Equal(t, 0, words[0].first)
	assert.Equal(t, 2, words[0].last)
	assert.InDelta(t, 0.8, words[1].confidence, 1e-6)

	x0, x1 := stepSpan(words[0], line.steps, 88, 88, 44)
	assert.InDelta(t, 0, x0, 1e-9)
	assert.InDelta(t, 12, x1, 1e-9)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "RUC 123", cleanText("  RUC\u200B \t 123 "))
	assert.Equal(t, "1", cleanText("\uFF11")) // fullwidth digit
	assert.Equal(t, "", cleanText(""))
}

func TestPostProcessDB(t *testing.T) {
	w, h := 40, 20
	prob := make([]float32, w*h)
	for y := 5; y < 10; y++ {
		for x := 4; x < 30; x++ {
			prob[y*w+x] = 0.9
		}
	}
	// weak blob below the box threshold
	for y := 14; y < 17; y++ {
		for x := 4; x < 8; x++ {
			prob[y*w+x] = 0.35
		}
	}

	regions := postProcessDB(prob, w, h, 0.3, 0.6, 1.5)
	require.Len(t, regions, 1)
	r := regions[0]
	assert.InDelta(t, 0.9, r.score, 1e-6)
	assert.Less(t, r.minX, 4)
	assert.Greater(t, r.maxX, 29)
	assert.GreaterOrEqual(t, r.minY, 0)
	assert.Less(t, r.maxY, h)

	assert.Nil(t, postProcessDB(prob, w+1, h, 0.3, 0.6, 1.5))
}

func TestPrepareDB_MultiplesOf32(t *testing.T) {
	img := testutil.CreateTestImage(1000, 500, image.White)
	in := prepareDB(img, 960)
	assert.Equal(t, 0, in.w%32)
	assert.Equal(t, 0, in.h%32)
	assert.LessOrEqual(t, in.w, 960)
	assert.Len(t, in.data, 3*in.w*in.h)

	rect := textRegion{minX: 0, minY: 0, maxX: in.w - 1, maxY: in.h - 1}.pageRect(in, img.Bounds())
	assert.Equal(t, img.Bounds(), rect)
}

func TestPrepareRec(t *testing.T) {
	img := testutil.CreateTestImage(100, 20, image.Black)
	data, tw, cw := prepareRec(img, 48, 1600)
	assert.Equal(t, 240, cw)
	assert.Equal(t, 240, tw)
	assert.Len(t, data, 3*48*tw)
	assert.InDelta(t, -1, data[0], 1e-6)

	_, tw, cw = prepareRec(testutil.CreateTestImage(2000, 10, image.Black), 48, 1600)
	assert.Equal(t, 1600, tw)
	assert.Equal(t, 1600, cw)
}

func TestEngine_WithModels(t *testing.T) {
	dir := os.Getenv(models.EnvModelsDir)
	if dir == "" || !onnx.Available("") {
		t.Skip("ONNX models or runtime not available")
	}
	eng, err := New(Config{ModelsDir: dir})
	if err != nil {
		t.Skipf("models not loadable: %v", err)
	}
	defer func() { _ = eng.Close() }()

	page := testutil.InvoicePage(3, 0)
	tokens, err := eng.Recognize(context.Background(), page, engine.Options{MinConfidence: 0.3})
	require.NoError(t, err)
	assert.NotEmpty(t, tokens)
	for _, tok := range tokens {
		assert.Equal(t, ID, tok.EngineID)
		assert.True(t, tok.BBox.Valid())
	}
}
