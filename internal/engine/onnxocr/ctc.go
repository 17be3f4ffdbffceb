package onnxocr

import (
	"errors"
	"fmt"
	"math"
)

// decodedChar is one collapsed CTC symbol with the time step it was read at.
type decodedChar struct {
	class int
	prob  float64
	step  int
}

// decodedLine is the greedy decoding of one recognizer output row.
type decodedLine struct {
	chars []decodedChar
	steps int
}

// decodeCTCGreedy decodes a [1, T, C] output: argmax per step, then
// repeats and blanks are collapsed.
func decodeCTCGreedy(logits []float32, shape []int64, blank int) (decodedLine, error) {
	if len(shape) != 3 {
		return decodedLine{}, fmt.Errorf("expected [N, T, C] output, got %v", shape)
	}
	steps, classes := int(shape[1]), int(shape[2])
	if steps <= 0 || classes <= 0 {
		return decodedLine{}, errors.New("empty recognizer output")
	}
	if len(logits) < steps*classes {
		return decodedLine{}, fmt.Errorf("output has %d values, want %d", len(logits), steps*classes)
	}

	line := decodedLine{steps: steps}
	prev := -1
	for t := range steps {
		row := logits[t*classes : (t+1)*classes]
		idx := argmax(row)
		if idx != blank && idx != prev {
			line.chars = append(line.chars, decodedChar{class: idx, prob: probabilityOf(row, idx), step: t})
		}
		prev = idx
	}
	return line, nil
}

func argmax(v []float32) int {
	idx := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[idx] {
			idx = i
		}
	}
	return idx
}

// probabilityOf returns v[idx] when v already sums to one, otherwise the
// softmax probability of v[idx].
func probabilityOf(v []float32, idx int) float64 {
	var sum float64
	lo, hi := v[0], v[0]
	for _, x := range v {
		sum += float64(x)
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if sum > 0.99 && sum < 1.01 && lo >= 0 && hi <= 1 {
		return float64(v[idx])
	}
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - hi))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(v[idx]-hi)) / denom
}
