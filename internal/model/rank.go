package model

import (
	"math"
	"sort"
)

func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - max))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Rank pairs classes with their probabilities and sorts them, highest first.
// Extra values without a class are dropped.
func Rank(classes []string, probs []float32) Predictions {
	n := len(classes)
	if len(probs) < n {
		n = len(probs)
	}
	out := make(Predictions, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Score{Class: classes[i], Confidence: probs[i]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
