package embedding

import (
	"fmt"
	"math"
)

// Threshold is the cosine similarity at or above which two album embeddings
// are considered the same real-world album.
const Threshold = 0.88

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. It returns 0 when either vector has zero magnitude.
//
// All vectors come from a single fixed-dimension model, so vectors of
// different lengths indicate a bug and cause a panic.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("embedding: vectors must be the same length (%d != %d)", len(a), len(b)))
	}

	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Same reports whether a and b represent the same album.
func Same(a, b []float32) bool {
	return CosineSimilarity(a, b) >= Threshold
}
