package domain

import "math"

// CosineSimilarity returns the raw cosine of a and b in [-1, 1].
// Length mismatch, empty input, and zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp(sim, -1, 1)
}

// MusicSimilarity is the cosine of two profiles clamped to [0, 1].
// Negative correlation counts the same as orthogonal.
func MusicSimilarity(a, b MusicProfile) float64 {
	if !a.Present() || !b.Present() {
		return 0
	}
	return clamp(CosineSimilarity(a, b), 0, 1)
}

// FaceSimilarity converts a face distance into a similarity in [0, 1].
// Distances of 1 or more map to 0; invalid distances map to 0.
func FaceSimilarity(distance float64) float64 {
	if !ValidDistance(distance) {
		return 0
	}
	return 1 - math.Min(distance, 1)
}

// ValidDistance reports whether d is a usable face distance.
func ValidDistance(d float64) bool {
	return d >= 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}

// CosineDistance returns 1 - cosine similarity for face embeddings, in [0, 2].
// Invalid input returns the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}

	sim := clamp(dot/(math.Sqrt(normA)*math.Sqrt(normB)), -1, 1)
	return 1 - sim
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
