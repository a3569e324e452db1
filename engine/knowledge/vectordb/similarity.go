package vectordb

import (
	"math"
	"strings"
)

// Metric is the similarity function of a collection.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric accepts common spellings and defaults to cosine.
func ParseMetric(raw string) Metric {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "euclid", "euclidean", "l2":
		return MetricEuclidean
	case "dot", "dotproduct", "inner_product", "ip":
		return MetricDot
	default:
		return MetricCosine
	}
}

// Score returns a similarity where larger means closer. Euclidean distance d
// is reported as 1/(1+d).
func (m Metric) Score(a, b []float32) float64 {
	switch m {
	case MetricDot:
		return dotProduct(a, b)
	case MetricEuclidean:
		return distanceToScore(euclideanDistance(a, b))
	default:
		return cosineSimilarity(a, b)
	}
}

func distanceToScore(d float64) float64 {
	return 1 / (1 + d)
}

func dotProduct(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func euclideanDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
