package usecase

import (
	"math"
	"strings"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

const (
	// Extractions shorter than this are statistically less reliable and get
	// penalized regardless of per-word confidence.
	minReliableWordCount = 10

	shortTextFactor = 0.8
	fullTextFactor  = 1.0

	// Std-dev bands over the engine's 0..100 confidence scale. Uniform
	// per-word confidence is a positive signal, noisy confidence a negative one.
	highConsistencyStdDev   = 10.0
	mediumConsistencyStdDev = 20.0

	highConsistencyFactor   = 1.1
	mediumConsistencyFactor = 1.0
	lowConsistencyFactor    = 0.9
)

// ScoreExtraction reduces per-word OCR confidences to a single normalized
// score in [0,1]. Deterministic and side-effect free.
//
// The quality factors are combined by averaging, not multiplying. That is the
// historical behavior this scoring pipeline was tuned against; switching to a
// product would shift every threshold and needs revalidation first.
func ScoreExtraction(extractedText string, wordConfidences []float64) float64 {
	if strings.TrimSpace(extractedText) == "" {
		return 0.0
	}

	valid := wordConfidences[:0:0]
	for _, c := range wordConfidences {
		if c == domain.SentinelConfidence {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return 0.0
	}

	baseScore := mean(valid) / 100.0

	lengthFactor := shortTextFactor
	if len(strings.Fields(extractedText)) >= minReliableWordCount {
		lengthFactor = fullTextFactor
	}

	consistencyFactor := lowConsistencyFactor
	switch sd := stdDev(valid); {
	case sd < highConsistencyStdDev:
		consistencyFactor = highConsistencyFactor
	case sd < mediumConsistencyStdDev:
		consistencyFactor = mediumConsistencyFactor
	}

	final := baseScore * mean([]float64{lengthFactor, consistencyFactor})

	return round4(math.Max(0.0, math.Min(1.0, final)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
