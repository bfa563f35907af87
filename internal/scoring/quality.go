// Package scoring holds the ranking and cost formulas shared by the vision
// and search orchestrators. Every function here is pure.
package scoring

import (
	"math"
	"unicode/utf8"
)

// Confidence levels reported by vision providers.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const (
	maxFeatures       = 5
	minSpecificQuery  = 5
	unknownConfWeight = 0.3
)

var confidenceWeights = map[string]float64{
	ConfidenceHigh:   1.0,
	ConfidenceMedium: 0.6,
	ConfidenceLow:    0.2,
}

// QualityInput is the subset of a vision result the quality score depends on.
type QualityInput struct {
	Confidence   string
	ProductName  string
	HasBrand     bool
	FeatureCount int
	PrimaryQuery string
}

// ConfidenceWeight returns the multiplier for a confidence label.
// Unrecognised labels weigh 0.3.
func ConfidenceWeight(confidence string) float64 {
	if w, ok := confidenceWeights[confidence]; ok {
		return w
	}
	return unknownConfWeight
}

// QualityScore ranks a vision result: confidence weight times completeness.
//
// completeness = name(1) + brand(1) + 0.5*min(features,5)/5 + specific query(1),
// where a query is specific when it is longer than five characters.
func QualityScore(in QualityInput) float64 {
	var completeness float64
	if in.ProductName != "" {
		completeness++
	}
	if in.HasBrand {
		completeness++
	}
	features := in.FeatureCount
	if features > maxFeatures {
		features = maxFeatures
	}
	if features > 0 {
		completeness += 0.5 * float64(features) / maxFeatures
	}
	if utf8.RuneCountInString(in.PrimaryQuery) > minSpecificQuery {
		completeness++
	}
	return ConfidenceWeight(in.Confidence) * completeness
}

// ItemScore ranks a search item by rating weighted with review volume.
// Items missing either signal score zero.
func ItemScore(rating *float64, reviews *int) float64 {
	if rating == nil || reviews == nil || *rating <= 0 || *reviews <= 0 {
		return 0
	}
	return *rating * math.Log10(float64(*reviews)+1)
}

// Eligible reports whether any of the fulfilment signals holds.
func Eligible(fulfilled, soldByPlatform, membership bool) bool {
	return fulfilled || soldByPlatform || membership
}
