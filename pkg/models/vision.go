// Package models contains shared data models used across the SnapFind codebase.
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/scoring"
)

// VisionProvider is the capability every vision vendor adapter implements.
// Never call a vendor SDK from orchestration code; inject this interface.
type VisionProvider interface {
	// Name returns the unique provider key, e.g. "openai/gpt-4o".
	Name() string
	Vendor() string
	Model() string
	Pricing() scoring.Pricing
	// Analyse identifies the product in image. hint is optional user context.
	Analyse(ctx context.Context, image []byte, hint string) (ProviderResult, error)
}

// Identification is the structured answer a vision model returns.
type Identification struct {
	ProductName      string   `json:"product_name"`
	Brand            string   `json:"brand,omitempty"`
	Category         string   `json:"category"`
	KeyFeatures      []string `json:"key_features"`
	PrimaryQuery     string   `json:"primary_query"`
	AlternativeQuery string   `json:"alternative_query"`
	Confidence       string   `json:"confidence"`
	Notes            string   `json:"notes,omitempty"`
}

// CallUsage describes the cost side of one provider call.
type CallUsage struct {
	Latency      time.Duration
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// ProviderResult is one provider's answer for one image. It is immutable:
// construct it with NewProviderResult, which fixes the quality score.
type ProviderResult struct {
	provider string
	model    string
	id       Identification
	usage    CallUsage
	quality  float64
}

const maxKeyFeatures = 5

// NewProviderResult builds a result and computes its quality score once.
// Key features beyond the fifth are dropped and an empty alternative query
// falls back to the primary one.
func NewProviderResult(provider, model string, id Identification, usage CallUsage) ProviderResult {
	if len(id.KeyFeatures) > maxKeyFeatures {
		id.KeyFeatures = id.KeyFeatures[:maxKeyFeatures]
	}
	id.KeyFeatures = append([]string(nil), id.KeyFeatures...)
	if id.AlternativeQuery == "" {
		id.AlternativeQuery = id.PrimaryQuery
	}
	return ProviderResult{
		provider: provider,
		model:    model,
		id:       id,
		usage:    usage,
		quality: scoring.QualityScore(scoring.QualityInput{
			Confidence:   id.Confidence,
			ProductName:  id.ProductName,
			HasBrand:     id.Brand != "",
			FeatureCount: len(id.KeyFeatures),
			PrimaryQuery: id.PrimaryQuery,
		}),
	}
}

func (r ProviderResult) Provider() string      { return r.provider }
func (r ProviderResult) Model() string         { return r.model }
func (r ProviderResult) ProductName() string   { return r.id.ProductName }
func (r ProviderResult) Brand() string         { return r.id.Brand }
func (r ProviderResult) Category() string      { return r.id.Category }
func (r ProviderResult) PrimaryQuery() string  { return r.id.PrimaryQuery }
func (r ProviderResult) Confidence() string    { return r.id.Confidence }
func (r ProviderResult) Notes() string         { return r.id.Notes }
func (r ProviderResult) Usage() CallUsage      { return r.usage }
func (r ProviderResult) QualityScore() float64 { return r.quality }

func (r ProviderResult) AlternativeQuery() string { return r.id.AlternativeQuery }

// KeyFeatures returns a copy of the ordered feature list.
func (r ProviderResult) KeyFeatures() []string {
	return append([]string(nil), r.id.KeyFeatures...)
}

// ToQuery derives the search input from this result.
func (r ProviderResult) ToQuery() NormalizedQuery {
	return NormalizedQuery{
		ProductName:      r.id.ProductName,
		PrimaryQuery:     r.id.PrimaryQuery,
		AlternativeQuery: r.id.AlternativeQuery,
		Confidence:       r.id.Confidence,
		Brand:            r.id.Brand,
		Category:         r.id.Category,
		Notes:            fmt.Sprintf("[%s] %s", r.provider, r.id.Notes),
		Source:           r.provider,
	}
}

type providerResultJSON struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Identification
	LatencyMS    int64   `json:"latency_ms"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	QualityScore float64 `json:"quality_score"`
}

func (r ProviderResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(providerResultJSON{
		Provider:       r.provider,
		Model:          r.model,
		Identification: r.id,
		LatencyMS:      r.usage.Latency.Milliseconds(),
		InputTokens:    r.usage.InputTokens,
		OutputTokens:   r.usage.OutputTokens,
		CostUSD:        r.usage.CostUSD,
		QualityScore:   r.quality,
	})
}

// NormalizedQuery is what the search orchestrator needs from a vision result.
type NormalizedQuery struct {
	ProductName      string `json:"product_name"`
	PrimaryQuery     string `json:"primary_query"`
	AlternativeQuery string `json:"alternative_query,omitempty"`
	Confidence       string `json:"confidence,omitempty"`
	Brand            string `json:"brand,omitempty"`
	Category         string `json:"category,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Source           string `json:"source,omitempty"`
}

// VisionCall is one row of the provider call ledger.
type VisionCall struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Success      bool      `json:"success"`
	LatencyMS    int64     `json:"latency_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProviderUsage aggregates the ledger per provider.
type ProviderUsage struct {
	Provider     string  `json:"provider"`
	Calls        int     `json:"calls"`
	Failures     int     `json:"failures"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}
