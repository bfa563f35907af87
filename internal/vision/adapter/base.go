package adapter

import (
	"time"

	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// Token counts assumed when a vendor omits usage.
const (
	FallbackInputTokens  = 800
	FallbackOutputTokens = 150
)

// Identity names a provider and carries its rate card. Adapters embed it.
type Identity struct {
	VendorName string
	ModelID    string
	// Display overrides ModelID in the provider name, e.g. for Azure deployments.
	Display string
	Rates   scoring.Pricing
}

func (i Identity) Name() string {
	if i.Display != "" {
		return i.VendorName + "/" + i.Display
	}
	return i.VendorName + "/" + i.ModelID
}

func (i Identity) Vendor() string           { return i.VendorName }
func (i Identity) Model() string            { return i.ModelID }
func (i Identity) Pricing() scoring.Pricing { return i.Rates }

// Result parses raw model output into a ProviderResult priced with the
// identity's rate card.
func (i Identity) Result(raw string, inputTokens, outputTokens int, latency time.Duration) (models.ProviderResult, error) {
	id, err := ParseIdentification(raw)
	if err != nil {
		return models.ProviderResult{}, err
	}
	if inputTokens <= 0 {
		inputTokens = FallbackInputTokens
	}
	if outputTokens <= 0 {
		outputTokens = FallbackOutputTokens
	}
	return models.NewProviderResult(i.Name(), i.ModelID, id, models.CallUsage{
		Latency:      latency,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      i.Rates.Estimate(inputTokens, outputTokens),
	}), nil
}
